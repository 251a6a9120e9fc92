package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Plan is the catalog entry for a rentable bot. The catalog itself is
// managed elsewhere; botpay only reads it to fix commercial terms at
// purchase time and to label reconciliation rows.
type Plan struct {
	ID          string     `json:"id" gorm:"primaryKey;type:uuid"`
	Code        string     `json:"code" gorm:"not null;uniqueIndex"`
	Name        string     `json:"name" gorm:"not null"`
	Description string     `json:"description"`
	Active      bool       `json:"active" gorm:"not null;default:true"`
	Tiers       []PlanTier `json:"tiers" gorm:"foreignKey:PlanID"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PlanTier prices one rental duration of a plan in USD.
type PlanTier struct {
	ID           string          `json:"id" gorm:"primaryKey;type:uuid"`
	PlanID       string          `json:"plan_id" gorm:"not null;uniqueIndex:idx_plan_tiers_plan_duration"`
	DurationDays int             `json:"duration_days" gorm:"not null;uniqueIndex:idx_plan_tiers_plan_duration"`
	Tier         string          `json:"tier" gorm:"not null"`
	PriceUSD     decimal.Decimal `json:"price_usd" gorm:"type:decimal(12,2);not null"`
	CreatedAt    time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (t *PlanTier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
