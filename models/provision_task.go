package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProvisionTaskStatus string

const (
	ProvisionTaskStatusPending   ProvisionTaskStatus = "pending"
	ProvisionTaskStatusRunning   ProvisionTaskStatus = "running"
	ProvisionTaskStatusCompleted ProvisionTaskStatus = "completed"
	ProvisionTaskStatusExhausted ProvisionTaskStatus = "exhausted"
)

// ProvisionTask is a durable work item for the downstream entitlement call.
// Retries live in this table rather than in-memory timers so they survive
// process restarts. The unique index on PaymentIntentID pins the invariant
// that a completed payment is provisioned at most once.
type ProvisionTask struct {
	ID              string              `json:"id" gorm:"primaryKey;type:uuid"`
	PaymentIntentID string              `json:"payment_intent_id" gorm:"not null;uniqueIndex"`
	Status          ProvisionTaskStatus `json:"status" gorm:"not null;default:'pending';index"`
	Attempts        int                 `json:"attempts" gorm:"default:0"`
	MaxAttempts     int                 `json:"max_attempts" gorm:"default:5"`
	LastError       string              `json:"last_error"`
	LastAttemptAt   *time.Time          `json:"last_attempt_at"`
	NextAttemptAt   *time.Time          `json:"next_attempt_at"`
	CompletedAt     *time.Time          `json:"completed_at"`
	CreatedAt       time.Time           `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
}

func (t *ProvisionTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}
