package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentStatus string
type ProvisioningStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusExpired   PaymentStatus = "expired"

	// Provisioning outcome is metadata on top of a completed payment,
	// never a primary status: the charge itself already succeeded.
	ProvisioningNone        ProvisioningStatus = "none"
	ProvisioningProvisioned ProvisioningStatus = "provisioned"
	ProvisioningNeedsReview ProvisioningStatus = "needs_review"
)

// transitionPredecessors encodes the state machine. A transition is legal
// only when the current status is one of the target's predecessors; the
// store applies it as a conditional update so concurrent callers racing to
// the same terminal state converge instead of double-applying.
var transitionPredecessors = map[PaymentStatus][]PaymentStatus{
	PaymentStatusApproved:  {PaymentStatusPending},
	PaymentStatusCompleted: {PaymentStatusPending, PaymentStatusApproved},
	PaymentStatusFailed:    {PaymentStatusPending, PaymentStatusApproved},
	PaymentStatusCancelled: {PaymentStatusPending, PaymentStatusApproved},
	PaymentStatusExpired:   {PaymentStatusPending},
}

func PredecessorsOf(status PaymentStatus) []PaymentStatus {
	return transitionPredecessors[status]
}

func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return true
	}
	return false
}

// BuyerVisible maps internal statuses onto the set a buyer may see.
// Expiry is an internal bookkeeping state; buyers see it as cancelled.
func (s PaymentStatus) BuyerVisible() PaymentStatus {
	if s == PaymentStatusExpired {
		return PaymentStatusCancelled
	}
	return s
}

// PaymentIntent is the durable record of one purchase attempt. The
// commercial terms (amounts, rate, plan, duration) are snapshotted at
// creation and never recomputed, so a buyer is charged exactly what was
// quoted even if the exchange rate moves before completion.
type PaymentIntent struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	BuyerID  string `json:"buyer_id" gorm:"not null;index;uniqueIndex:idx_intents_buyer_order_ref"`
	OrderRef string `json:"order_ref" gorm:"not null;uniqueIndex:idx_intents_buyer_order_ref"`

	PlanID          string          `json:"plan_id" gorm:"not null;index"`
	DurationDays    int             `json:"duration_days" gorm:"not null"`
	PriceTier       string          `json:"price_tier"`
	AmountPrimary   decimal.Decimal `json:"amount_primary" gorm:"type:decimal(12,2);not null"`
	AmountSecondary decimal.Decimal `json:"amount_secondary" gorm:"type:decimal(18,2);not null"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate" gorm:"type:decimal(18,6);not null"`
	RateSource      string          `json:"rate_source"`

	Status             PaymentStatus      `json:"status" gorm:"not null;default:'pending';index"`
	ProvisioningStatus ProvisioningStatus `json:"provisioning_status" gorm:"not null;default:'none'"`

	ExternalOrderID *string `json:"external_order_id" gorm:"index"`
	ExternalTxnID   *string `json:"external_txn_id"`
	ExternalPayerID *string `json:"external_payer_id"`
	ApprovalURL     *string `json:"approval_url"`

	EntitlementID *string `json:"entitlement_id"`
	ErrorMessage  string  `json:"error_message"`
	RetryCount    int     `json:"retry_count" gorm:"default:0"`

	ExpiresAt   time.Time  `json:"expires_at" gorm:"not null"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (p *PaymentIntent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

type CreatePurchaseRequest struct {
	BuyerID      string `json:"buyer_id"`
	PlanID       string `json:"plan_id"`
	DurationDays int    `json:"duration_days"`
	OrderRef     string `json:"order_ref"`
}

type CreatePurchaseResponse struct {
	PaymentID       string          `json:"payment_id"`
	Status          PaymentStatus   `json:"status"`
	ApprovalURL     string          `json:"approval_url,omitempty"`
	AmountPrimary   decimal.Decimal `json:"amount_primary"`
	AmountSecondary decimal.Decimal `json:"amount_secondary"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

type ConfirmPurchaseRequest struct {
	PayerID string `json:"payer_id"`
}

// PaymentView is the buyer-facing projection of a PaymentIntent. It never
// exposes the needs-review provisioning outcome; the payment did succeed
// and review is an operator concern.
type PaymentView struct {
	PaymentID       string          `json:"payment_id"`
	Status          PaymentStatus   `json:"status"`
	PlanID          string          `json:"plan_id"`
	DurationDays    int             `json:"duration_days"`
	AmountPrimary   decimal.Decimal `json:"amount_primary"`
	AmountSecondary decimal.Decimal `json:"amount_secondary"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	ApprovalURL     string          `json:"approval_url,omitempty"`
	EntitlementID   string          `json:"entitlement_id,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (p *PaymentIntent) View() *PaymentView {
	view := &PaymentView{
		PaymentID:       p.ID,
		Status:          p.Status.BuyerVisible(),
		PlanID:          p.PlanID,
		DurationDays:    p.DurationDays,
		AmountPrimary:   p.AmountPrimary,
		AmountSecondary: p.AmountSecondary,
		ExchangeRate:    p.ExchangeRate,
		CompletedAt:     p.CompletedAt,
		CreatedAt:       p.CreatedAt,
	}
	if p.ApprovalURL != nil {
		view.ApprovalURL = *p.ApprovalURL
	}
	if p.EntitlementID != nil {
		view.EntitlementID = *p.EntitlementID
	}
	return view
}
