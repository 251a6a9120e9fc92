package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RateQuoteSource string

const (
	RateSourceLive          RateQuoteSource = "live"
	RateSourceStaleFallback RateQuoteSource = "stale-fallback"
)

// RateQuote is a cache-entry value, never persisted as such: each
// PaymentIntent copies the numeric rate at creation time instead of
// referencing the cache. Rate is USD per one secondary unit, so
// amount_secondary = amount_primary / rate.
type RateQuote struct {
	Pair      string          `json:"pair"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetched_at"`
	Source    RateQuoteSource `json:"source"`
}

// ReconciliationClass buckets payment/provisioning outcomes for operators.
type ReconciliationClass string

const (
	ReconSuccess     ReconciliationClass = "SUCCESS"
	ReconNeedsReview ReconciliationClass = "NEEDS_MANUAL_REVIEW"
	ReconFailed      ReconciliationClass = "FAILED"
	ReconPending     ReconciliationClass = "PENDING"
)

// Classify recomputes the operator-facing bucket from the intent's current
// state on every read; the classification is never stored, so it cannot
// drift from the source row.
func Classify(p *PaymentIntent) ReconciliationClass {
	switch p.Status {
	case PaymentStatusCompleted:
		if p.EntitlementID != nil && *p.EntitlementID != "" {
			return ReconSuccess
		}
		return ReconNeedsReview
	case PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusExpired:
		return ReconFailed
	}
	return ReconPending
}

// ReconciliationRow joins a payment intent with its plan display metadata.
type ReconciliationRow struct {
	PaymentID          string              `json:"payment_id"`
	BuyerID            string              `json:"buyer_id"`
	PlanID             string              `json:"plan_id"`
	PlanName           string              `json:"plan_name"`
	Status             PaymentStatus       `json:"status"`
	ProvisioningStatus ProvisioningStatus  `json:"provisioning_status"`
	Classification     ReconciliationClass `json:"classification"`
	AmountPrimary      decimal.Decimal     `json:"amount_primary"`
	AmountSecondary    decimal.Decimal     `json:"amount_secondary"`
	EntitlementID      string              `json:"entitlement_id,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	RetryCount         int                 `json:"retry_count"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}
