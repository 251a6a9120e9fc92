package stores

import (
	"context"
	"errors"
	"time"

	"botpay/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentIntentStore struct {
	BaseStore
}

func CreatePaymentIntentStore(db *gorm.DB) *PaymentIntentStore {
	return &PaymentIntentStore{BaseStore: BaseStore{db: db}}
}

// Create inserts the intent unless one already exists for the same
// (buyer, order_ref) pair. On conflict it returns the pre-existing record
// and created=false, giving callers create-or-fetch semantics instead of a
// duplicate-key error. This is the only path that sets the commercial-terms
// snapshot; nothing else may touch those columns.
func (s *PaymentIntentStore) Create(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, bool, error) {
	res := s.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "buyer_id"}, {Name: "order_ref"}},
		DoNothing: true,
	}).Create(intent)
	if res.Error != nil {
		return nil, false, res.Error
	}

	if res.RowsAffected == 0 {
		existing, err := s.FindByOrderRef(ctx, intent.BuyerID, intent.OrderRef)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return intent, true, nil
}

// TransitionTo applies the state machine as a conditional update: the row
// changes only if its current status is an allowed predecessor of next.
// The loser of a race observes ErrTransitionConflict and must re-read;
// nothing is overwritten unconditionally.
func (s *PaymentIntentStore) TransitionTo(ctx context.Context, id string, next models.PaymentStatus, fields map[string]interface{}) error {
	preds := models.PredecessorsOf(next)
	if len(preds) == 0 {
		return ErrInvalidTransition
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": now,
	}
	if next == models.PaymentStatusCompleted {
		updates["completed_at"] = now
	}
	for k, v := range fields {
		updates[k] = v
	}

	res := s.GetDB(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status IN ?", id, preds).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return nil
}

// AttachGatewayOrder records the external order id and approval URL on a
// still-pending intent. This is data enrichment, not a transition.
func (s *PaymentIntentStore) AttachGatewayOrder(ctx context.Context, id, externalOrderID, approvalURL string) error {
	res := s.GetDB(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusPending).
		Updates(map[string]interface{}{
			"external_order_id": externalOrderID,
			"approval_url":      approvalURL,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return nil
}

// MarkProvisioned sets the entitlement id on a completed intent that has
// not been provisioned yet. The guard on provisioning_status keeps a
// duplicate downstream success from rewriting the entitlement.
func (s *PaymentIntentStore) MarkProvisioned(ctx context.Context, id, entitlementID string) error {
	res := s.GetDB(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ? AND provisioning_status = ?",
			id, models.PaymentStatusCompleted, models.ProvisioningNone).
		Updates(map[string]interface{}{
			"provisioning_status": models.ProvisioningProvisioned,
			"entitlement_id":      entitlementID,
			"error_message":       "",
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return nil
}

// MarkNeedsReview parks a completed-but-unprovisioned intent for operator
// action once the retry budget is spent. The payment stays completed; it is
// never rolled back.
func (s *PaymentIntentStore) MarkNeedsReview(ctx context.Context, id, errMsg string, retryCount int) error {
	res := s.GetDB(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ? AND provisioning_status = ?",
			id, models.PaymentStatusCompleted, models.ProvisioningNone).
		Updates(map[string]interface{}{
			"provisioning_status": models.ProvisioningNeedsReview,
			"error_message":       errMsg,
			"retry_count":         retryCount,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return nil
}

// RecordProvisioningFailure stores the last failure detail between retries.
func (s *PaymentIntentStore) RecordProvisioningFailure(ctx context.Context, id, errMsg string, retryCount int) error {
	return s.GetDB(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusCompleted).
		Updates(map[string]interface{}{
			"error_message": errMsg,
			"retry_count":   retryCount,
			"updated_at":    time.Now(),
		}).Error
}

// GetByID applies expiry lazily: a pending intent read past its expires_at
// is transitioned to expired first, so callers never observe a live-looking
// record that the gateway would refuse anyway.
func (s *PaymentIntentStore) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := s.GetDB(ctx).First(&intent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if intent.Status == models.PaymentStatusPending && time.Now().After(intent.ExpiresAt) {
		err := s.TransitionTo(ctx, id, models.PaymentStatusExpired, nil)
		if err != nil && !errors.Is(err, ErrTransitionConflict) {
			return nil, err
		}
		if err := s.GetDB(ctx).First(&intent, "id = ?", id).Error; err != nil {
			return nil, err
		}
	}

	return &intent, nil
}

func (s *PaymentIntentStore) FindByOrderRef(ctx context.Context, buyerID, orderRef string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.GetDB(ctx).Where("buyer_id = ? AND order_ref = ?", buyerID, orderRef).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (s *PaymentIntentStore) FindByExternalOrderID(ctx context.Context, externalOrderID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := s.GetDB(ctx).Where("external_order_id = ?", externalOrderID).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// ExpireStale sweeps pending intents past their expiry window. Used by the
// background worker; the lazy path in GetByID covers reads in between.
func (s *PaymentIntentStore) ExpireStale(ctx context.Context) (int64, error) {
	res := s.GetDB(ctx).Model(&models.PaymentIntent{}).
		Where("status = ? AND expires_at <= ?", models.PaymentStatusPending, time.Now()).
		Updates(map[string]interface{}{
			"status":     models.PaymentStatusExpired,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (s *PaymentIntentStore) List(ctx context.Context, limit, offset int) ([]*models.PaymentIntent, error) {
	var intents []*models.PaymentIntent
	query := s.GetDB(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}
