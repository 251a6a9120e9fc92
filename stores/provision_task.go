package stores

import (
	"context"
	"errors"
	"time"

	"botpay/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProvisionTaskStore struct {
	BaseStore
}

func CreateProvisionTaskStore(db *gorm.DB) *ProvisionTaskStore {
	return &ProvisionTaskStore{BaseStore: BaseStore{db: db}}
}

// Enqueue creates the work item for a payment intent, at most once. Callers
// run this inside the same transaction as the COMPLETED transition, so the
// queue only ever holds tasks for payments whose transition actually won.
func (s *ProvisionTaskStore) Enqueue(ctx context.Context, paymentIntentID string, maxAttempts int) (bool, error) {
	task := &models.ProvisionTask{
		PaymentIntentID: paymentIntentID,
		Status:          models.ProvisionTaskStatusPending,
		MaxAttempts:     maxAttempts,
	}
	res := s.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_intent_id"}},
		DoNothing: true,
	}).Create(task)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *ProvisionTaskStore) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.ProvisionTask, error) {
	var task models.ProvisionTask
	err := s.GetDB(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// GetDue lists pending tasks whose next attempt time has passed.
func (s *ProvisionTaskStore) GetDue(ctx context.Context, limit int) ([]*models.ProvisionTask, error) {
	var tasks []*models.ProvisionTask
	err := s.GetDB(ctx).
		Where("status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			models.ProvisionTaskStatusPending, time.Now()).
		Order("created_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// Claim moves a due pending task to running and bumps its attempt counter.
// The status guard makes the claim exclusive: a second worker polling the
// same task observes zero rows and skips it.
func (s *ProvisionTaskStore) Claim(ctx context.Context, id string) error {
	now := time.Now()
	res := s.GetDB(ctx).Model(&models.ProvisionTask{}).
		Where("id = ? AND status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			id, models.ProvisionTaskStatusPending, now).
		Updates(map[string]interface{}{
			"status":          models.ProvisionTaskStatusRunning,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTransitionConflict
	}
	return nil
}

func (s *ProvisionTaskStore) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now()
	return s.GetDB(ctx).Model(&models.ProvisionTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.ProvisionTaskStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}).Error
}

// MarkRetry parks the task until nextAttemptAt with the failure detail.
func (s *ProvisionTaskStore) MarkRetry(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	return s.GetDB(ctx).Model(&models.ProvisionTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.ProvisionTaskStatusPending,
			"last_error":      errMsg,
			"next_attempt_at": nextAttemptAt,
			"updated_at":      time.Now(),
		}).Error
}

func (s *ProvisionTaskStore) MarkExhausted(ctx context.Context, id, errMsg string) error {
	return s.GetDB(ctx).Model(&models.ProvisionTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.ProvisionTaskStatusExhausted,
			"last_error": errMsg,
			"updated_at": time.Now(),
		}).Error
}

// NextAttemptDelay is the backoff ladder between provisioning retries.
func NextAttemptDelay(attempts int) time.Duration {
	delays := []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
		30 * time.Minute,
		2 * time.Hour,
	}
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}
