package stores

import (
	"context"
	"errors"
	"time"

	"botpay/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventStore struct {
	BaseStore
}

func CreateWebhookEventStore(db *gorm.DB) *WebhookEventStore {
	return &WebhookEventStore{BaseStore: BaseStore{db: db}}
}

// Record appends the event unless its external event id is already stored.
// Returns created=false on redelivery; the original audit row stands.
func (s *WebhookEventStore) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	res := s.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *WebhookEventStore) GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.GetDB(ctx).Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (s *WebhookEventStore) LinkPaymentIntent(ctx context.Context, id, paymentIntentID string) error {
	return s.GetDB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payment_intent_id": paymentIntentID,
			"updated_at":        time.Now(),
		}).Error
}

func (s *WebhookEventStore) MarkProcessed(ctx context.Context, id string) error {
	now := time.Now()
	return s.GetDB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

func (s *WebhookEventStore) ListRecent(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	var events []*models.WebhookEvent
	query := s.GetDB(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
