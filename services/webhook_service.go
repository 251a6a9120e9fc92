package services

import (
	"context"
	"encoding/json"
	"errors"

	"botpay/models"
	"botpay/stores"
	"botpay/utils"
)

// WebhookService ingests gateway notifications. Every event is recorded
// once, keyed by the gateway's event id, then applied as a conditional
// state transition. Redeliveries and confirm/webhook races both resolve to
// the same final state because losing a transition race is treated as
// convergence, not failure.
type WebhookService struct {
	intents     *stores.PaymentIntentStore
	events      *stores.WebhookEventStore
	tasks       *stores.ProvisionTaskStore
	provisioner *ProvisioningService
	maxAttempts int
	logger      *utils.Logger
}

func NewWebhookService(
	intents *stores.PaymentIntentStore,
	events *stores.WebhookEventStore,
	tasks *stores.ProvisionTaskStore,
	provisioner *ProvisioningService,
	maxAttempts int,
) *WebhookService {
	return &WebhookService{
		intents:     intents,
		events:      events,
		tasks:       tasks,
		provisioner: provisioner,
		maxAttempts: maxAttempts,
		logger:      utils.NewLogger("webhook_service"),
	}
}

// Handle processes one verified notification body. The caller has already
// checked the signature; this layer owns dedupe, ordering and transitions.
func (s *WebhookService) Handle(ctx context.Context, payload []byte) (*models.GatewayEvent, error) {
	event, err := models.ParseGatewayEvent(payload)
	if err != nil || event.ID == "" || event.EventType == "" {
		return nil, utils.ErrWebhookInvalidPayload
	}

	var raw models.JSON
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, utils.ErrWebhookInvalidPayload
	}

	record := &models.WebhookEvent{
		EventID:   event.ID,
		EventType: event.EventType,
		Payload:   raw,
	}
	created, err := s.events.Record(ctx, record)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := s.events.GetByEventID(ctx, event.ID)
		if err != nil {
			return nil, err
		}
		if existing.Processed {
			// Pure redelivery; acknowledge without reapplying.
			return event, nil
		}
		// Recorded but never finished (crash between record and apply).
		// Resume with the stored row's id.
		record = existing
	}

	kind := event.Kind()
	if kind == models.EventKindUnknown {
		// Kept for audit; no transition to apply.
		s.logger.Info(ctx, "unknown webhook event type stored", map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.EventType,
		})
		return event, s.events.MarkProcessed(ctx, record.ID)
	}

	intent, err := s.intents.FindByExternalOrderID(ctx, event.Resource.OrderID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			// Left unprocessed so a later redelivery can retry once the
			// order exists; webhooks can outrun the create flow.
			return nil, utils.ErrWebhookUnknownOrder
		}
		return nil, err
	}

	if err := s.events.LinkPaymentIntent(ctx, record.ID, intent.ID); err != nil {
		return nil, err
	}

	completedNow, err := s.applyTransition(ctx, kind, event, intent)
	if err != nil {
		return nil, err
	}

	if err := s.events.MarkProcessed(ctx, record.ID); err != nil {
		return nil, err
	}

	if completedNow {
		if provErr := s.provisioner.ProcessPaymentIntent(ctx, intent.ID); provErr != nil {
			s.logger.Warn(ctx, "inline provisioning attempt failed", map[string]interface{}{
				"payment_id": intent.ID,
				"error":      provErr.Error(),
			})
		}
	}

	return event, nil
}

// applyTransition maps the event kind onto the state machine. A conflict
// means another actor already moved the intent; the event is still counted
// as processed because the system has converged on a terminal answer.
func (s *WebhookService) applyTransition(ctx context.Context, kind models.EventKind, event *models.GatewayEvent, intent *models.PaymentIntent) (bool, error) {
	switch kind {
	case models.EventKindOrderApproved:
		fields := map[string]interface{}{}
		if event.Resource.PayerID != "" {
			fields["external_payer_id"] = event.Resource.PayerID
		}
		err := s.intents.TransitionTo(ctx, intent.ID, models.PaymentStatusApproved, fields)
		return false, ignoreConflict(err)

	case models.EventKindOrderCompleted:
		fields := map[string]interface{}{}
		if event.Resource.TransactionID != "" {
			fields["external_txn_id"] = event.Resource.TransactionID
		}
		if event.Resource.PayerID != "" {
			fields["external_payer_id"] = event.Resource.PayerID
		}
		err := s.intents.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := s.intents.TransitionTo(txCtx, intent.ID, models.PaymentStatusCompleted, fields); err != nil {
				return err
			}
			_, err := s.tasks.Enqueue(txCtx, intent.ID, s.maxAttempts)
			return err
		})
		if err != nil {
			if errors.Is(err, stores.ErrTransitionConflict) {
				s.logger.Info(ctx, "completion already applied", map[string]interface{}{
					"payment_id": intent.ID,
					"event_id":   event.ID,
				})
				return false, nil
			}
			return false, err
		}
		s.logger.Info(ctx, "payment completed via webhook", map[string]interface{}{
			"payment_id": intent.ID,
			"event_id":   event.ID,
		})
		return true, nil

	case models.EventKindOrderFailed:
		err := s.intents.TransitionTo(ctx, intent.ID, models.PaymentStatusFailed, map[string]interface{}{
			"error_message": event.Resource.Reason,
		})
		return false, ignoreConflict(err)

	case models.EventKindOrderCancelled:
		err := s.intents.TransitionTo(ctx, intent.ID, models.PaymentStatusCancelled, nil)
		return false, ignoreConflict(err)
	}

	return false, nil
}

func ignoreConflict(err error) error {
	if errors.Is(err, stores.ErrTransitionConflict) {
		return nil
	}
	return err
}
