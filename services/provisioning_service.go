package services

import (
	"context"
	"errors"
	"time"

	"botpay/models"
	"botpay/provisioning"
	"botpay/stores"
	"botpay/utils"
)

// ProvisioningService drives the downstream entitlement hand-off. Work items
// live in the provision task queue; each run claims a task exclusively,
// calls the fulfillment backend once, and either completes, reschedules or
// exhausts the task. A completed payment is never rolled back: when the
// retry budget runs out the intent is parked for manual review instead.
type ProvisioningService struct {
	intents      *stores.PaymentIntentStore
	tasks        *stores.ProvisionTaskStore
	entitlements provisioning.EntitlementService
	maxAttempts  int
	logger       *utils.Logger
}

func NewProvisioningService(
	intents *stores.PaymentIntentStore,
	tasks *stores.ProvisionTaskStore,
	entitlements provisioning.EntitlementService,
	maxAttempts int,
) *ProvisioningService {
	return &ProvisioningService{
		intents:      intents,
		tasks:        tasks,
		entitlements: entitlements,
		maxAttempts:  maxAttempts,
		logger:       utils.NewLogger("provisioning_service"),
	}
}

// EnqueueForIntent creates the work item for a completed payment. Safe to
// call repeatedly; only the first call inserts.
func (s *ProvisioningService) EnqueueForIntent(ctx context.Context, paymentIntentID string) (bool, error) {
	return s.tasks.Enqueue(ctx, paymentIntentID, s.maxAttempts)
}

// ProcessPaymentIntent runs the task for one payment immediately, used for
// the inline attempt right after completion.
func (s *ProvisioningService) ProcessPaymentIntent(ctx context.Context, paymentIntentID string) error {
	task, err := s.tasks.GetByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return err
	}
	return s.runTask(ctx, task)
}

// ProcessDueTasks is the worker entry point: claim and run every pending
// task whose next attempt time has passed.
func (s *ProvisioningService) ProcessDueTasks(ctx context.Context, batchSize int) (int, error) {
	tasks, err := s.tasks.GetDue(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, task := range tasks {
		if err := s.runTask(ctx, task); err != nil {
			if errors.Is(err, stores.ErrTransitionConflict) {
				continue
			}
			s.logger.Error(ctx, "provision task run failed", map[string]interface{}{
				"task_id":    task.ID,
				"payment_id": task.PaymentIntentID,
				"error":      err.Error(),
			})
			continue
		}
		processed++
	}
	return processed, nil
}

func (s *ProvisioningService) runTask(ctx context.Context, task *models.ProvisionTask) error {
	if err := s.tasks.Claim(ctx, task.ID); err != nil {
		return err
	}
	task.Attempts++

	intent, err := s.intents.GetByID(ctx, task.PaymentIntentID)
	if err != nil {
		return err
	}

	// A duplicate task run after the intent was already provisioned just
	// closes the task.
	if intent.ProvisioningStatus != models.ProvisioningNone {
		return s.tasks.MarkCompleted(ctx, task.ID)
	}

	resp, err := s.entitlements.Provision(ctx, &provisioning.EntitlementRequest{
		BuyerID:          intent.BuyerID,
		PlanID:           intent.PlanID,
		DurationDays:     intent.DurationDays,
		PaymentReference: intent.ID,
	})
	if err != nil {
		return s.handleFailure(ctx, task, intent, err)
	}

	if err := s.intents.MarkProvisioned(ctx, intent.ID, resp.EntitlementID); err != nil {
		if !errors.Is(err, stores.ErrTransitionConflict) {
			return err
		}
		// Another run recorded the entitlement first; converge.
	}
	if err := s.tasks.MarkCompleted(ctx, task.ID); err != nil {
		return err
	}

	s.logger.Info(ctx, "payment provisioned", map[string]interface{}{
		"payment_id":     intent.ID,
		"entitlement_id": resp.EntitlementID,
		"attempts":       task.Attempts,
	})
	return nil
}

func (s *ProvisioningService) handleFailure(ctx context.Context, task *models.ProvisionTask, intent *models.PaymentIntent, provErr error) error {
	if provisioning.IsPermanent(provErr) {
		return s.exhaust(ctx, task, intent, provErr)
	}
	if task.Attempts >= task.MaxAttempts {
		return s.exhaust(ctx, task, intent, provErr)
	}

	next := time.Now().Add(stores.NextAttemptDelay(task.Attempts))
	if err := s.tasks.MarkRetry(ctx, task.ID, provErr.Error(), next); err != nil {
		return err
	}
	if err := s.intents.RecordProvisioningFailure(ctx, intent.ID, provErr.Error(), task.Attempts); err != nil {
		return err
	}

	s.logger.Warn(ctx, "provisioning attempt failed, scheduled retry", map[string]interface{}{
		"payment_id": intent.ID,
		"attempt":    task.Attempts,
		"next_at":    next.Format(time.RFC3339),
		"error":      provErr.Error(),
	})
	return provErr
}

func (s *ProvisioningService) exhaust(ctx context.Context, task *models.ProvisionTask, intent *models.PaymentIntent, provErr error) error {
	if err := s.tasks.MarkExhausted(ctx, task.ID, provErr.Error()); err != nil {
		return err
	}
	if err := s.intents.MarkNeedsReview(ctx, intent.ID, provErr.Error(), task.Attempts); err != nil {
		if !errors.Is(err, stores.ErrTransitionConflict) {
			return err
		}
	}

	s.logger.Error(ctx, "provisioning exhausted, payment needs review", map[string]interface{}{
		"payment_id": intent.ID,
		"attempts":   task.Attempts,
		"error":      provErr.Error(),
	})
	return provErr
}
