package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"botpay/models"
	"botpay/provisioning"
	bptesting "botpay/testing"
)

func completedPurchase(t *testing.T, env *testEnv) string {
	t.Helper()
	ctx := context.Background()

	resp, err := env.payments.CreatePurchase(ctx, bptesting.MockCreatePurchaseRequest(env.plan.ID))
	if err != nil {
		t.Fatalf("CreatePurchase() error = %v", err)
	}
	if err := env.intents.TransitionTo(ctx, resp.PaymentID, models.PaymentStatusCompleted, nil); err != nil {
		t.Fatalf("TransitionTo() error = %v", err)
	}
	if _, err := env.provisioner.EnqueueForIntent(ctx, resp.PaymentID); err != nil {
		t.Fatalf("EnqueueForIntent() error = %v", err)
	}
	return resp.PaymentID
}

func makeTaskDue(t *testing.T, env *testEnv, paymentID string) {
	t.Helper()
	err := env.tasks.GetDB(context.Background()).Model(&models.ProvisionTask{}).
		Where("payment_intent_id = ?", paymentID).
		Update("next_attempt_at", time.Now().Add(-time.Second)).Error
	if err != nil {
		t.Fatalf("failed to make task due: %v", err)
	}
}

func TestProvisioningService_TransientFailureSchedulesRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID := completedPurchase(t, env)

	env.entitlements.err = errors.New("connection refused")
	if err := env.provisioner.ProcessPaymentIntent(ctx, paymentID); err == nil {
		t.Fatal("ProcessPaymentIntent() error = nil, want the transient failure")
	}

	task, _ := env.tasks.GetByPaymentIntentID(ctx, paymentID)
	if task.Status != models.ProvisionTaskStatusPending {
		t.Errorf("task status = %s, want pending (requeued)", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", task.Attempts)
	}
	if task.NextAttemptAt == nil || !task.NextAttemptAt.After(time.Now()) {
		t.Error("NextAttemptAt not pushed into the future")
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusCompleted {
		t.Errorf("payment status = %s, want completed (never rolled back)", intent.Status)
	}
	if intent.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", intent.RetryCount)
	}
}

func TestProvisioningService_RetrySucceedsAfterRecovery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID := completedPurchase(t, env)

	env.entitlements.err = errors.New("connection refused")
	env.provisioner.ProcessPaymentIntent(ctx, paymentID)

	env.entitlements.err = nil
	makeTaskDue(t, env, paymentID)

	processed, err := env.provisioner.ProcessDueTasks(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessDueTasks() error = %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.ProvisioningStatus != models.ProvisioningProvisioned {
		t.Errorf("ProvisioningStatus = %s, want provisioned", intent.ProvisioningStatus)
	}
	if intent.EntitlementID == nil {
		t.Error("EntitlementID not recorded")
	}
	if intent.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want cleared after success", intent.ErrorMessage)
	}
}

func TestProvisioningService_ExhaustionParksForReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID := completedPurchase(t, env)

	env.entitlements.err = errors.New("connection refused")

	// Burn the entire retry budget (maxAttempts is 3 in the test env).
	for i := 0; i < 3; i++ {
		makeTaskDue(t, env, paymentID)
		env.provisioner.ProcessDueTasks(ctx, 10)
	}

	task, _ := env.tasks.GetByPaymentIntentID(ctx, paymentID)
	if task.Status != models.ProvisionTaskStatusExhausted {
		t.Fatalf("task status = %s, want exhausted", task.Status)
	}
	if task.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", task.Attempts)
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusCompleted {
		t.Errorf("payment status = %s, want completed", intent.Status)
	}
	if intent.ProvisioningStatus != models.ProvisioningNeedsReview {
		t.Errorf("ProvisioningStatus = %s, want needs_review", intent.ProvisioningStatus)
	}
	if intent.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want the full budget of 3", intent.RetryCount)
	}
	if intent.ErrorMessage == "" {
		t.Error("ErrorMessage empty, want the last failure")
	}

	// Exhausted tasks never come back as due.
	makeTaskDue(t, env, paymentID)
	processed, _ := env.provisioner.ProcessDueTasks(ctx, 10)
	if processed != 0 {
		t.Errorf("processed = %d after exhaustion, want 0", processed)
	}
	if env.entitlements.callCount() != 3 {
		t.Errorf("entitlement calls = %d, want exactly 3", env.entitlements.callCount())
	}
}

func TestProvisioningService_PermanentErrorSkipsRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID := completedPurchase(t, env)

	env.entitlements.err = &provisioning.PermanentError{StatusCode: 422, Message: "plan retired"}
	env.provisioner.ProcessPaymentIntent(ctx, paymentID)

	task, _ := env.tasks.GetByPaymentIntentID(ctx, paymentID)
	if task.Status != models.ProvisionTaskStatusExhausted {
		t.Errorf("task status = %s, want exhausted (no retries for permanent errors)", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", task.Attempts)
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.ProvisioningStatus != models.ProvisioningNeedsReview {
		t.Errorf("ProvisioningStatus = %s, want needs_review", intent.ProvisioningStatus)
	}
	if env.entitlements.callCount() != 1 {
		t.Errorf("entitlement calls = %d, want 1", env.entitlements.callCount())
	}
}

func TestProvisioningService_ReconciliationClassification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Provisioned payment classifies as SUCCESS.
	okID := completedPurchase(t, env)
	env.provisioner.ProcessPaymentIntent(ctx, okID)

	// Exhausted payment classifies as NEEDS_MANUAL_REVIEW.
	reviewID := completedPurchase(t, env)
	env.entitlements.err = &provisioning.PermanentError{StatusCode: 422, Message: "plan retired"}
	env.provisioner.ProcessPaymentIntent(ctx, reviewID)
	env.entitlements.err = nil

	plans := env.payments.plans
	recon := NewReconciliationService(env.intents, plans)
	rows, err := recon.List(ctx, 50, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	byID := make(map[string]models.ReconciliationClass)
	for _, row := range rows {
		byID[row.PaymentID] = row.Classification
		if row.PlanName != "Scalper Pro" {
			t.Errorf("PlanName = %q, want Scalper Pro", row.PlanName)
		}
	}

	if byID[okID] != models.ReconSuccess {
		t.Errorf("classification = %s, want SUCCESS", byID[okID])
	}
	if byID[reviewID] != models.ReconNeedsReview {
		t.Errorf("classification = %s, want NEEDS_MANUAL_REVIEW", byID[reviewID])
	}
}
