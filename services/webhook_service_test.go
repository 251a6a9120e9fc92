package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"botpay/models"
	bptesting "botpay/testing"
	"botpay/utils"
)

func completedEventPayload(eventID, orderID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"order_id": %q,
			"transaction_id": "TXN_WEBHOOK",
			"payer_id": "PAYER_WH"
		}
	}`, eventID, orderID))
}

func createPendingPurchase(t *testing.T, env *testEnv) (paymentID, orderID string) {
	t.Helper()

	resp, err := env.payments.CreatePurchase(context.Background(), bptesting.MockCreatePurchaseRequest(env.plan.ID))
	if err != nil {
		t.Fatalf("CreatePurchase() error = %v", err)
	}
	intent, err := env.intents.GetByID(context.Background(), resp.PaymentID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return intent.ID, *intent.ExternalOrderID
}

func TestWebhookService_Handle_CompletesPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID, orderID := createPendingPurchase(t, env)

	event, err := env.webhooks.Handle(ctx, completedEventPayload("EVT1", orderID))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if event.EventType != "PAYMENT.CAPTURE.COMPLETED" {
		t.Errorf("EventType = %s", event.EventType)
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusCompleted {
		t.Errorf("Status = %s, want completed", intent.Status)
	}
	if intent.ExternalTxnID == nil || *intent.ExternalTxnID != "TXN_WEBHOOK" {
		t.Errorf("ExternalTxnID = %v, want TXN_WEBHOOK", intent.ExternalTxnID)
	}
	if intent.ProvisioningStatus != models.ProvisioningProvisioned {
		t.Errorf("ProvisioningStatus = %s, want provisioned", intent.ProvisioningStatus)
	}
}

func TestWebhookService_Handle_RedeliveryIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID, orderID := createPendingPurchase(t, env)

	// The gateway redelivers the same physical event five times.
	for i := 0; i < 5; i++ {
		if _, err := env.webhooks.Handle(ctx, completedEventPayload("EVT1", orderID)); err != nil {
			t.Fatalf("Handle() delivery %d error = %v", i+1, err)
		}
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusCompleted {
		t.Errorf("Status = %s, want completed", intent.Status)
	}
	if env.entitlements.callCount() != 1 {
		t.Errorf("entitlement calls = %d, want 1 (provisioning is exactly once)", env.entitlements.callCount())
	}

	var count int64
	env.events.GetDB(ctx).Model(&models.WebhookEvent{}).Where("event_id = ?", "EVT1").Count(&count)
	if count != 1 {
		t.Errorf("stored events = %d, want 1", count)
	}
}

func TestWebhookService_Handle_DistinctEventsConverge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID, orderID := createPendingPurchase(t, env)

	// Two distinct events both asserting completion; the second loses the
	// transition race and is still acknowledged.
	if _, err := env.webhooks.Handle(ctx, completedEventPayload("EVT1", orderID)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if _, err := env.webhooks.Handle(ctx, completedEventPayload("EVT2", orderID)); err != nil {
		t.Fatalf("Handle() second event error = %v", err)
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusCompleted {
		t.Errorf("Status = %s, want completed", intent.Status)
	}
	if env.entitlements.callCount() != 1 {
		t.Errorf("entitlement calls = %d, want 1", env.entitlements.callCount())
	}
}

func TestWebhookService_Handle_ConfirmAndWebhookRace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID, orderID := createPendingPurchase(t, env)

	if _, err := env.payments.ConfirmPurchase(ctx, paymentID, "PAYER1"); err != nil {
		t.Fatalf("ConfirmPurchase() error = %v", err)
	}

	// The gateway's completion webhook lands after the synchronous confirm.
	if _, err := env.webhooks.Handle(ctx, completedEventPayload("EVT1", orderID)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusCompleted {
		t.Errorf("Status = %s, want completed", intent.Status)
	}
	if env.entitlements.callCount() != 1 {
		t.Errorf("entitlement calls = %d, want 1 despite both paths firing", env.entitlements.callCount())
	}
}

func TestWebhookService_Handle_ApprovedThenCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID, orderID := createPendingPurchase(t, env)

	approved := []byte(fmt.Sprintf(`{
		"id": "EVT_APPROVE",
		"event_type": "CHECKOUT.ORDER.APPROVED",
		"resource": {"order_id": %q, "payer_id": "PAYER_WH"}
	}`, orderID))

	if _, err := env.webhooks.Handle(ctx, approved); err != nil {
		t.Fatalf("Handle() approved error = %v", err)
	}
	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusApproved {
		t.Fatalf("Status = %s, want approved", intent.Status)
	}

	if _, err := env.webhooks.Handle(ctx, completedEventPayload("EVT_COMPLETE", orderID)); err != nil {
		t.Fatalf("Handle() completed error = %v", err)
	}
	intent, _ = env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusCompleted {
		t.Errorf("Status = %s, want completed", intent.Status)
	}
}

func TestWebhookService_Handle_FailedEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID, orderID := createPendingPurchase(t, env)

	failed := []byte(fmt.Sprintf(`{
		"id": "EVT_FAIL",
		"event_type": "PAYMENT.CAPTURE.DENIED",
		"resource": {"order_id": %q, "reason": "insufficient funds"}
	}`, orderID))

	if _, err := env.webhooks.Handle(ctx, failed); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusFailed {
		t.Errorf("Status = %s, want failed", intent.Status)
	}
	if intent.ErrorMessage != "insufficient funds" {
		t.Errorf("ErrorMessage = %q, want the gateway reason", intent.ErrorMessage)
	}
	if env.entitlements.callCount() != 0 {
		t.Error("provisioning ran for a failed payment")
	}
}

func TestWebhookService_Handle_UnknownEventTypeStored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	paymentID, orderID := createPendingPurchase(t, env)

	unknown := []byte(fmt.Sprintf(`{
		"id": "EVT_ODD",
		"event_type": "ORDER.SOMETHING.NEW",
		"resource": {"order_id": %q}
	}`, orderID))

	if _, err := env.webhooks.Handle(ctx, unknown); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	stored, err := env.events.GetByEventID(ctx, "EVT_ODD")
	if err != nil {
		t.Fatalf("GetByEventID() error = %v", err)
	}
	if !stored.Processed {
		t.Error("unknown event not marked processed")
	}

	intent, _ := env.intents.GetByID(ctx, paymentID)
	if intent.Status != models.PaymentStatusPending {
		t.Errorf("Status = %s, want pending (unknown events cause no transition)", intent.Status)
	}
}

func TestWebhookService_Handle_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.webhooks.Handle(context.Background(), completedEventPayload("EVT1", "NO_SUCH_ORDER"))
	if !errors.Is(err, utils.ErrWebhookUnknownOrder) {
		t.Fatalf("Handle() error = %v, want ErrWebhookUnknownOrder", err)
	}
}

func TestWebhookService_Handle_InvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed json", []byte(`not json`)},
		{"missing event id", []byte(`{"event_type": "ORDER.COMPLETED", "resource": {}}`)},
		{"missing event type", []byte(`{"id": "EVT1", "resource": {}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.webhooks.Handle(context.Background(), tt.payload)
			if !errors.Is(err, utils.ErrWebhookInvalidPayload) {
				t.Errorf("Handle() error = %v, want ErrWebhookInvalidPayload", err)
			}
		})
	}
}
