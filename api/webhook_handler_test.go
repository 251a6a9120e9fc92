package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"botpay/provisioning"
	"botpay/services"
	"botpay/stores"
	bptesting "botpay/testing"
)

type noopEntitlements struct{}

func (noopEntitlements) Provision(ctx context.Context, req *provisioning.EntitlementRequest) (*provisioning.EntitlementResponse, error) {
	return &provisioning.EntitlementResponse{EntitlementID: "ENT1", Status: "active"}, nil
}

func newWebhookTestHandler(t *testing.T, secret string) *WebhookHandler {
	t.Helper()

	db := bptesting.OpenTestDB(t)
	intents := stores.CreatePaymentIntentStore(db)
	events := stores.CreateWebhookEventStore(db)
	tasks := stores.CreateProvisionTaskStore(db)

	provisioner := services.NewProvisioningService(intents, tasks, noopEntitlements{}, 3)
	webhookService := services.NewWebhookService(intents, events, tasks, provisioner, 3)

	return CreateWebhookHandler(webhookService, secret)
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandler_HandleGatewayWebhook_MissingSignature(t *testing.T) {
	handler := newWebhookTestHandler(t, "test_webhook_secret")

	payload := []byte(`{"id": "EVT1", "event_type": "ORDER.COMPLETED"}`)

	req := httptest.NewRequest("POST", "/webhooks/gateway", bytes.NewBuffer(payload))
	w := httptest.NewRecorder()

	handler.HandleGatewayWebhook(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("HandleGatewayWebhook() status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	body := w.Body.String()
	if body != "Missing gateway signature\n" {
		t.Errorf("HandleGatewayWebhook() body = %q, want %q", body, "Missing gateway signature\n")
	}
}

func TestWebhookHandler_HandleGatewayWebhook_InvalidSignature(t *testing.T) {
	handler := newWebhookTestHandler(t, "test_webhook_secret")

	payload := []byte(`{"id": "EVT1", "event_type": "ORDER.COMPLETED"}`)

	req := httptest.NewRequest("POST", "/webhooks/gateway", bytes.NewBuffer(payload))
	req.Header.Set("X-Gateway-Signature", "invalid_signature")
	w := httptest.NewRecorder()

	handler.HandleGatewayWebhook(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("HandleGatewayWebhook() status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestWebhookHandler_HandleGatewayWebhook_UnknownEventAccepted(t *testing.T) {
	secret := "test_webhook_secret"
	handler := newWebhookTestHandler(t, secret)

	payload := []byte(`{
		"id": "EVT_NEW",
		"event_type": "ORDER.SOMETHING.NEW",
		"resource": {"order_id": "ORDER123"}
	}`)

	req := httptest.NewRequest("POST", "/webhooks/gateway", bytes.NewBuffer(payload))
	req.Header.Set("X-Gateway-Signature", signPayload(secret, payload))
	w := httptest.NewRecorder()

	handler.HandleGatewayWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("HandleGatewayWebhook() status = %d, want %d", w.Code, http.StatusOK)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if received, ok := response["received"].(bool); !ok || !received {
		t.Error("HandleGatewayWebhook() response[received] should be true")
	}
	if eventType, ok := response["event_type"].(string); !ok || eventType != "ORDER.SOMETHING.NEW" {
		t.Errorf("HandleGatewayWebhook() event_type = %v, want ORDER.SOMETHING.NEW", eventType)
	}
}

func TestWebhookHandler_HandleGatewayWebhook_InvalidPayload(t *testing.T) {
	secret := "test_webhook_secret"
	handler := newWebhookTestHandler(t, secret)

	payload := []byte(`invalid json`)

	req := httptest.NewRequest("POST", "/webhooks/gateway", bytes.NewBuffer(payload))
	req.Header.Set("X-Gateway-Signature", signPayload(secret, payload))
	w := httptest.NewRecorder()

	handler.HandleGatewayWebhook(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("HandleGatewayWebhook() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWebhookHandler_HandleGatewayWebhook_UnknownOrder(t *testing.T) {
	secret := "test_webhook_secret"
	handler := newWebhookTestHandler(t, secret)

	payload := []byte(`{
		"id": "EVT1",
		"event_type": "ORDER.COMPLETED",
		"resource": {"order_id": "NO_SUCH_ORDER"}
	}`)

	req := httptest.NewRequest("POST", "/webhooks/gateway", bytes.NewBuffer(payload))
	req.Header.Set("X-Gateway-Signature", signPayload(secret, payload))
	w := httptest.NewRecorder()

	handler.HandleGatewayWebhook(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("HandleGatewayWebhook() status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
