package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"botpay/services"
)

type WebhookHandler struct {
	webhookService *services.WebhookService
	secret         []byte
}

func CreateWebhookHandler(webhookService *services.WebhookService, secret string) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		secret:         []byte(secret),
	}
}

// HandleGatewayWebhook verifies the HMAC signature over the raw body before
// any parsing. Signature failures are 401 so the gateway retries through its
// own redelivery schedule; nothing unauthenticated is ever recorded.
func (h *WebhookHandler) HandleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read webhook payload", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Gateway-Signature")
	if signature == "" {
		http.Error(w, "Missing gateway signature", http.StatusUnauthorized)
		return
	}

	if !h.validSignature(payload, signature) {
		http.Error(w, "Invalid webhook signature", http.StatusUnauthorized)
		return
	}

	event, err := h.webhookService.Handle(r.Context(), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	response := map[string]interface{}{
		"received":   true,
		"event_type": event.EventType,
		"timestamp":  time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (h *WebhookHandler) validSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/gateway", h.HandleGatewayWebhook).Methods("POST")
}
