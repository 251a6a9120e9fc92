package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

var (
	ErrInvalidRequest = NewAPIError(http.StatusBadRequest, "Invalid request")
	ErrNotFound       = NewAPIError(http.StatusNotFound, "Resource not found")
	ErrConflict       = NewAPIError(http.StatusConflict, "Resource conflict")
	ErrInternalServer = NewAPIError(http.StatusInternalServerError, "Internal server error")
)

// Purchase and quoting errors. Quote failures are retryable by the caller;
// they never block an already-created intent.
var (
	ErrQuoteUnavailable  = NewAPIError(http.StatusServiceUnavailable, "Quote unavailable, retry shortly")
	ErrPlanNotFound      = NewAPIError(http.StatusNotFound, "Plan not found")
	ErrInvalidDuration   = NewAPIError(http.StatusBadRequest, "No price tier for requested duration")
	ErrPaymentNotFound   = NewAPIError(http.StatusNotFound, "Payment not found")
	ErrPaymentNotPayable = NewAPIError(http.StatusConflict, "Payment is not in a confirmable state")
	ErrNoGatewayOrder    = NewAPIError(http.StatusConflict, "Payment has no gateway order yet")
)

// Gateway errors. Unavailability is retryable by re-initiating the
// purchase; rejection is terminal for the intent.
var (
	ErrGatewayUnavailable = NewAPIError(http.StatusBadGateway, "Payment gateway unavailable")
	ErrGatewayRejected    = NewAPIError(http.StatusUnprocessableEntity, "Payment rejected by gateway")
)

var (
	ErrWebhookInvalidSignature = NewAPIError(http.StatusUnauthorized, "Invalid webhook signature")
	ErrWebhookInvalidPayload   = NewAPIError(http.StatusBadRequest, "Invalid webhook payload")
	ErrWebhookUnknownOrder     = NewAPIError(http.StatusNotFound, "Webhook references unknown order")
)

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

func GetHTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return http.StatusInternalServerError
}
