package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Client abstracts a redirect payment gateway. CreateOrder registers the
// charge and returns where to send the buyer; ExecuteOrder captures the
// approved order and returns the gateway transaction id.
type Client interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, description string) (orderID, approvalURL string, err error)
	ExecuteOrder(ctx context.Context, orderID, payerID string) (transactionID string, err error)
	GetName() string
}

// ErrAlreadyCaptured means the gateway reports the order as captured by an
// earlier call. Callers treat it as success and converge on the stored
// transaction id.
var ErrAlreadyCaptured = errors.New("order already captured")

// RejectionError is a definitive refusal by the gateway (declined card,
// voided order). The intent should fail rather than retry.
type RejectionError struct {
	Provider string
	Code     string
	Message  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected order: %s (%s)", e.Provider, e.Message, e.Code)
}

func IsRejection(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}
