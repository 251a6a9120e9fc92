package gateway

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/xendit/xendit-go"
	"github.com/xendit/xendit-go/client"
	"github.com/xendit/xendit-go/invoice"

	"botpay/utils"
)

// XenditClient implements the redirect flow with hosted invoices. The
// invoice URL is the approval link; ExecuteOrder verifies the invoice was
// paid or settled.
type XenditClient struct {
	api       *client.API
	returnURL string
	cancelURL string
}

func NewXenditClient(secretKey, returnURL, cancelURL string) *XenditClient {
	return &XenditClient{
		api:       client.New(secretKey),
		returnURL: returnURL,
		cancelURL: cancelURL,
	}
}

func (c *XenditClient) GetName() string {
	return "xendit"
}

func (c *XenditClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, description string) (string, string, error) {
	amountFloat, _ := amount.Float64()

	params := &invoice.CreateParams{
		ExternalID:         description,
		Amount:             amountFloat,
		Description:        description,
		Currency:           currency,
		SuccessRedirectURL: c.returnURL,
		FailureRedirectURL: c.cancelURL,
	}

	inv, err := c.api.Invoice.CreateWithContext(ctx, params)
	if err != nil {
		return "", "", classifyXenditError(err)
	}

	return inv.ID, inv.InvoiceURL, nil
}

func (c *XenditClient) ExecuteOrder(ctx context.Context, orderID, payerID string) (string, error) {
	inv, err := c.api.Invoice.GetWithContext(ctx, &invoice.GetParams{ID: orderID})
	if err != nil {
		return "", classifyXenditError(err)
	}

	switch inv.Status {
	case "PAID", "SETTLED":
		return inv.ID, nil
	case "EXPIRED":
		return "", &RejectionError{
			Provider: "xendit",
			Code:     inv.Status,
			Message:  "invoice expired before payment",
		}
	default:
		return "", &RejectionError{
			Provider: "xendit",
			Code:     inv.Status,
			Message:  "invoice is not paid",
		}
	}
}

func classifyXenditError(err error) error {
	if xenditErr, ok := err.(*xendit.Error); ok {
		if xenditErr.Status >= 400 && xenditErr.Status < 500 {
			return &RejectionError{
				Provider: "xendit",
				Code:     xenditErr.ErrorCode,
				Message:  xenditErr.Message,
			}
		}
	}
	return utils.WrapError(utils.ErrGatewayUnavailable, err.Error())
}
