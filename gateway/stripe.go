package gateway

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"

	"botpay/utils"
)

// StripeClient implements the redirect flow with Checkout Sessions. The
// session URL plays the approve-link role; capture happens on Stripe's
// side, so ExecuteOrder only verifies the session was paid.
type StripeClient struct {
	apiKey     string
	successURL string
	cancelURL  string
}

func NewStripeClient(apiKey, successURL, cancelURL string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{
		apiKey:     apiKey,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (c *StripeClient) GetName() string {
	return "stripe"
}

func (c *StripeClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, description string) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(amount.Mul(decimal.NewFromInt(100)).IntPart()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
			},
		},
	}
	params.Context = ctx

	s, err := session.New(params)
	if err != nil {
		return "", "", classifyStripeError(err)
	}

	return s.ID, s.URL, nil
}

func (c *StripeClient) ExecuteOrder(ctx context.Context, orderID, payerID string) (string, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	s, err := session.Get(orderID, params)
	if err != nil {
		return "", classifyStripeError(err)
	}

	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return "", &RejectionError{
			Provider: "stripe",
			Code:     string(s.PaymentStatus),
			Message:  "checkout session is not paid",
		}
	}
	if s.PaymentIntent != nil {
		return s.PaymentIntent.ID, nil
	}
	return s.ID, nil
}

func classifyStripeError(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			return &RejectionError{
				Provider: "stripe",
				Code:     string(stripeErr.Code),
				Message:  stripeErr.Msg,
			}
		}
	}
	return utils.WrapError(utils.ErrGatewayUnavailable, err.Error())
}
