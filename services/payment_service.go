package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botpay/gateway"
	"botpay/models"
	"botpay/rates"
	"botpay/stores"
	"botpay/utils"
)

// PaymentService owns the purchase lifecycle: quoting, intent creation,
// gateway hand-off and confirmation. All state changes go through the
// conditional writes in the stores, so concurrent confirmations and
// webhooks converge instead of double-applying.
type PaymentService struct {
	intents     *stores.PaymentIntentStore
	plans       *stores.PlanStore
	tasks       *stores.ProvisionTaskStore
	rates       rates.Provider
	gateway     gateway.Client
	provisioner *ProvisioningService
	logger      *utils.Logger

	currency     string
	ratePair     string
	expiryWindow time.Duration
	maxAttempts  int
}

func NewPaymentService(
	intents *stores.PaymentIntentStore,
	plans *stores.PlanStore,
	tasks *stores.ProvisionTaskStore,
	rateProvider rates.Provider,
	gatewayClient gateway.Client,
	provisioner *ProvisioningService,
	currency, ratePair string,
	expiryWindow time.Duration,
	maxAttempts int,
) *PaymentService {
	return &PaymentService{
		intents:      intents,
		plans:        plans,
		tasks:        tasks,
		rates:        rateProvider,
		gateway:      gatewayClient,
		provisioner:  provisioner,
		logger:       utils.NewLogger("payment_service"),
		currency:     currency,
		ratePair:     ratePair,
		expiryWindow: expiryWindow,
		maxAttempts:  maxAttempts,
	}
}

// CreatePurchase quotes, snapshots the commercial terms and registers the
// order with the gateway. Replays with the same (buyer, order_ref) return
// the original intent: the terms quoted first stand, and a replay only
// re-attempts the gateway hand-off if the first attempt never got an order.
func (s *PaymentService) CreatePurchase(ctx context.Context, req *models.CreatePurchaseRequest) (*models.CreatePurchaseResponse, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	plan, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, utils.ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.Active {
		return nil, utils.ErrPlanNotFound
	}

	var tier *models.PlanTier
	for i := range plan.Tiers {
		if plan.Tiers[i].DurationDays == req.DurationDays {
			tier = &plan.Tiers[i]
			break
		}
	}
	if tier == nil {
		return nil, utils.ErrInvalidDuration
	}

	quote, err := s.rates.GetRate(ctx, s.ratePair)
	if err != nil {
		s.logger.Warn(ctx, "quote unavailable", map[string]interface{}{
			"pair":  s.ratePair,
			"error": err.Error(),
		})
		return nil, utils.ErrQuoteUnavailable
	}

	intent := &models.PaymentIntent{
		BuyerID:         req.BuyerID,
		OrderRef:        req.OrderRef,
		PlanID:          plan.ID,
		DurationDays:    req.DurationDays,
		PriceTier:       tier.Tier,
		AmountPrimary:   tier.PriceUSD,
		AmountSecondary: tier.PriceUSD.DivRound(quote.Rate, 2),
		ExchangeRate:    quote.Rate,
		RateSource:      string(quote.Source),
		Status:          models.PaymentStatusPending,
		ExpiresAt:       time.Now().Add(s.expiryWindow),
	}

	intent, created, err := s.intents.Create(ctx, intent)
	if err != nil {
		return nil, err
	}

	if !created {
		// Replay. The stored terms stand; only a missing gateway order
		// on a still-pending intent warrants another hand-off attempt.
		if intent.Status != models.PaymentStatusPending || intent.ExternalOrderID != nil {
			return purchaseResponse(intent), nil
		}
	}

	description := fmt.Sprintf("%s / %d days", plan.Name, intent.DurationDays)
	orderID, approvalURL, err := s.gateway.CreateOrder(ctx, intent.AmountPrimary, s.currency, description)
	if err != nil {
		if gateway.IsRejection(err) {
			s.failIntent(ctx, intent.ID, err.Error())
			return nil, utils.WrapError(utils.ErrGatewayRejected, err.Error())
		}
		// The intent stays pending without an order id; a replayed
		// request with the same order_ref retries the hand-off.
		s.logger.Error(ctx, "gateway order creation failed", map[string]interface{}{
			"payment_id": intent.ID,
			"error":      err.Error(),
		})
		return nil, utils.ErrGatewayUnavailable
	}

	if err := s.intents.AttachGatewayOrder(ctx, intent.ID, orderID, approvalURL); err != nil {
		if !errors.Is(err, stores.ErrTransitionConflict) {
			return nil, err
		}
		// A concurrent replay attached first, or the intent moved on.
		intent, err = s.intents.GetByID(ctx, intent.ID)
		if err != nil {
			return nil, err
		}
		return purchaseResponse(intent), nil
	}

	intent.ExternalOrderID = &orderID
	intent.ApprovalURL = &approvalURL

	s.logger.Info(ctx, "purchase created", map[string]interface{}{
		"payment_id":       intent.ID,
		"buyer_id":         intent.BuyerID,
		"plan_id":          intent.PlanID,
		"amount_primary":   intent.AmountPrimary.String(),
		"amount_secondary": intent.AmountSecondary.String(),
		"rate_source":      intent.RateSource,
		"gateway":          s.gateway.GetName(),
	})

	return purchaseResponse(intent), nil
}

// ConfirmPurchase captures the approved gateway order and, on success,
// completes the payment and enqueues provisioning in one transaction. The
// completion is an at-most-once transition: if a webhook completed the
// payment first, the capture converges on that result.
func (s *PaymentService) ConfirmPurchase(ctx context.Context, paymentID, payerID string) (*models.PaymentView, error) {
	intent, err := s.intents.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, utils.ErrPaymentNotFound
		}
		return nil, err
	}

	if intent.Status == models.PaymentStatusCompleted {
		return intent.View(), nil
	}
	if intent.Status.IsTerminal() {
		return nil, utils.ErrPaymentNotPayable
	}
	if intent.ExternalOrderID == nil {
		return nil, utils.ErrNoGatewayOrder
	}

	txnID, err := s.gateway.ExecuteOrder(ctx, *intent.ExternalOrderID, payerID)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrAlreadyCaptured):
			// An earlier capture (ours or a webhook-driven one) won.
			// Fall through to completion with no new transaction id.
			txnID = ""
		case gateway.IsRejection(err):
			s.failIntent(ctx, intent.ID, err.Error())
			return nil, utils.WrapError(utils.ErrGatewayRejected, err.Error())
		default:
			s.logger.Error(ctx, "gateway capture failed", map[string]interface{}{
				"payment_id": intent.ID,
				"error":      err.Error(),
			})
			return nil, utils.ErrGatewayUnavailable
		}
	}

	fields := map[string]interface{}{}
	if txnID != "" {
		fields["external_txn_id"] = txnID
	}
	if payerID != "" {
		fields["external_payer_id"] = payerID
	}

	err = s.intents.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.intents.TransitionTo(txCtx, intent.ID, models.PaymentStatusCompleted, fields); err != nil {
			return err
		}
		_, err := s.tasks.Enqueue(txCtx, intent.ID, s.maxAttempts)
		return err
	})
	if err != nil && !errors.Is(err, stores.ErrTransitionConflict) {
		return nil, err
	}
	if errors.Is(err, stores.ErrTransitionConflict) {
		// Lost the race. Re-read; a webhook completing first is benign.
		intent, readErr := s.intents.GetByID(ctx, paymentID)
		if readErr != nil {
			return nil, readErr
		}
		if intent.Status != models.PaymentStatusCompleted {
			return nil, utils.ErrPaymentNotPayable
		}
		return intent.View(), nil
	}

	s.logger.Info(ctx, "payment completed", map[string]interface{}{
		"payment_id": intent.ID,
		"txn_id":     txnID,
	})

	// Inline first attempt; failures fall back to the retry worker.
	if provErr := s.provisioner.ProcessPaymentIntent(ctx, intent.ID); provErr != nil {
		s.logger.Warn(ctx, "inline provisioning attempt failed", map[string]interface{}{
			"payment_id": intent.ID,
			"error":      provErr.Error(),
		})
	}

	intent, err = s.intents.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return intent.View(), nil
}

// GetPaymentStatus returns the buyer-facing view, applying lazy expiry on
// the way through the store.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, paymentID string) (*models.PaymentView, error) {
	intent, err := s.intents.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, utils.ErrPaymentNotFound
		}
		return nil, err
	}
	return intent.View(), nil
}

func (s *PaymentService) failIntent(ctx context.Context, id, reason string) {
	err := s.intents.TransitionTo(ctx, id, models.PaymentStatusFailed, map[string]interface{}{
		"error_message": reason,
	})
	if err != nil && !errors.Is(err, stores.ErrTransitionConflict) {
		s.logger.Error(ctx, "failed to mark payment failed", map[string]interface{}{
			"payment_id": id,
			"error":      err.Error(),
		})
	}
}

func validateCreateRequest(req *models.CreatePurchaseRequest) error {
	if req.BuyerID == "" {
		return utils.WrapError(utils.ErrInvalidRequest, "buyer_id is required")
	}
	if req.PlanID == "" {
		return utils.WrapError(utils.ErrInvalidRequest, "plan_id is required")
	}
	if req.OrderRef == "" {
		return utils.WrapError(utils.ErrInvalidRequest, "order_ref is required")
	}
	if req.DurationDays <= 0 {
		return utils.WrapError(utils.ErrInvalidRequest, "duration_days must be positive")
	}
	return nil
}

func purchaseResponse(intent *models.PaymentIntent) *models.CreatePurchaseResponse {
	resp := &models.CreatePurchaseResponse{
		PaymentID:       intent.ID,
		Status:          intent.Status.BuyerVisible(),
		AmountPrimary:   intent.AmountPrimary,
		AmountSecondary: intent.AmountSecondary,
		ExchangeRate:    intent.ExchangeRate,
		ExpiresAt:       intent.ExpiresAt,
	}
	if intent.ApprovalURL != nil {
		resp.ApprovalURL = *intent.ApprovalURL
	}
	return resp
}
