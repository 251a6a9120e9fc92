package services

import (
	"context"

	"botpay/models"
	"botpay/stores"
)

// ReconciliationService produces the operator view over payment intents.
// Classification is computed from the row at read time, never stored.
type ReconciliationService struct {
	intents *stores.PaymentIntentStore
	plans   *stores.PlanStore
}

func NewReconciliationService(intents *stores.PaymentIntentStore, plans *stores.PlanStore) *ReconciliationService {
	return &ReconciliationService{
		intents: intents,
		plans:   plans,
	}
}

func (s *ReconciliationService) List(ctx context.Context, limit, offset int) ([]*models.ReconciliationRow, error) {
	intents, err := s.intents.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	planNames, err := s.plans.NamesByID(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]*models.ReconciliationRow, 0, len(intents))
	for _, intent := range intents {
		row := &models.ReconciliationRow{
			PaymentID:          intent.ID,
			BuyerID:            intent.BuyerID,
			PlanID:             intent.PlanID,
			PlanName:           planNames[intent.PlanID],
			Status:             intent.Status,
			ProvisioningStatus: intent.ProvisioningStatus,
			Classification:     models.Classify(intent),
			AmountPrimary:      intent.AmountPrimary,
			AmountSecondary:    intent.AmountSecondary,
			ErrorMessage:       intent.ErrorMessage,
			RetryCount:         intent.RetryCount,
			CreatedAt:          intent.CreatedAt,
			UpdatedAt:          intent.UpdatedAt,
		}
		if intent.EntitlementID != nil {
			row.EntitlementID = *intent.EntitlementID
		}
		rows = append(rows, row)
	}
	return rows, nil
}
