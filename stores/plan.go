package stores

import (
	"context"
	"errors"

	"botpay/models"
	"gorm.io/gorm"
)

type PlanStore struct {
	BaseStore
}

func CreatePlanStore(db *gorm.DB) *PlanStore {
	return &PlanStore{BaseStore: BaseStore{db: db}}
}

func (s *PlanStore) Create(ctx context.Context, plan *models.Plan) error {
	return s.GetDB(ctx).Create(plan).Error
}

func (s *PlanStore) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	var plan models.Plan
	if err := s.GetDB(ctx).Preload("Tiers").First(&plan, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// GetTier resolves the priced tier for a plan and rental duration. Only
// active plans are purchasable.
func (s *PlanStore) GetTier(ctx context.Context, planID string, durationDays int) (*models.PlanTier, error) {
	var plan models.Plan
	if err := s.GetDB(ctx).First(&plan, "id = ? AND active = ?", planID, true).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var tier models.PlanTier
	err := s.GetDB(ctx).
		Where("plan_id = ? AND duration_days = ?", planID, durationDays).
		First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tier, nil
}

func (s *PlanStore) List(ctx context.Context) ([]*models.Plan, error) {
	var plans []*models.Plan
	if err := s.GetDB(ctx).Preload("Tiers").Where("active = ?", true).Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// NamesByID returns a plan id to display name map for reconciliation rows.
func (s *PlanStore) NamesByID(ctx context.Context) (map[string]string, error) {
	var plans []models.Plan
	if err := s.GetDB(ctx).Select("id", "name").Find(&plans).Error; err != nil {
		return nil, err
	}
	names := make(map[string]string, len(plans))
	for _, p := range plans {
		names[p.ID] = p.Name
	}
	return names, nil
}
