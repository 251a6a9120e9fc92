package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"botpay/models"
)

// TB is the subset of *testing.T the helpers need. Declared here so this
// package does not import the stdlib testing package it shadows.
type TB interface {
	Helper()
	Fatalf(format string, args ...interface{})
	Cleanup(func())
}

var dbCounter int64

// OpenTestDB returns an isolated in-memory database with the full schema.
// A shared-cache DSN plus a single connection makes transactions and
// concurrent store calls behave deterministically under sqlite.
func OpenTestDB(t TB) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("botpay_test_%d", atomic.AddInt64(&dbCounter, 1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("failed to access test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		sqlDB.Close()
	})

	err = gormDB.AutoMigrate(
		&models.Plan{},
		&models.PlanTier{},
		&models.PaymentIntent{},
		&models.WebhookEvent{},
		&models.ProvisionTask{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return gormDB
}

// SeedPlan inserts a plan with one monthly tier priced at 13.65 USD and
// returns it with tiers loaded.
func SeedPlan(t TB, db *gorm.DB) *models.Plan {
	t.Helper()

	plan := &models.Plan{
		Code:   fmt.Sprintf("scalper-pro-%d", atomic.AddInt64(&dbCounter, 1)),
		Name:   "Scalper Pro",
		Active: true,
		Tiers: []models.PlanTier{
			{
				DurationDays: 30,
				Tier:         "monthly",
				PriceUSD:     decimal.RequireFromString("13.65"),
			},
		},
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
	return plan
}

func MockCreatePurchaseRequest(planID string) *models.CreatePurchaseRequest {
	return &models.CreatePurchaseRequest{
		BuyerID:      "buyer_test123",
		PlanID:       planID,
		DurationDays: 30,
		OrderRef:     fmt.Sprintf("order_%d", atomic.AddInt64(&dbCounter, 1)),
	}
}

func MockContext() context.Context {
	return context.Background()
}

func MockContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
