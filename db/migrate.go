package db

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"botpay/models"
)

type Migration struct {
	Version string
	Name    string
	Up      func(*gorm.DB) error
}

type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

func CreateMigrator(db *gorm.DB) *Migrator {
	m := &Migrator{
		db:         db,
		migrations: make([]Migration, 0),
	}
	m.registerDefaults()
	return m
}

func (m *Migrator) AddMigration(version, name string, up func(*gorm.DB) error) {
	m.migrations = append(m.migrations, Migration{
		Version: version,
		Name:    name,
		Up:      up,
	})
}

func (m *Migrator) registerDefaults() {
	m.AddMigration("001", "create_plans", func(db *gorm.DB) error {
		return db.AutoMigrate(&models.Plan{}, &models.PlanTier{})
	})
	m.AddMigration("002", "create_payment_intents", func(db *gorm.DB) error {
		return db.AutoMigrate(&models.PaymentIntent{})
	})
	m.AddMigration("003", "create_webhook_events", func(db *gorm.DB) error {
		return db.AutoMigrate(&models.WebhookEvent{})
	})
	m.AddMigration("004", "create_provision_tasks", func(db *gorm.DB) error {
		return db.AutoMigrate(&models.ProvisionTask{})
	})
	m.AddMigration("005", "seed_default_plans", seedDefaultPlans)
}

// seedDefaultPlans inserts a starter catalog on an empty plans table so a
// fresh deployment can take purchases immediately.
func seedDefaultPlans(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.Plan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	plans := []*models.Plan{
		{
			Code:        "scalper-pro",
			Name:        "Scalper Pro",
			Description: "High-frequency scalping bot",
			Active:      true,
			Tiers: []models.PlanTier{
				{DurationDays: 30, Tier: "monthly", PriceUSD: decimal.RequireFromString("13.65")},
				{DurationDays: 90, Tier: "quarterly", PriceUSD: decimal.RequireFromString("36.00")},
			},
		},
		{
			Code:        "grid-basic",
			Name:        "Grid Basic",
			Description: "Entry-level grid trading bot",
			Active:      true,
			Tiers: []models.PlanTier{
				{DurationDays: 30, Tier: "monthly", PriceUSD: decimal.RequireFromString("7.99")},
			},
		},
	}
	for _, plan := range plans {
		if err := db.Create(plan).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) Up() error {
	if err := m.createMigrationsTable(); err != nil {
		return err
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}

		if err := migration.Up(m.db); err != nil {
			return fmt.Errorf("failed to apply migration %s: %v", migration.Version, err)
		}

		if err := m.recordMigration(migration.Version, migration.Name); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) createMigrationsTable() error {
	return m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`).Error
}

func (m *Migrator) getAppliedMigrations() (map[string]bool, error) {
	var results []struct {
		Version string
	}

	if err := m.db.Table("schema_migrations").Select("version").Find(&results).Error; err != nil {
		return nil, err
	}

	applied := make(map[string]bool)
	for _, result := range results {
		applied[result.Version] = true
	}

	return applied, nil
}

func (m *Migrator) recordMigration(version, name string) error {
	return m.db.Exec(`
		INSERT INTO schema_migrations (version, name)
		VALUES (?, ?)
		ON CONFLICT (version) DO NOTHING
	`, version, name).Error
}

func (m *Migrator) Status() ([]MigrationStatus, error) {
	applied, err := m.getAppliedMigrations()
	if err != nil {
		return nil, err
	}

	var statuses []MigrationStatus
	for _, migration := range m.migrations {
		statuses = append(statuses, MigrationStatus{
			Version: migration.Version,
			Name:    migration.Name,
			Applied: applied[migration.Version],
		})
	}

	return statuses, nil
}

type MigrationStatus struct {
	Version string
	Name    string
	Applied bool
}
