package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/inventory-service/pkg/config"
	"github.com/angelmondragon/inventory-service/pkg/db"
	"github.com/angelmondragon/inventory-service/pkg/db/models"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled. SQLite databases get the schema from the GORM models
// since the SQL migrations are Postgres-only.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	meta := map[string]any{"env": cfg.App.Env, "dir": DefaultDir, "driver": cfg.DB.Driver}
	ctx = logg.WithFields(ctx, meta)

	if cfg.DB.Driver == db.DriverSQLite {
		logg.Info(ctx, "auto-migrating sqlite schema from models")
		return AutoMigrateModels(client)
	}

	sqlDB, err := client.SQLDB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	logg.Info(ctx, "running Goose migrations (dev auto-run)")
	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}

// AutoMigrateModels creates the ledger tables through GORM.
func AutoMigrateModels(client *db.Client) error {
	if err := client.DB().AutoMigrate(&models.Product{}, &models.InventoryRecord{}, &models.OutboxEvent{}); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}
	return nil
}
