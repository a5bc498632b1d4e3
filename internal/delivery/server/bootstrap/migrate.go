package bootstrap

import (
	"context"
	"fmt"
	"time"

	"nexus/internal/infra/postgres"
	"nexus/internal/shared/logging"
)

const migrateTimeout = 2 * time.Minute

// RunMigrate applies the database schema and exits.
func RunMigrate(configPath string) error {
	logger := logging.NewComponentLogger("Migrate")

	f, err := BootstrapFoundation(configPath, FoundationOptions{RequireDatabase: true}, logger)
	if err != nil {
		return err
	}
	defer f.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if err := postgres.Migrate(ctx, f.Pool, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("Schema is up to date")
	return nil
}
