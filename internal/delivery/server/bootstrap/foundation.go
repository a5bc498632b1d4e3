package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"nexus/internal/infra/observability"
	"nexus/internal/infra/postgres"
	runtimeconfig "nexus/internal/shared/config"
	"nexus/internal/shared/logging"
)

// Foundation holds the infrastructure shared by RunServer and RunMigrate.
// Pool is nil when the server runs on in-memory stores. Create via
// BootstrapFoundation and defer Cleanup().
type Foundation struct {
	Config   runtimeconfig.Config
	Obs      *observability.Observability
	Pool     *pgxpool.Pool
	Logger   logging.Logger
	Degraded *DegradedComponents

	cleanups []func() // cleanup functions in reverse order
}

// FoundationOptions tunes BootstrapFoundation.
type FoundationOptions struct {
	// RequireDatabase fails startup when DATABASE_URL is missing.
	RequireDatabase bool
}

// BootstrapFoundation performs the shared Phase 1 initialization:
// config loading, observability and the database pool.
func BootstrapFoundation(configPath string, opts FoundationOptions, logger logging.Logger) (*Foundation, error) {
	logger = logging.OrNop(logger)
	f := &Foundation{
		Logger:   logger,
		Degraded: NewDegradedComponents(),
	}

	stages := []BootstrapStage{
		{
			Name: "config", Required: true,
			Init: func() error {
				cfg, err := LoadConfig(configPath, logger)
				if err != nil {
					return err
				}
				f.Config = cfg
				return nil
			},
		},
		{
			Name: "observability", Required: true,
			Init: func() error {
				obs, cleanup, err := InitObservability(f.Config.Observability, logger)
				if err != nil {
					return err
				}
				f.Obs = obs
				f.addCleanup(cleanup)
				LogServerConfiguration(logger, f.Config)
				return nil
			},
		},
		{
			Name: "postgres", Required: true,
			Init: func() error {
				if strings.TrimSpace(f.Config.Database.URL) == "" {
					if opts.RequireDatabase || f.Config.IsProduction() {
						return fmt.Errorf("DATABASE_URL is required")
					}
					logger.Warn("DATABASE_URL not set; using in-memory stores (data is lost on restart)")
					return nil
				}
				pool, err := postgres.Open(context.Background(), postgres.PoolConfig{
					URL:      f.Config.Database.URL,
					MaxConns: f.Config.Database.MaxConns,
				}, logger)
				if err != nil {
					return err
				}
				f.Pool = pool
				f.addCleanup(pool.Close)
				return nil
			},
		},
	}
	if err := RunStages(stages, f.Degraded, logger); err != nil {
		f.Cleanup()
		return nil, err
	}
	return f, nil
}

// InitObservability loads the YAML observability config at path and returns
// a cleanup that flushes exporters.
func InitObservability(path string, logger logging.Logger) (*observability.Observability, func(), error) {
	obs, err := observability.New(path)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(ctx); err != nil {
			logging.OrNop(logger).Warn("Observability shutdown failed: %v", err)
		}
	}
	return obs, cleanup, nil
}

// Cleanup releases all resources in reverse order.
func (f *Foundation) Cleanup() {
	for i := len(f.cleanups) - 1; i >= 0; i-- {
		f.cleanups[i]()
	}
	f.cleanups = nil
}

func (f *Foundation) addCleanup(fn func()) {
	if fn != nil {
		f.cleanups = append(f.cleanups, fn)
	}
}
