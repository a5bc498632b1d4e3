package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	serverHTTP "nexus/internal/delivery/server/http"
	"nexus/internal/shared/async"
	"nexus/internal/shared/logging"
)

// RunServer starts the HTTP API server and blocks until a shutdown signal is received.
func RunServer(configPath string) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting Nexus server...")

	// ── Phase 1: Required infrastructure (failure aborts startup) ──

	f, err := BootstrapFoundation(configPath, FoundationOptions{}, logger)
	if err != nil {
		return err
	}
	defer f.Cleanup()

	config := f.Config

	container, err := BuildContainer(config, f.Pool, f.Obs, logger)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}

	// ── Phase 2: Optional services (failure records degraded, continues) ──

	var maintenance *Maintenance
	optionalStages := []BootstrapStage{
		{
			Name: "maintenance", Required: false,
			Init: func() error {
				m, err := startMaintenance(config.MaintenanceSchedule, container, logger)
				if err != nil {
					return err
				}
				maintenance = m
				return nil
			},
		},
	}
	if err := RunStages(optionalStages, f.Degraded, logger); err != nil {
		return fmt.Errorf("optional stages: %w", err)
	}
	if maintenance != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			maintenance.Stop(ctx)
		}()
	}
	if f.Degraded.Len() > 0 {
		logger.Warn("Server starting in degraded mode: %v", f.Degraded.Names())
	}

	// ── Phase 3: HTTP ──

	var health serverHTTP.HealthChecker
	if f.Pool != nil {
		health = f.Pool
	}
	router := serverHTTP.NewRouter(serverHTTP.RouterDeps{
		Auth:     container.Auth,
		Billing:  container.Billing,
		Chat:     container.Chat,
		GitHub:   container.GitHub,
		Obs:      f.Obs,
		Health:   health,
		Degraded: f.Degraded,
	}, serverHTTP.RouterConfig{
		Environment:    config.Environment,
		AllowedOrigins: config.Security.AllowedOrigins,
		SecureCookies:  config.Auth.SecureCookies,
		RateLimit: serverHTTP.RateLimitConfig{
			RequestsPerMinute: config.RateLimit.RequestsPerMinute,
			Burst:             config.RateLimit.Burst,
		},
		RequestTimeout:         config.RequestTimeout,
		GitHubCallbackRedirect: config.GitHub.CallbackRedirect,
	})

	// WriteTimeout stays zero: chat streams are long-lived and the router
	// applies its own per-request timeout.
	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return serveUntilSignal(server, logger)
}

func serveUntilSignal(server *http.Server, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("Server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}

		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}

		logger.Info("Server stopped")
		return nil
	}
}
