package observability

import (
	"context"
	"fmt"

	"nexus/internal/shared/logging"
)

// Observability bundles the process-wide logger, metrics and tracer.
type Observability struct {
	Logger  logging.Logger
	Metrics *MetricsCollector
	Tracer  *TracerProvider
	config  Config
}

// New loads the YAML config at configPath and wires every component.
// Metrics and tracing failures degrade to no-ops.
func New(configPath string) (*Observability, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load observability config: %w", err)
	}
	return NewWithConfig(config), nil
}

// NewWithConfig wires components from an already loaded config.
func NewWithConfig(config Config) *Observability {
	logging.Configure(logging.Options{
		Level:  config.Logging.Level,
		Format: config.Logging.Format,
	})
	logger := logging.NewComponentLogger("Observability")

	metrics, err := NewMetricsCollector(config.Metrics)
	if err != nil {
		logger.Error("Failed to initialize metrics: %v", err)
		metrics = &MetricsCollector{}
	}

	tracer, err := NewTracerProvider(config.Tracing)
	if err != nil {
		logger.Error("Failed to initialize tracing: %v", err)
		tracer, _ = NewTracerProvider(TracingConfig{})
	}

	logger.Info("Observability initialized (log_level=%s metrics=%t tracing=%t)",
		config.Logging.Level, config.Metrics.Enabled, config.Tracing.Enabled)

	return &Observability{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
		config:  config,
	}
}

// Shutdown gracefully shuts down all observability components.
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	o.Logger.Info("Shutting down observability")
	if err := o.Metrics.Shutdown(ctx); err != nil {
		o.Logger.Error("Failed to shutdown metrics: %v", err)
	}
	if err := o.Tracer.Shutdown(ctx); err != nil {
		o.Logger.Error("Failed to shutdown tracing: %v", err)
	}
	return nil
}

// Config returns the loaded configuration.
func (o *Observability) Config() Config {
	return o.config
}
