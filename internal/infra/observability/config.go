package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete observability configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `yaml:"zipkin_endpoint"`
	SampleRate     float64 `yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

// DefaultConfig returns the default observability configuration.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "nexus",
			ServiceVersion: "1.0.0",
		},
	}
}

// LoadConfig loads observability configuration from a YAML file. A missing
// file or empty path yields the defaults.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()
	if strings.TrimSpace(configPath) == "" {
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileConfig struct {
		Observability *struct {
			Logging LoggingConfig `yaml:"logging"`
			Metrics *struct {
				Enabled *bool `yaml:"enabled"`
			} `yaml:"metrics"`
			Tracing TracingConfig `yaml:"tracing"`
		} `yaml:"observability"`
	}
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return config, fmt.Errorf("failed to parse config file: %w", err)
	}
	parsed := fileConfig.Observability
	if parsed == nil {
		return config, nil
	}

	if parsed.Logging.Level != "" {
		config.Logging.Level = parsed.Logging.Level
	}
	if parsed.Logging.Format != "" {
		config.Logging.Format = parsed.Logging.Format
	}
	if parsed.Metrics != nil && parsed.Metrics.Enabled != nil {
		config.Metrics.Enabled = *parsed.Metrics.Enabled
	}

	// Tracing is opt-in: the file's flag always wins.
	config.Tracing.Enabled = parsed.Tracing.Enabled
	if parsed.Tracing.Exporter != "" {
		config.Tracing.Exporter = parsed.Tracing.Exporter
	}
	if parsed.Tracing.OTLPEndpoint != "" {
		config.Tracing.OTLPEndpoint = parsed.Tracing.OTLPEndpoint
	}
	if parsed.Tracing.ZipkinEndpoint != "" {
		config.Tracing.ZipkinEndpoint = parsed.Tracing.ZipkinEndpoint
	}
	if parsed.Tracing.SampleRate > 0 && parsed.Tracing.SampleRate <= 1.0 {
		config.Tracing.SampleRate = parsed.Tracing.SampleRate
	}
	if parsed.Tracing.ServiceName != "" {
		config.Tracing.ServiceName = parsed.Tracing.ServiceName
	}
	if parsed.Tracing.ServiceVersion != "" {
		config.Tracing.ServiceVersion = parsed.Tracing.ServiceVersion
	}

	return config, nil
}
