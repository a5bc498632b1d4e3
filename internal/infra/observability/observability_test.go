package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestLoadConfig_NonExistent(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/observability.yaml")
	require.NoError(t, err)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "observability.yaml")
	configContent := `
observability:
  logging:
    level: debug
    format: text
  metrics:
    enabled: false
  tracing:
    enabled: true
    exporter: zipkin
    sample_rate: 0.5
    service_name: nexus-test
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.True(t, config.Tracing.Enabled)
	assert.Equal(t, "zipkin", config.Tracing.Exporter)
	assert.Equal(t, 0.5, config.Tracing.SampleRate)
	assert.Equal(t, "nexus-test", config.Tracing.ServiceName)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "observability.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("observability: [unterminated"), 0o644))

	_, err := LoadConfig(configPath)
	require.Error(t, err)
}

func TestMetricsCollectorServesPrometheusScrape(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: true})
	require.NoError(t, err)
	defer collector.Shutdown(context.Background())

	ctx := context.Background()
	collector.RecordHTTPServerRequest(ctx, http.MethodGet, "/api/credits", http.StatusOK, 5*time.Millisecond, 42)
	collector.RecordCreditsDebited(ctx, "gpt-4o", 7)
	collector.RecordDebitFailure(ctx, "insufficient_credits")
	collector.RecordWebhookEvent(ctx, "payments", "payment_completed", "ok")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "nexus_http_requests_total"), "missing http counter in scrape")
	assert.True(t, strings.Contains(body, "nexus_credits_debited_total"), "missing credits counter in scrape")
}

func TestMetricsCollectorNilSafe(t *testing.T) {
	var collector *MetricsCollector
	ctx := context.Background()

	collector.RecordHTTPServerRequest(ctx, http.MethodGet, "/", http.StatusOK, time.Millisecond, 0)
	collector.RecordLLMRequest(ctx, "openai", "gpt-4o", "success", time.Millisecond, 1, 1)
	collector.IncrementStreamConnections(ctx)
	require.NoError(t, collector.Shutdown(ctx))

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsTestHooksFire(t *testing.T) {
	collector := &MetricsCollector{}
	var reasons []string
	collector.SetTestHooks(MetricsTestHooks{DebitFailure: func(reason string) { reasons = append(reasons, reason) }})

	collector.RecordDebitFailure(context.Background(), "store_error")
	require.Equal(t, []string{"store_error"}, reasons)
}

func TestTracerProviderDisabledIsNoop(t *testing.T) {
	tracer, err := NewTracerProvider(TracingConfig{})
	require.NoError(t, err)

	ctx, span := tracer.StartSpan(context.Background(), SpanHTTPServer)
	require.NotNil(t, ctx)
	span.End()
	require.NoError(t, tracer.Shutdown(context.Background()))
}

func TestTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
}
