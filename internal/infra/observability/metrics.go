package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the server metrics.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	// HTTP server metrics
	httpRequests     metric.Int64Counter
	httpLatency      metric.Float64Histogram
	httpResponseSize metric.Int64Histogram

	// LLM metrics
	llmRequests     metric.Int64Counter
	llmTokensInput  metric.Int64Counter
	llmTokensOutput metric.Int64Counter
	llmLatency      metric.Float64Histogram

	// Ledger metrics
	creditsDebited metric.Int64Counter
	debitFailures  metric.Int64Counter
	webhookEvents  metric.Int64Counter

	streamConnections metric.Int64UpDownCounter

	testHooks MetricsTestHooks
}

// MetricsTestHooks exposes callbacks that tests use to assert instrumentation
// without scraping the exporter.
type MetricsTestHooks struct {
	HTTPServerRequest func(method, route string, status int, duration time.Duration, responseBytes int64)
	CreditsDebited    func(model string, credits int64)
	DebitFailure      func(reason string)
	WebhookEvent      func(source, eventType, status string)
}

// SetTestHooks registers callbacks invoked whenever the matching metric is recorded.
func (m *MetricsCollector) SetTestHooks(hooks MetricsTestHooks) {
	if m == nil {
		return
	}
	m.testHooks = hooks
}

// NewMetricsCollector creates a collector backed by a dedicated Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("nexus")

	collector := &MetricsCollector{provider: provider, registry: registry}
	b := builder{meter: meter}

	collector.httpRequests = b.counter("nexus.http.requests.total", "Total HTTP requests handled by the server", "{request}")
	collector.httpLatency = b.histogram("nexus.http.latency", "HTTP request latency in seconds", "s")
	collector.httpResponseSize = b.intHistogram("nexus.http.response.size", "HTTP response payload sizes in bytes", "By")
	collector.llmRequests = b.counter("nexus.llm.requests.total", "Total number of LLM requests", "{request}")
	collector.llmTokensInput = b.counter("nexus.llm.tokens.input", "Total input tokens sent to LLM providers", "{token}")
	collector.llmTokensOutput = b.counter("nexus.llm.tokens.output", "Total output tokens from LLM providers", "{token}")
	collector.llmLatency = b.histogram("nexus.llm.latency", "LLM request latency in seconds", "s")
	collector.creditsDebited = b.counter("nexus.credits.debited.total", "Credits debited for usage", "{credit}")
	collector.debitFailures = b.counter("nexus.credits.debit_failures.total", "Usage debits that failed", "{failure}")
	collector.webhookEvents = b.counter("nexus.webhook.events.total", "Payment webhook events received", "{event}")
	collector.streamConnections = b.upDown("nexus.stream.connections.active", "Active chat stream connections", "{connection}")
	if b.err != nil {
		return nil, b.err
	}
	return collector, nil
}

type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) counter(name, desc, unit string) metric.Int64Counter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s counter: %w", name, err)
	}
	return c
}

func (b *builder) upDown(name, desc, unit string) metric.Int64UpDownCounter {
	if b.err != nil {
		return nil
	}
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s gauge: %w", name, err)
	}
	return c
}

func (b *builder) histogram(name, desc, unit string) metric.Float64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h
}

func (b *builder) intHistogram(name, desc, unit string) metric.Int64Histogram {
	if b.err != nil {
		return nil
	}
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		b.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
	}
	return h
}

// Handler serves the Prometheus scrape endpoint. Disabled collectors answer 404.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordHTTPServerRequest records metrics for an HTTP request lifecycle.
func (m *MetricsCollector) RecordHTTPServerRequest(ctx context.Context, method, route string, status int, duration time.Duration, responseBytes int64) {
	if m == nil {
		return
	}
	if hook := m.testHooks.HTTPServerRequest; hook != nil {
		hook(method, route, status, duration, responseBytes)
	}
	if m.httpRequests == nil {
		return
	}
	routeAttrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(append(routeAttrs, attribute.Int("http.status_code", status))...))
	m.httpLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(routeAttrs...))
	if responseBytes >= 0 {
		m.httpResponseSize.Record(ctx, responseBytes, metric.WithAttributes(routeAttrs...))
	}
}

// RecordLLMRequest records an upstream LLM call.
func (m *MetricsCollector) RecordLLMRequest(ctx context.Context, provider, model, status string, latency time.Duration, inputTokens, outputTokens int) {
	if m == nil || m.llmRequests == nil {
		return
	}
	modelAttrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.llmRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("status", status),
	))
	m.llmTokensInput.Add(ctx, int64(inputTokens), modelAttrs)
	m.llmTokensOutput.Add(ctx, int64(outputTokens), modelAttrs)
	m.llmLatency.Record(ctx, latency.Seconds(), modelAttrs)
}

// RecordCreditsDebited records a successful usage debit.
func (m *MetricsCollector) RecordCreditsDebited(ctx context.Context, model string, credits int64) {
	if m == nil {
		return
	}
	if hook := m.testHooks.CreditsDebited; hook != nil {
		hook(model, credits)
	}
	if m.creditsDebited == nil {
		return
	}
	m.creditsDebited.Add(ctx, credits, metric.WithAttributes(attribute.String("model", model)))
}

// RecordDebitFailure counts a usage debit that did not go through.
func (m *MetricsCollector) RecordDebitFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	if hook := m.testHooks.DebitFailure; hook != nil {
		hook(reason)
	}
	if m.debitFailures == nil {
		return
	}
	m.debitFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordWebhookEvent counts an inbound payment webhook.
func (m *MetricsCollector) RecordWebhookEvent(ctx context.Context, source, eventType, status string) {
	if m == nil {
		return
	}
	if hook := m.testHooks.WebhookEvent; hook != nil {
		hook(source, eventType, status)
	}
	if m.webhookEvents == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("event_type", eventType),
		attribute.String("status", status),
	))
}

// IncrementStreamConnections increments the active stream gauge.
func (m *MetricsCollector) IncrementStreamConnections(ctx context.Context) {
	if m == nil || m.streamConnections == nil {
		return
	}
	m.streamConnections.Add(ctx, 1)
}

// DecrementStreamConnections decrements the active stream gauge.
func (m *MetricsCollector) DecrementStreamConnections(ctx context.Context) {
	if m == nil || m.streamConnections == nil {
		return
	}
	m.streamConnections.Add(ctx, -1)
}
