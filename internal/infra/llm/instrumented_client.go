package llm

import (
	"context"
	"time"

	"nexus/internal/infra/observability"
)

// instrumentedClient records spans and metrics for every call.
type instrumentedClient struct {
	base     Client
	provider Provider
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
}

// WrapWithObservability instruments client; nil collectors are no-ops.
func WrapWithObservability(client Client, provider Provider, metrics *observability.MetricsCollector, tracer *observability.TracerProvider) Client {
	if metrics == nil && tracer == nil {
		return client
	}
	return &instrumentedClient{base: client, provider: provider, metrics: metrics, tracer: tracer}
}

func (c *instrumentedClient) Model() string {
	return c.base.Model()
}

func (c *instrumentedClient) Complete(ctx context.Context, req Request) (Response, error) {
	return c.observe(ctx, req, func(ctx context.Context) (Response, error) {
		return c.base.Complete(ctx, req)
	})
}

func (c *instrumentedClient) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Response, error) {
	return c.observe(ctx, req, func(ctx context.Context) (Response, error) {
		return c.base.Stream(ctx, req, onChunk)
	})
}

func (c *instrumentedClient) observe(ctx context.Context, req Request, call func(context.Context) (Response, error)) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.base.Model()
	}
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanLLMGenerate)
	defer span.End()

	started := time.Now()
	resp, err := call(ctx)
	latency := time.Since(started)

	status := "success"
	if err != nil {
		status = "error"
		observability.FailSpan(span, err, "llm request failed")
	}
	span.SetAttributes(observability.LLMAttrs(string(c.provider), model, resp.Usage.InputTokens, resp.Usage.OutputTokens)...)
	c.metrics.RecordLLMRequest(ctx, string(c.provider), model, status, latency, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, err
}
