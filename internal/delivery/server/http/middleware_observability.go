package http

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nexus/internal/infra/observability"
	"nexus/internal/shared/logging"
)

// ObservabilityMiddleware wraps each request in a server span and records
// request metrics under the canonical route.
func ObservabilityMiddleware(obs *observability.Observability, latencyLogger logging.Logger) func(http.Handler) http.Handler {
	hasLatencyLogger := !logging.IsNil(latencyLogger)
	return func(next http.Handler) http.Handler {
		if obs == nil && !hasLatencyLogger {
			return next
		}
		latencyLogger = logging.OrNop(latencyLogger)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusWriter(w)
			start := time.Now()
			initialRoute := canonicalPath(r.URL.Path)
			ctx := withRouteHolder(r.Context())
			r = r.WithContext(ctx)

			if obs != nil && obs.Tracer != nil {
				ctx = observability.ExtractTraceContext(ctx, r.Header)
				spanCtx, span := obs.Tracer.StartSpan(ctx, observability.SpanHTTPServer,
					attribute.String("http.route", initialRoute),
					attribute.String("http.method", r.Method),
				)
				ctx = spanCtx
				r = r.WithContext(ctx)
				defer func() {
					if rec.status >= http.StatusInternalServerError {
						span.SetStatus(codes.Error, http.StatusText(rec.status))
					}
					span.SetAttributes(
						attribute.Int("http.status_code", rec.status),
						attribute.String("http.route", resolvedRoute(r, initialRoute)),
					)
					span.End()
				}()
			}

			next.ServeHTTP(rec, r)

			route := resolvedRoute(r, initialRoute)
			latency := time.Since(start)
			if obs != nil {
				obs.Metrics.RecordHTTPServerRequest(ctx, r.Method, route, rec.status, latency, rec.bytes)
			}
			if hasLatencyLogger {
				latencyLogger.Info("route=%s method=%s status=%d latency_ms=%.2f bytes=%d",
					route, r.Method, rec.status, float64(latency.Microseconds())/1000.0, rec.bytes)
			}
		})
	}
}

func resolvedRoute(r *http.Request, fallback string) string {
	if route := routeFromContext(r.Context()); route != "" {
		return route
	}
	return fallback
}
