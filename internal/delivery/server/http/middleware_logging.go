package http

import (
	"net/http"
	"strings"
	"time"

	"nexus/internal/shared/logging"
	id "nexus/internal/shared/utils/id"
)

const slowRequestThreshold = 5 * time.Second

var logIDHeaders = []string{"X-Log-Id", "X-Request-Id", "X-Correlation-Id"}

func incomingLogID(r *http.Request) string {
	for _, header := range logIDHeaders {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value
		}
	}
	return ""
}

// LoggingMiddleware tags each request with a log id, reusing one supplied by
// the caller, and echoes it in X-Log-Id. Slow non-stream requests are
// logged when the handler returns.
func LoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logID := id.LogIDFromContext(ctx)
			if logID == "" {
				if logID = incomingLogID(r); logID == "" {
					logID = id.NewLogID()
				}
				ctx = id.WithLogID(ctx, logID)
			}
			w.Header().Set("X-Log-Id", logID)
			reqLogger := logging.WithLogID(logger, logID)
			reqLogger.Debug("%s %s from %s", r.Method, r.URL.Path, clientIP(r))

			rec := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			elapsed := time.Since(start)

			if elapsed > slowRequestThreshold && !isStreamRequest(r) {
				reqLogger.Warn("Slow request %s %s returned %d after %s", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond))
			}
		})
	}
}
