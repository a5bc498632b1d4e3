package id

import (
	"context"
	"strings"

	"github.com/segmentio/ksuid"
)

type logIDKey struct{}

// NewLogID returns a sortable identifier used to correlate log lines of one request.
func NewLogID() string {
	return "log-" + ksuid.New().String()
}

// WithLogID stores the log id on ctx.
func WithLogID(ctx context.Context, logID string) context.Context {
	logID = strings.TrimSpace(logID)
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logIDKey{}, logID)
}

// LogIDFromContext returns the log id stored on ctx, if any.
func LogIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(logIDKey{}).(string); ok {
		return value
	}
	return ""
}

// NewRequestIDWithLogID builds an upstream request id that embeds the log id when present.
func NewRequestIDWithLogID(logID string) string {
	body := "llm-" + ksuid.New().String()
	logID = strings.TrimSpace(logID)
	if logID == "" {
		return body
	}
	return logID + ":" + body
}
