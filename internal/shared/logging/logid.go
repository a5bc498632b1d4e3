package logging

import (
	"context"

	id "nexus/internal/shared/utils/id"
)

// fieldLogger is implemented by loggers that carry request-scoped fields
// as structured attributes.
type fieldLogger interface {
	withField(key, value string) Logger
}

// WithLogID returns a logger that tags every line with logID.
func WithLogID(logger Logger, logID string) Logger {
	return WithField(logger, "log_id", logID)
}

// FromContext tags logger with the log id and authenticated user id found
// on ctx.
func FromContext(ctx context.Context, logger Logger) Logger {
	logger = WithField(logger, "log_id", id.LogIDFromContext(ctx))
	return WithField(logger, "user_id", id.UserIDFromContext(ctx))
}

// WithField returns a logger that adds key=value to every line. Empty values
// leave logger unchanged. Loggers without native field support get the pair
// prepended to the message.
func WithField(logger Logger, key, value string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if key == "" || value == "" {
		return logger
	}
	switch l := logger.(type) {
	case fieldLogger:
		return l.withField(key, value)
	case *multiLogger:
		tagged := make([]Logger, len(l.loggers))
		for i, inner := range l.loggers {
			tagged[i] = WithField(inner, key, value)
		}
		return &multiLogger{loggers: tagged}
	}
	return &prefixLogger{logger: logger, prefix: key + "=" + value + " "}
}

type prefixLogger struct {
	logger Logger
	prefix string
}

func (l *prefixLogger) withField(key, value string) Logger {
	return &prefixLogger{logger: l.logger, prefix: l.prefix + key + "=" + value + " "}
}

func (l *prefixLogger) Debug(format string, args ...any) { l.logger.Debug(l.prefix+format, args...) }
func (l *prefixLogger) Info(format string, args ...any)  { l.logger.Info(l.prefix+format, args...) }
func (l *prefixLogger) Warn(format string, args ...any)  { l.logger.Warn(l.prefix+format, args...) }
func (l *prefixLogger) Error(format string, args ...any) { l.logger.Error(l.prefix+format, args...) }
