package bootstrap

import (
	"strings"

	runtimeconfig "nexus/internal/shared/config"
	"nexus/internal/shared/logging"
)

// LogServerConfiguration prints a safe, redacted snapshot of the server configuration.
func LogServerConfiguration(logger logging.Logger, config runtimeconfig.Config) {
	logger = logging.OrNop(logger)

	logger.Info("=== Server Configuration ===")
	logger.Info("Environment: %s", config.Environment)
	logger.Info("Port: %s", config.Port)
	if strings.TrimSpace(config.Database.URL) != "" {
		logger.Info("Database: (set; max_conns=%d)", config.Database.MaxConns)
	} else {
		logger.Warn("Database: (not set)")
	}
	logger.Info("LLM Default: %s/%s", config.LLM.DefaultProvider, config.LLM.DefaultModel)
	logger.Debug("OpenAI API Key: %s", setOrNot(config.LLM.OpenAIAPIKey))
	logger.Debug("Anthropic API Key: %s", setOrNot(config.LLM.AnthropicAPIKey))
	logger.Debug("User LLM Rate: %.2f rps (burst=%d)", config.LLM.UserRPS, config.LLM.UserBurst)
	logger.Info("GitHub OAuth: enabled=%t", config.GitHub.Enabled())
	logger.Info("Stripe Checkout: %s", setOrNot(config.Payments.StripeSecretKey))
	logger.Debug("Payment Webhook Secret: %s", setOrNot(config.Payments.WebhookSecret))
	logger.Debug("HTTP Rate Limit: %d rpm (burst=%d)", config.RateLimit.RequestsPerMinute, config.RateLimit.Burst)
	logger.Debug("HTTP Request Timeout: %s", config.RequestTimeout)
	logger.Debug("Outbound Proxy Mode: %s", config.ProxyMode)
	logger.Debug("Allowed Origins: %v", config.Security.AllowedOrigins)
	logger.Debug("Maintenance Schedule: %s", config.MaintenanceSchedule)
	logger.Info("===========================")
}

func setOrNot(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}
