package bootstrap

import (
	"fmt"
	"strings"

	runtimeconfig "nexus/internal/shared/config"
	"nexus/internal/shared/logging"
)

// LoadConfig resolves the server configuration from the optional KEY=VALUE
// file at configPath and the process environment. Validation errors abort;
// warnings are logged.
func LoadConfig(configPath string, logger logging.Logger) (runtimeconfig.Config, error) {
	logger = logging.OrNop(logger)
	lookup := runtimeconfig.DefaultEnvLookupWithAliases()
	if path := strings.TrimSpace(configPath); path != "" {
		fileLookup, err := runtimeconfig.FileEnvLookup(path)
		if err != nil {
			return runtimeconfig.Config{}, err
		}
		lookup = fileLookup
	}

	cfg, err := runtimeconfig.Load(lookup)
	if err != nil {
		return runtimeconfig.Config{}, fmt.Errorf("load config: %w", err)
	}
	report := runtimeconfig.Validate(cfg)
	for _, warning := range report.Warnings {
		logger.Warn("Config: %s", warning)
	}
	if err := report.Err(); err != nil {
		return runtimeconfig.Config{}, err
	}
	return cfg, nil
}

// sealerSecret picks the at-rest encryption secret, falling back to the JWT
// secret when no dedicated key is configured.
func sealerSecret(cfg runtimeconfig.Config) string {
	if key := strings.TrimSpace(cfg.Security.EncryptionKey); key != "" {
		return key
	}
	return cfg.Auth.JWTSecret
}
