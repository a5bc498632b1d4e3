package config

import (
	"os"
	"strings"
)

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// AliasEnvLookup wraps an EnvLookup with additional alias keys.
func AliasEnvLookup(base EnvLookup, aliases map[string][]string) EnvLookup {
	return func(key string) (string, bool) {
		if base == nil {
			base = DefaultEnvLookup
		}
		if value, ok := base(key); ok && value != "" {
			return value, true
		}
		if list, ok := aliases[key]; ok {
			for _, alias := range list {
				if value, ok := base(alias); ok && value != "" {
					return value, true
				}
			}
		}
		return "", false
	}
}

// ChainEnvLookup returns the first non-empty value across lookups.
func ChainEnvLookup(lookups ...EnvLookup) EnvLookup {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if lookup == nil {
				continue
			}
			if value, ok := lookup(key); ok && value != "" {
				return value, true
			}
		}
		return "", false
	}
}

// MapEnvLookup serves values from a static map. Keys are matched case-insensitively.
func MapEnvLookup(values map[string]string) EnvLookup {
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		normalized[strings.ToUpper(strings.TrimSpace(key))] = value
	}
	return func(key string) (string, bool) {
		value, ok := normalized[strings.ToUpper(key)]
		return value, ok
	}
}

// DefaultEnvAliases returns the alias map used to resolve prefixed variable names.
func DefaultEnvAliases() map[string][]string {
	aliases := map[string][]string{
		"PORT":                   {"NEXUS_PORT"},
		"DATABASE_URL":           {"NEXUS_DATABASE_URL", "POSTGRES_URL"},
		"DATABASE_MAX_CONNS":     {"NEXUS_DATABASE_MAX_CONNS"},
		"AUTH_JWT_SECRET":        {"NEXUS_JWT_SECRET", "JWT_SECRET"},
		"AUTH_TOKEN_TTL_HOURS":   {"NEXUS_TOKEN_TTL_HOURS"},
		"AUTH_SECURE_COOKIES":    {"NEXUS_SECURE_COOKIES"},
		"DEFAULT_PROVIDER":       {"NEXUS_DEFAULT_PROVIDER", "LLM_PROVIDER"},
		"DEFAULT_MODEL":          {"NEXUS_DEFAULT_MODEL", "LLM_MODEL"},
		"PAYMENT_WEBHOOK_SECRET": {"NEXUS_PAYMENT_WEBHOOK_SECRET"},
		"ENCRYPTION_KEY":         {"NEXUS_ENCRYPTION_KEY"},
		"CORS_ALLOWED_ORIGINS":   {"NEXUS_ALLOWED_ORIGINS"},
		"USER_LLM_RPS":           {"NEXUS_USER_LLM_RPS"},
		"USER_LLM_BURST":         {"NEXUS_USER_LLM_BURST"},
		"NEXUS_ENV":              {"ENVIRONMENT", "NODE_ENV"},
	}

	copy := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		copy[key] = append([]string(nil), list...)
	}
	return copy
}

// DefaultEnvLookupWithAliases composes DefaultEnvLookup with DefaultEnvAliases.
func DefaultEnvLookupWithAliases() EnvLookup {
	return AliasEnvLookup(DefaultEnvLookup, DefaultEnvAliases())
}
