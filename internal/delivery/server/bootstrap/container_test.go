package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"nexus/internal/infra/observability"
	runtimeconfig "nexus/internal/shared/config"
)

func memoryConfig(t *testing.T) runtimeconfig.Config {
	t.Helper()
	cfg, err := runtimeconfig.Load(runtimeconfig.MapEnvLookup(map[string]string{
		"AUTH_JWT_SECRET":      "container-secret",
		"SIGNUP_BONUS_CREDITS": "100",
	}))
	require.NoError(t, err)
	return cfg
}

func TestBuildContainerWithMemoryStores(t *testing.T) {
	obs := observability.NewWithConfig(observability.Config{})
	container, err := BuildContainer(memoryConfig(t), nil, obs, nil)
	require.NoError(t, err)
	require.NotNil(t, container.LLM)

	ctx := context.Background()
	user, err := container.Auth.Register(ctx, "boot@example.com", "password1", "")
	require.NoError(t, err)

	credits, err := container.Billing.Balance(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), credits.Balance)
}

func TestBuildContainerRejectsUnknownProvider(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.LLM.DefaultProvider = "mystery"

	_, err := BuildContainer(cfg, nil, nil, nil)
	require.Error(t, err)
}

func TestBuildContainerRejectsMissingRateFile(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.CreditRates = "/nonexistent/rates.yaml"

	_, err := BuildContainer(cfg, nil, nil, nil)
	require.Error(t, err)
}
