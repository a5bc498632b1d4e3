package app

import (
	"context"
	"strings"

	"nexus/internal/chat/domain"
	"nexus/internal/infra/llm"
	sharederrors "nexus/internal/shared/errors"
)

func keyAssociatedData(userID string, provider llm.Provider) string {
	return userID + ":" + string(provider)
}

func parseKeyProvider(value string) (llm.Provider, error) {
	provider, err := llm.ParseProvider(value)
	if err != nil {
		return "", sharederrors.NewValidationError("provider", "%q is not supported", value)
	}
	return provider, nil
}

// PutKey stores or replaces the user's API key for provider.
func (s *Service) PutKey(ctx context.Context, userID, providerName, apiKey string) error {
	if s.sealer == nil {
		return domain.ErrSealerMissing
	}
	provider, err := parseKeyProvider(providerName)
	if err != nil {
		return err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return sharederrors.NewValidationError("api_key", "is required")
	}
	sealed, err := s.sealer.SealString(apiKey, keyAssociatedData(userID, provider))
	if err != nil {
		return err
	}
	return s.store.PutKey(ctx, userID, string(provider), sealed, s.now())
}

// DeleteKey removes the user's key for provider.
func (s *Service) DeleteKey(ctx context.Context, userID, providerName string) error {
	provider, err := parseKeyProvider(providerName)
	if err != nil {
		return err
	}
	return s.store.DeleteKey(ctx, userID, string(provider))
}

// ListKeys reports which providers have a stored key.
func (s *Service) ListKeys(ctx context.Context, userID string) ([]domain.ProviderKey, error) {
	return s.store.ListKeys(ctx, userID)
}

func (s *Service) userKey(ctx context.Context, userID string, provider llm.Provider) (string, error) {
	if s.sealer == nil {
		return "", domain.ErrSealerMissing
	}
	sealed, err := s.store.GetKey(ctx, userID, string(provider))
	if err != nil {
		return "", err
	}
	return s.sealer.OpenString(sealed, keyAssociatedData(userID, provider))
}
