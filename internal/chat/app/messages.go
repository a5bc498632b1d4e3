package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	billingdomain "nexus/internal/billing/domain"
	"nexus/internal/chat/domain"
	"nexus/internal/infra/llm"
	sharederrors "nexus/internal/shared/errors"
	tokenutil "nexus/internal/shared/token"
	id "nexus/internal/shared/utils/id"
)

const maxMessageLength = 100_000

// turn is a resolved request: which client to call and how it is paid for.
type turn struct {
	provider llm.Provider
	client   llm.Client
	byok     bool
}

// SendMessage runs one completion turn and returns both stored messages.
func (s *Service) SendMessage(ctx context.Context, userID, chatID string, input domain.SendInput) (domain.Exchange, error) {
	return s.converse(ctx, userID, chatID, input, nil)
}

// StreamMessage is SendMessage with incremental delivery through onChunk.
func (s *Service) StreamMessage(ctx context.Context, userID, chatID string, input domain.SendInput, onChunk llm.ChunkHandler) (domain.Exchange, error) {
	if onChunk == nil {
		onChunk = func(string) error { return nil }
	}
	return s.converse(ctx, userID, chatID, input, onChunk)
}

func (s *Service) converse(ctx context.Context, userID, chatID string, input domain.SendInput, onChunk llm.ChunkHandler) (domain.Exchange, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return domain.Exchange{}, sharederrors.NewValidationError("content", "is required")
	}
	if len(content) > maxMessageLength {
		return domain.Exchange{}, sharederrors.NewValidationError("content", "must be at most %d characters", maxMessageLength)
	}
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return domain.Exchange{}, err
	}
	t, err := s.resolveTurn(ctx, userID, chat, input)
	if err != nil {
		return domain.Exchange{}, err
	}

	userMessage, err := s.store.AppendMessage(ctx, domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Exchange{}, err
	}
	history, err := s.store.ListMessages(ctx, chat.ID, s.config.HistoryLimit)
	if err != nil {
		return domain.Exchange{}, err
	}

	history = s.withinTokenBudget(history)

	req := llm.Request{
		Model:     t.client.Model(),
		System:    s.config.SystemPrompt,
		Messages:  toLLMMessages(history),
		MaxTokens: s.config.MaxTokens,
	}
	ctx = id.WithUserID(ctx, userID)
	var resp llm.Response
	if onChunk != nil {
		resp, err = t.client.Stream(ctx, req, onChunk)
	} else {
		resp, err = t.client.Complete(ctx, req)
	}
	if err != nil {
		s.logger.Warn("Completion failed for chat %s (%s/%s): %v", chat.ID, t.provider, t.client.Model(), err)
		return domain.Exchange{}, err
	}

	if resp.TotalTokens() == 0 && resp.Content != "" {
		resp.Usage = estimateUsage(req, resp.Content)
		s.logger.Debug("Provider %s reported no usage for chat %s; estimated %d tokens", t.provider, chat.ID, resp.TotalTokens())
	}

	var credits int64
	if !t.byok {
		credits, err = s.chargeTurn(ctx, userID, chat.ID, t, resp, onChunk != nil)
		if err != nil {
			return domain.Exchange{}, err
		}
	}

	assistant, err := s.store.AppendMessage(ctx, domain.Message{
		ID:           uuid.NewString(),
		ChatID:       chat.ID,
		Role:         domain.RoleAssistant,
		Content:      resp.Content,
		Provider:     string(t.provider),
		Model:        t.client.Model(),
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CreditsUsed:  credits,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return domain.Exchange{}, err
	}
	return domain.Exchange{
		UserMessage:      userMessage,
		AssistantMessage: assistant,
		CreditsUsed:      credits,
		BYOK:             t.byok,
	}, nil
}

// drainAttempts bounds how often a delivered turn retries draining a balance
// that concurrent debits keep moving.
const drainAttempts = 3

// chargeTurn debits the cost of a completed turn. A non-streamed turn that
// cannot be paid fails before its reply is stored. A streamed turn has already
// reached the client, so a shortfall drains the remaining balance to zero and
// the turn is kept.
func (s *Service) chargeTurn(ctx context.Context, userID, chatID string, t turn, resp llm.Response, delivered bool) (int64, error) {
	cost := s.ledger.CreditsForUsage(t.client.Model(), resp.TotalTokens())
	metadata := map[string]any{
		"chat_id":       chatID,
		"provider":      string(t.provider),
		"model":         t.client.Model(),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}
	_, err := s.ledger.Debit(ctx, userID, cost, metadata)
	if err == nil {
		return cost, nil
	}
	if !errors.Is(err, billingdomain.ErrInsufficientCredits) {
		s.metrics.RecordDebitFailure(ctx, "ledger_error")
		s.logger.Error("Debit of %d credits failed for user %s chat %s: %v", cost, userID, chatID, err)
		return 0, fmt.Errorf("debit usage: %w", err)
	}
	s.metrics.RecordDebitFailure(ctx, "insufficient_credits")
	if !delivered {
		s.logger.Warn("User %s cannot cover %d credits for chat %s", userID, cost, chatID)
		return 0, fmt.Errorf("debit usage: %w", err)
	}

	for attempt := 0; attempt < drainAttempts; attempt++ {
		credits, err := s.ledger.Balance(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("read balance: %w", err)
		}
		if credits.Balance <= 0 {
			break
		}
		partial := billingdomain.CloneMetadata(metadata)
		partial["cost"] = cost
		partial["shortfall"] = cost - credits.Balance
		_, err = s.ledger.Debit(ctx, userID, credits.Balance, partial)
		if err == nil {
			s.logger.Warn("Streamed turn for chat %s cost %d credits; drained remaining %d from user %s",
				chatID, cost, credits.Balance, userID)
			return credits.Balance, nil
		}
		if !errors.Is(err, billingdomain.ErrInsufficientCredits) {
			s.logger.Error("Draining balance for user %s chat %s failed: %v", userID, chatID, err)
			return 0, fmt.Errorf("debit usage: %w", err)
		}
	}
	s.logger.Warn("Streamed turn for chat %s delivered with no balance left to charge user %s", chatID, userID)
	return 0, nil
}

// resolveTurn picks the provider and model and decides how the turn is paid:
// BYOK users call with their own key; everyone else needs a positive balance
// and a platform key.
func (s *Service) resolveTurn(ctx context.Context, userID string, chat domain.Chat, input domain.SendInput) (turn, error) {
	providerName := strings.TrimSpace(input.Provider)
	if providerName == "" {
		providerName = chat.Provider
	}
	provider, err := llm.ParseProvider(providerName)
	if err != nil {
		return turn{}, err
	}
	model := strings.TrimSpace(input.Model)
	if model == "" && string(provider) == chat.Provider {
		model = chat.Model
	}
	if model == "" {
		model = s.defaultModel(provider)
	}

	subscription, err := s.ledger.GetSubscription(ctx, userID)
	if err != nil {
		return turn{}, err
	}
	if subscription.Mode == billingdomain.ModeBYOK {
		apiKey, err := s.userKey(ctx, userID, provider)
		if errors.Is(err, domain.ErrKeyNotFound) {
			return turn{}, sharederrors.NewValidationError("provider", "no API key stored for %s", provider)
		}
		if err != nil {
			return turn{}, err
		}
		client, err := s.clients.Client(provider, model, apiKey)
		if err != nil {
			return turn{}, err
		}
		return turn{provider: provider, client: client, byok: true}, nil
	}

	credits, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return turn{}, err
	}
	if credits.Balance <= 0 {
		return turn{}, billingdomain.ErrInsufficientCredits
	}
	client, err := s.clients.Client(provider, model, "")
	if err != nil {
		return turn{}, err
	}
	return turn{provider: provider, client: client}, nil
}

func toLLMMessages(history []domain.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return messages
}

func (s *Service) withinTokenBudget(history []domain.Message) []domain.Message {
	if s.config.HistoryTokenBudget <= 0 || len(history) == 0 {
		return history
	}
	texts := make([]string, len(history))
	for i, msg := range history {
		texts[i] = msg.Content
	}
	keep := tokenutil.SuffixWithinBudget(texts, s.config.HistoryTokenBudget)
	return history[len(history)-keep:]
}

// estimateUsage counts tokens locally for providers that omit usage.
func estimateUsage(req llm.Request, output string) llm.Usage {
	input := tokenutil.CountTokens(req.System)
	for _, msg := range req.Messages {
		input += tokenutil.CountTokens(msg.Content)
	}
	return llm.Usage{InputTokens: input, OutputTokens: tokenutil.CountTokens(output)}
}
