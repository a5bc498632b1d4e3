package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	authdomain "nexus/internal/auth/domain"
	billingadapters "nexus/internal/billing/adapters"
	billingapp "nexus/internal/billing/app"
	billingdomain "nexus/internal/billing/domain"
	"nexus/internal/chat/adapters"
	chatapp "nexus/internal/chat/app"
	"nexus/internal/chat/domain"
	"nexus/internal/infra/auth/crypto"
	"nexus/internal/infra/llm"
	"nexus/internal/infra/observability"
	sharederrors "nexus/internal/shared/errors"
	id "nexus/internal/shared/utils/id"
)

type fakeClient struct {
	model    string
	response llm.Response
	chunks   []string
	requests []llm.Request
	userIDs  []string
}

func (c *fakeClient) Model() string { return c.model }

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.requests = append(c.requests, req)
	c.userIDs = append(c.userIDs, id.UserIDFromContext(ctx))
	return c.response, nil
}

func (c *fakeClient) Stream(ctx context.Context, req llm.Request, onChunk llm.ChunkHandler) (llm.Response, error) {
	c.requests = append(c.requests, req)
	for _, chunk := range c.chunks {
		if err := onChunk(chunk); err != nil {
			return llm.Response{}, err
		}
	}
	return c.response, nil
}

type factoryCall struct {
	provider llm.Provider
	model    string
	apiKey   string
}

type fakeFactory struct {
	client *fakeClient
	calls  []factoryCall
}

func (f *fakeFactory) Client(provider llm.Provider, model, apiKey string) (llm.Client, error) {
	f.calls = append(f.calls, factoryCall{provider: provider, model: model, apiKey: apiKey})
	f.client.model = model
	return f.client, nil
}

type fixture struct {
	service *chatapp.Service
	billing *billingapp.Service
	store   *adapters.MemoryStore
	factory *fakeFactory
	metrics *observability.MetricsCollector
}

func newFixture(t *testing.T, bonus int64) *fixture {
	t.Helper()
	ledgerStore := billingadapters.NewMemoryStore()
	billing := billingapp.NewService(ledgerStore, ledgerStore, ledgerStore, billingdomain.DefaultRateTable(), billingapp.Config{SignupBonusCredits: bonus})
	store := adapters.NewMemoryStore()
	factory := &fakeFactory{client: &fakeClient{
		response: llm.Response{Content: "pong", Usage: llm.Usage{InputTokens: 1200, OutputTokens: 300}},
	}}
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{})
	require.NoError(t, err)
	sealer, err := crypto.NewSealer("test-secret")
	require.NoError(t, err)
	service := chatapp.NewService(store, billing, factory, chatapp.Config{
		DefaultProvider: llm.ProviderOpenAI,
		DefaultModel:    "gpt-4o",
		SystemPrompt:    "You are helpful.",
	}, chatapp.WithKeySealer(sealer), chatapp.WithMetrics(metrics))
	return &fixture{service: service, billing: billing, store: store, factory: factory, metrics: metrics}
}

func (f *fixture) newUser(t *testing.T) string {
	t.Helper()
	userID := uuid.NewString()
	require.NoError(t, f.billing.UserRegistered(context.Background(), authdomain.User{ID: userID}))
	return userID
}

func (f *fixture) newChat(t *testing.T, userID string) domain.Chat {
	t.Helper()
	chat, err := f.service.CreateChat(context.Background(), userID, domain.ChatInput{})
	require.NoError(t, err)
	return chat
}

func TestCreateChatAppliesDefaults(t *testing.T) {
	f := newFixture(t, 100)
	userID := f.newUser(t)

	chat := f.newChat(t, userID)
	require.Equal(t, "New chat", chat.Title)
	require.Equal(t, "openai", chat.Provider)
	require.Equal(t, "gpt-4o", chat.Model)
	require.Nil(t, chat.FolderID)

	claude, err := f.service.CreateChat(context.Background(), userID, domain.ChatInput{Title: "Claude", Provider: "claude"})
	require.NoError(t, err)
	require.Equal(t, "anthropic", claude.Provider)
	require.Equal(t, llm.DefaultModel(llm.ProviderAnthropic), claude.Model)

	_, err = f.service.CreateChat(context.Background(), userID, domain.ChatInput{Provider: "cohere"})
	require.ErrorIs(t, err, sharederrors.ErrValidation)
}

func TestChatsAreScopedToOwner(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	owner := f.newUser(t)
	other := f.newUser(t)
	chat := f.newChat(t, owner)

	_, err := f.service.GetChat(ctx, other, chat.ID)
	require.ErrorIs(t, err, domain.ErrChatNotFound)
	require.ErrorIs(t, f.service.DeleteChat(ctx, other, chat.ID), domain.ErrChatNotFound)
	_, err = f.service.SendMessage(ctx, other, chat.ID, domain.SendInput{Content: "hi"})
	require.ErrorIs(t, err, domain.ErrChatNotFound)
	_, err = f.service.GetChat(ctx, owner, "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrChatNotFound)
}

func TestDeletingFolderOrphansChats(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)

	folder, err := f.service.CreateFolder(ctx, userID, " Work ")
	require.NoError(t, err)
	require.Equal(t, "Work", folder.Name)

	chat, err := f.service.CreateChat(ctx, userID, domain.ChatInput{Title: "Filed", FolderID: &folder.ID})
	require.NoError(t, err)
	require.Equal(t, folder.ID, *chat.FolderID)

	filed, err := f.service.ListChats(ctx, userID, folder.ID)
	require.NoError(t, err)
	require.Len(t, filed, 1)

	require.NoError(t, f.service.DeleteFolder(ctx, userID, folder.ID))

	orphan, err := f.service.GetChat(ctx, userID, chat.ID)
	require.NoError(t, err)
	require.Nil(t, orphan.FolderID)
	require.Equal(t, "Filed", orphan.Title)

	_, err = f.service.RenameFolder(ctx, userID, folder.ID, "Gone")
	require.ErrorIs(t, err, domain.ErrFolderNotFound)
}

func TestUpdateChatMovesBetweenFolders(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	folder, err := f.service.CreateFolder(ctx, userID, "Ideas")
	require.NoError(t, err)

	title := "Renamed"
	updated, err := f.service.UpdateChat(ctx, userID, chat.ID, domain.ChatUpdate{Title: &title, FolderID: &folder.ID})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Title)
	require.Equal(t, folder.ID, *updated.FolderID)

	unfile := ""
	updated, err = f.service.UpdateChat(ctx, userID, chat.ID, domain.ChatUpdate{FolderID: &unfile})
	require.NoError(t, err)
	require.Nil(t, updated.FolderID)

	foreign, err := f.service.CreateFolder(ctx, f.newUser(t), "Not yours")
	require.NoError(t, err)
	_, err = f.service.UpdateChat(ctx, userID, chat.ID, domain.ChatUpdate{FolderID: &foreign.ID})
	require.ErrorIs(t, err, domain.ErrFolderNotFound)
}

func TestSendMessageDebitsBeforeReturning(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)

	exchange, err := f.service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: " ping "})
	require.NoError(t, err)

	expected := f.billing.CreditsForUsage("gpt-4o", 1500)
	require.Positive(t, expected)
	require.Equal(t, expected, exchange.CreditsUsed)
	require.False(t, exchange.BYOK)
	require.Equal(t, "ping", exchange.UserMessage.Content)
	require.Equal(t, "pong", exchange.AssistantMessage.Content)
	require.Equal(t, 1200, exchange.AssistantMessage.InputTokens)
	require.Equal(t, expected, exchange.AssistantMessage.CreditsUsed)

	credits, err := f.billing.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 100-expected, credits.Balance)

	require.Len(t, f.factory.calls, 1)
	require.Equal(t, factoryCall{provider: llm.ProviderOpenAI, model: "gpt-4o"}, f.factory.calls[0])

	client := f.factory.client
	require.Equal(t, []string{userID}, client.userIDs)
	require.Equal(t, "You are helpful.", client.requests[0].System)
	require.Equal(t, []llm.Message{{Role: "user", Content: "ping"}}, client.requests[0].Messages)

	messages, err := f.service.ListMessages(ctx, userID, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, domain.RoleAssistant, messages[1].Role)
}

func TestSendMessageRequiresPositiveBalance(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)

	_, err := f.service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "hi"})
	require.ErrorIs(t, err, billingdomain.ErrInsufficientCredits)
	require.Empty(t, f.factory.calls)

	messages, err := f.service.ListMessages(ctx, userID, chat.ID)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestSendMessageDebitFailureIsNotSwallowed(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	_, err := f.billing.Grant(ctx, userID, 1, billingdomain.TransactionBonus, nil)
	require.NoError(t, err)

	var reasons []string
	f.metrics.SetTestHooks(observability.MetricsTestHooks{
		DebitFailure: func(reason string) { reasons = append(reasons, reason) },
	})

	_, err = f.service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "expensive"})
	require.ErrorIs(t, err, billingdomain.ErrInsufficientCredits)
	require.Equal(t, []string{"insufficient_credits"}, reasons)

	messages, err := f.service.ListMessages(ctx, userID, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, domain.RoleUser, messages[0].Role)

	credits, err := f.billing.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(1), credits.Balance)
}

func TestSendMessageInBYOKModeUsesStoredKey(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	_, err := f.billing.UpdateSubscription(ctx, userID, billingdomain.ModeBYOK, "")
	require.NoError(t, err)

	_, err = f.service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "hi"})
	require.ErrorIs(t, err, sharederrors.ErrValidation)

	require.NoError(t, f.service.PutKey(ctx, userID, "openai", " sk-user "))
	exchange, err := f.service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "hi"})
	require.NoError(t, err)
	require.True(t, exchange.BYOK)
	require.Zero(t, exchange.CreditsUsed)
	require.Equal(t, "sk-user", f.factory.calls[len(f.factory.calls)-1].apiKey)

	credits, err := f.billing.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(100), credits.Balance)
}

func TestSendMessageSurfacesProviderDispatchErrors(t *testing.T) {
	ledgerStore := billingadapters.NewMemoryStore()
	billing := billingapp.NewService(ledgerStore, ledgerStore, ledgerStore, nil, billingapp.Config{SignupBonusCredits: 10})
	service := chatapp.NewService(adapters.NewMemoryStore(), billing, llm.NewFactory(llm.FactoryConfig{}), chatapp.Config{})
	ctx := context.Background()
	userID := uuid.NewString()
	require.NoError(t, billing.UserRegistered(ctx, authdomain.User{ID: userID}))

	chat, err := service.CreateChat(ctx, userID, domain.ChatInput{Provider: "google"})
	require.NoError(t, err)
	_, err = service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "hi"})
	require.ErrorIs(t, err, llm.ErrProviderNotImplemented)

	_, err = service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "hi", Provider: "anthropic"})
	require.ErrorIs(t, err, llm.ErrProviderNotConfigured)
}

func TestStreamMessageForwardsChunks(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	f.factory.client.chunks = []string{"po", "ng"}

	var received []string
	exchange, err := f.service.StreamMessage(ctx, userID, chat.ID, domain.SendInput{Content: "ping", Model: "gpt-4o-mini"}, func(chunk string) error {
		received = append(received, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"po", "ng"}, received)
	require.Equal(t, "gpt-4o-mini", exchange.AssistantMessage.Model)
	require.Equal(t, f.billing.CreditsForUsage("gpt-4o-mini", 1500), exchange.CreditsUsed)
}

func TestStreamMessageDrainsBalanceWhenTurnOutcostsIt(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	f.factory.client.chunks = []string{"full ", "answer"}
	require.Equal(t, int64(8), f.billing.CreditsForUsage("gpt-4o", 1500))

	var reasons []string
	f.metrics.SetTestHooks(observability.MetricsTestHooks{
		DebitFailure: func(reason string) { reasons = append(reasons, reason) },
	})

	var received []string
	onChunk := func(chunk string) error {
		received = append(received, chunk)
		return nil
	}
	exchange, err := f.service.StreamMessage(ctx, userID, chat.ID, domain.SendInput{Content: "ping"}, onChunk)
	require.NoError(t, err)
	require.Equal(t, []string{"full ", "answer"}, received)
	require.Equal(t, int64(1), exchange.CreditsUsed)
	require.Equal(t, int64(1), exchange.AssistantMessage.CreditsUsed)
	require.Equal(t, []string{"insufficient_credits"}, reasons)

	credits, err := f.billing.Balance(ctx, userID)
	require.NoError(t, err)
	require.Zero(t, credits.Balance)
	require.Equal(t, int64(1), credits.TotalSpent)

	txs, err := f.billing.ListTransactions(ctx, userID, 10, nil)
	require.NoError(t, err)
	require.Equal(t, billingdomain.TransactionUsage, txs[0].Type)
	require.Equal(t, int64(-1), txs[0].Amount)
	require.Zero(t, txs[0].BalanceAfter)
	require.Equal(t, int64(8), txs[0].Metadata["cost"])
	require.Equal(t, int64(7), txs[0].Metadata["shortfall"])
	require.Equal(t, chat.ID, txs[0].Metadata["chat_id"])

	// The drained account cannot start another paid turn.
	received = nil
	_, err = f.service.StreamMessage(ctx, userID, chat.ID, domain.SendInput{Content: "again"}, onChunk)
	require.ErrorIs(t, err, billingdomain.ErrInsufficientCredits)
	require.Empty(t, received)
	require.Len(t, f.factory.calls, 1)
}

type failingDebitLedger struct {
	*billingapp.Service
	err error
}

func (l failingDebitLedger) Debit(context.Context, string, int64, map[string]any) (billingdomain.CreditTransaction, error) {
	return billingdomain.CreditTransaction{}, l.err
}

func TestStreamMessageLedgerFailureLeavesBalanceUntouched(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	f.factory.client.chunks = []string{"po", "ng"}
	ledgerErr := errors.New("connection reset")
	service := chatapp.NewService(f.store, failingDebitLedger{Service: f.billing, err: ledgerErr}, f.factory, chatapp.Config{
		DefaultProvider: llm.ProviderOpenAI,
		DefaultModel:    "gpt-4o",
	}, chatapp.WithMetrics(f.metrics))

	var reasons []string
	f.metrics.SetTestHooks(observability.MetricsTestHooks{
		DebitFailure: func(reason string) { reasons = append(reasons, reason) },
	})

	_, err := service.StreamMessage(ctx, userID, chat.ID, domain.SendInput{Content: "ping"}, nil)
	require.ErrorIs(t, err, ledgerErr)
	require.Equal(t, []string{"ledger_error"}, reasons)

	credits, err := f.billing.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(100), credits.Balance)
	require.Zero(t, credits.TotalSpent)

	txs, err := f.billing.ListTransactions(ctx, userID, 10, nil)
	require.NoError(t, err)
	for _, tx := range txs {
		require.NotEqual(t, billingdomain.TransactionUsage, tx.Type)
	}

	messages, err := f.service.ListMessages(ctx, userID, chat.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, domain.RoleUser, messages[0].Role)
}

func TestDeleteChatRemovesMessagesAndSubtasks(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	_, err := f.service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "hi"})
	require.NoError(t, err)
	subtask, err := f.service.CreateSubtask(ctx, userID, chat.ID, "follow up")
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteChat(ctx, userID, chat.ID))
	_, err = f.service.ListMessages(ctx, userID, chat.ID)
	require.ErrorIs(t, err, domain.ErrChatNotFound)
	done := true
	_, err = f.service.UpdateSubtask(ctx, userID, subtask.ID, domain.SubtaskUpdate{Completed: &done})
	require.ErrorIs(t, err, domain.ErrSubtaskNotFound)
}

func TestSubtaskLifecycle(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)

	first, err := f.service.CreateSubtask(ctx, userID, chat.ID, "write tests")
	require.NoError(t, err)
	second, err := f.service.CreateSubtask(ctx, userID, chat.ID, "ship")
	require.NoError(t, err)
	require.Equal(t, 0, first.Position)
	require.Equal(t, 1, second.Position)

	done := true
	position := 5
	updated, err := f.service.UpdateSubtask(ctx, userID, first.ID, domain.SubtaskUpdate{Completed: &done, Position: &position})
	require.NoError(t, err)
	require.True(t, updated.Completed)

	subtasks, err := f.service.ListSubtasks(ctx, userID, chat.ID)
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, first.ID}, []string{subtasks[0].ID, subtasks[1].ID})

	negative := -1
	_, err = f.service.UpdateSubtask(ctx, userID, second.ID, domain.SubtaskUpdate{Position: &negative})
	require.ErrorIs(t, err, sharederrors.ErrValidation)

	_, err = f.service.UpdateSubtask(ctx, f.newUser(t), first.ID, domain.SubtaskUpdate{Completed: &done})
	require.ErrorIs(t, err, domain.ErrSubtaskNotFound)

	require.NoError(t, f.service.DeleteSubtask(ctx, userID, second.ID))
	require.ErrorIs(t, f.service.DeleteSubtask(ctx, userID, second.ID), domain.ErrSubtaskNotFound)
}

func TestProviderKeysAreSealedAndListedWithoutSecrets(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)

	require.NoError(t, f.service.PutKey(ctx, userID, "anthropic", "sk-ant-secret"))
	sealed, err := f.store.GetKey(ctx, userID, "anthropic")
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "sk-ant-secret")

	keys, err := f.service.ListKeys(ctx, userID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, "anthropic", keys[0].Provider)

	require.ErrorIs(t, f.service.PutKey(ctx, userID, "anthropic", "  "), sharederrors.ErrValidation)
	require.ErrorIs(t, f.service.PutKey(ctx, userID, "mistral", "k"), sharederrors.ErrValidation)

	require.NoError(t, f.service.DeleteKey(ctx, userID, "claude"))
	require.ErrorIs(t, f.service.DeleteKey(ctx, userID, "anthropic"), domain.ErrKeyNotFound)
}

func TestSendMessageEstimatesMissingUsage(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	f.factory.client.response = llm.Response{Content: "a b c d e"}

	exchange, err := f.service.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "hello world"})
	require.NoError(t, err)
	require.Positive(t, exchange.AssistantMessage.InputTokens)
	require.Equal(t, 5, exchange.AssistantMessage.OutputTokens)
	require.Equal(t, int64(1), exchange.CreditsUsed)
}

func TestHistoryTokenBudgetDropsOldestMessages(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()
	userID := f.newUser(t)
	chat := f.newChat(t, userID)
	f.factory.client.response = llm.Response{Content: "a b c d e", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}

	budgeted := chatapp.NewService(f.store, f.billing, f.factory, chatapp.Config{
		DefaultProvider:    llm.ProviderOpenAI,
		DefaultModel:       "gpt-4o",
		HistoryTokenBudget: 12,
	})
	for i := 0; i < 3; i++ {
		_, err := budgeted.SendMessage(ctx, userID, chat.ID, domain.SendInput{Content: "a b c d e"})
		require.NoError(t, err)
	}

	requests := f.factory.client.requests
	require.Len(t, requests, 3)
	require.Len(t, requests[0].Messages, 1)
	last := requests[2].Messages
	require.Len(t, last, 2)
	require.Equal(t, "assistant", last[0].Role)
	require.Equal(t, "user", last[1].Role)
}
