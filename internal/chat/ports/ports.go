package ports

import (
	"context"
	"time"

	billingdomain "nexus/internal/billing/domain"
	"nexus/internal/chat/domain"
	"nexus/internal/infra/llm"
)

// FolderStore persists folders. Every method is scoped to userID.
type FolderStore interface {
	CreateFolder(ctx context.Context, folder domain.Folder) (domain.Folder, error)
	GetFolder(ctx context.Context, userID, folderID string) (domain.Folder, error)
	ListFolders(ctx context.Context, userID string) ([]domain.Folder, error)
	RenameFolder(ctx context.Context, userID, folderID, name string, at time.Time) (domain.Folder, error)
	DeleteFolder(ctx context.Context, userID, folderID string) error
}

// ChatStore persists chats. Deleting a chat removes its messages and subtasks.
type ChatStore interface {
	CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (domain.Chat, error)
	ListChats(ctx context.Context, userID string, folderID *string) ([]domain.Chat, error)
	UpdateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error)
	DeleteChat(ctx context.Context, userID, chatID string) error
}

// MessageStore persists messages; appending bumps the chat's updated_at.
type MessageStore interface {
	AppendMessage(ctx context.Context, message domain.Message) (domain.Message, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error)
}

// SubtaskStore persists subtasks.
type SubtaskStore interface {
	CreateSubtask(ctx context.Context, subtask domain.Subtask) (domain.Subtask, error)
	GetSubtask(ctx context.Context, userID, subtaskID string) (domain.Subtask, error)
	ListSubtasks(ctx context.Context, userID, chatID string) ([]domain.Subtask, error)
	UpdateSubtask(ctx context.Context, subtask domain.Subtask) (domain.Subtask, error)
	DeleteSubtask(ctx context.Context, userID, subtaskID string) error
}

// KeyStore persists sealed BYOK keys.
type KeyStore interface {
	PutKey(ctx context.Context, userID, provider string, sealed []byte, at time.Time) error
	GetKey(ctx context.Context, userID, provider string) ([]byte, error)
	ListKeys(ctx context.Context, userID string) ([]domain.ProviderKey, error)
	DeleteKey(ctx context.Context, userID, provider string) error
}

// Store bundles the chat repositories.
type Store interface {
	FolderStore
	ChatStore
	MessageStore
	SubtaskStore
	KeyStore
}

// Ledger is the billing surface used to charge for completions.
type Ledger interface {
	Balance(ctx context.Context, userID string) (billingdomain.UserCredits, error)
	GetSubscription(ctx context.Context, userID string) (billingdomain.UserSubscription, error)
	CreditsForUsage(model string, totalTokens int) int64
	Debit(ctx context.Context, userID string, credits int64, metadata map[string]any) (billingdomain.CreditTransaction, error)
}

// ClientFactory resolves provider clients.
type ClientFactory interface {
	Client(provider llm.Provider, model, apiKey string) (llm.Client, error)
}

// KeySealer encrypts provider keys at rest.
type KeySealer interface {
	SealString(secret, associated string) ([]byte, error)
	OpenString(sealed []byte, associated string) (string, error)
}
