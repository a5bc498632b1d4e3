package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a stored message role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Folder groups chats for one user.
type Folder struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chat is a conversation. FolderID is nil for unfiled chats.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FolderID  *string   `json:"folder_id"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn of a chat. Usage fields are set on assistant turns.
type Message struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chat_id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Provider     string    `json:"provider,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreditsUsed  int64     `json:"credits_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// Subtask is a checklist item attached to a chat.
type Subtask struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProviderKey describes a stored BYOK key without exposing it.
type ProviderKey struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatInput holds the fields accepted when creating a chat.
type ChatInput struct {
	Title    string  `json:"title"`
	FolderID *string `json:"folder_id"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
}

// ChatUpdate is a partial chat update. A FolderID pointing at "" unfiles the chat.
type ChatUpdate struct {
	Title    *string `json:"title"`
	FolderID *string `json:"folder_id"`
}

// SubtaskUpdate is a partial subtask update.
type SubtaskUpdate struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
	Position  *int    `json:"position"`
}

// SendInput is a user turn plus an optional provider/model override.
type SendInput struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Exchange is the result of one completed turn.
type Exchange struct {
	UserMessage      Message `json:"user_message"`
	AssistantMessage Message `json:"assistant_message"`
	CreditsUsed      int64   `json:"credits_used"`
	BYOK             bool    `json:"byok"`
}
