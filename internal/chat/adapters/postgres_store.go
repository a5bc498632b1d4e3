package adapters

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"nexus/internal/chat/domain"
	"nexus/internal/chat/ports"
	"nexus/internal/infra/postgres"
)

// PostgresStore implements ports.Store on the shared pool.
type PostgresStore struct {
	db postgres.DB
}

var _ ports.Store = (*PostgresStore)(nil)

// NewPostgresStore builds the chat repository.
func NewPostgresStore(db postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface{ Scan(...any) error }

const folderColumns = `id, user_id, name, created_at, updated_at`

func scanFolder(row rowScanner) (domain.Folder, error) {
	var folder domain.Folder
	err := row.Scan(&folder.ID, &folder.UserID, &folder.Name, &folder.CreatedAt, &folder.UpdatedAt)
	return folder, err
}

func (s *PostgresStore) CreateFolder(ctx context.Context, folder domain.Folder) (domain.Folder, error) {
	return scanFolder(s.db.QueryRow(ctx, `
INSERT INTO folders (id, user_id, name, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+folderColumns,
		folder.ID, folder.UserID, folder.Name, folder.CreatedAt, folder.UpdatedAt,
	))
}

func (s *PostgresStore) GetFolder(ctx context.Context, userID, folderID string) (domain.Folder, error) {
	folder, err := scanFolder(s.db.QueryRow(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = $1 AND user_id = $2`, folderID, userID))
	if postgres.IsNoRows(err) {
		return domain.Folder{}, domain.ErrFolderNotFound
	}
	return folder, err
}

func (s *PostgresStore) ListFolders(ctx context.Context, userID string) ([]domain.Folder, error) {
	rows, err := s.db.Query(ctx, `SELECT `+folderColumns+` FROM folders WHERE user_id = $1 ORDER BY name, created_at`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanFolder)
}

func (s *PostgresStore) RenameFolder(ctx context.Context, userID, folderID, name string, at time.Time) (domain.Folder, error) {
	folder, err := scanFolder(s.db.QueryRow(ctx, `
UPDATE folders SET name = $3, updated_at = $4
WHERE id = $1 AND user_id = $2
RETURNING `+folderColumns,
		folderID, userID, name, at,
	))
	if postgres.IsNoRows(err) {
		return domain.Folder{}, domain.ErrFolderNotFound
	}
	return folder, err
}

// DeleteFolder relies on chats.folder_id ON DELETE SET NULL to unfile chats.
func (s *PostgresStore) DeleteFolder(ctx context.Context, userID, folderID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM folders WHERE id = $1 AND user_id = $2`, folderID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFolderNotFound
	}
	return nil
}

const chatColumns = `id, user_id, folder_id, title, provider, model, created_at, updated_at`

func scanChat(row rowScanner) (domain.Chat, error) {
	var chat domain.Chat
	err := row.Scan(&chat.ID, &chat.UserID, &chat.FolderID, &chat.Title, &chat.Provider, &chat.Model, &chat.CreatedAt, &chat.UpdatedAt)
	return chat, err
}

func (s *PostgresStore) CreateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	created, err := scanChat(s.db.QueryRow(ctx, `
INSERT INTO chats (id, user_id, folder_id, title, provider, model, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+chatColumns,
		chat.ID, chat.UserID, chat.FolderID, chat.Title, chat.Provider, chat.Model, chat.CreatedAt, chat.UpdatedAt,
	))
	if postgres.IsForeignKeyViolation(err) {
		return domain.Chat{}, domain.ErrFolderNotFound
	}
	return created, err
}

func (s *PostgresStore) GetChat(ctx context.Context, userID, chatID string) (domain.Chat, error) {
	chat, err := scanChat(s.db.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID))
	if postgres.IsNoRows(err) {
		return domain.Chat{}, domain.ErrChatNotFound
	}
	return chat, err
}

func (s *PostgresStore) ListChats(ctx context.Context, userID string, folderID *string) ([]domain.Chat, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if folderID != nil {
		rows, err = s.db.Query(ctx, `SELECT `+chatColumns+` FROM chats WHERE user_id = $1 AND folder_id = $2 ORDER BY updated_at DESC`, userID, *folderID)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+chatColumns+` FROM chats WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	}
	if err != nil {
		return nil, err
	}
	return collect(rows, scanChat)
}

func (s *PostgresStore) UpdateChat(ctx context.Context, chat domain.Chat) (domain.Chat, error) {
	updated, err := scanChat(s.db.QueryRow(ctx, `
UPDATE chats SET title = $3, folder_id = $4, updated_at = $5
WHERE id = $1 AND user_id = $2
RETURNING `+chatColumns,
		chat.ID, chat.UserID, chat.Title, chat.FolderID, chat.UpdatedAt,
	))
	switch {
	case postgres.IsNoRows(err):
		return domain.Chat{}, domain.ErrChatNotFound
	case postgres.IsForeignKeyViolation(err):
		return domain.Chat{}, domain.ErrFolderNotFound
	}
	return updated, err
}

// DeleteChat cascades to messages and subtasks in the schema.
func (s *PostgresStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chats WHERE id = $1 AND user_id = $2`, chatID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChatNotFound
	}
	return nil
}

const messageColumns = `id, chat_id, role, content, provider, model, input_tokens, output_tokens, credits_used, created_at`

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var role string
	if err := row.Scan(&msg.ID, &msg.ChatID, &role, &msg.Content, &msg.Provider, &msg.Model,
		&msg.InputTokens, &msg.OutputTokens, &msg.CreditsUsed, &msg.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	msg.Role = domain.Role(role)
	return msg, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, message domain.Message) (domain.Message, error) {
	var stored domain.Message
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		stored, err = scanMessage(tx.QueryRow(ctx, `
INSERT INTO messages (id, chat_id, role, content, provider, model, input_tokens, output_tokens, credits_used, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+messageColumns,
			message.ID, message.ChatID, string(message.Role), message.Content, message.Provider, message.Model,
			message.InputTokens, message.OutputTokens, message.CreditsUsed, message.CreatedAt,
		))
		if err != nil {
			if postgres.IsForeignKeyViolation(err) {
				return domain.ErrChatNotFound
			}
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, message.ChatID, message.CreatedAt)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	return stored, nil
}

// ListMessages returns the last limit messages oldest first; limit <= 0 means all.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, `
SELECT `+messageColumns+` FROM (
    SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
) recent
ORDER BY created_at, id`, chatID, limit)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 ORDER BY created_at, id`, chatID)
	}
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMessage)
}

const subtaskColumns = `id, chat_id, user_id, title, completed, position, created_at, updated_at`

func scanSubtask(row rowScanner) (domain.Subtask, error) {
	var subtask domain.Subtask
	err := row.Scan(&subtask.ID, &subtask.ChatID, &subtask.UserID, &subtask.Title, &subtask.Completed,
		&subtask.Position, &subtask.CreatedAt, &subtask.UpdatedAt)
	return subtask, err
}

func (s *PostgresStore) CreateSubtask(ctx context.Context, subtask domain.Subtask) (domain.Subtask, error) {
	created, err := scanSubtask(s.db.QueryRow(ctx, `
INSERT INTO subtasks (id, chat_id, user_id, title, completed, position, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+subtaskColumns,
		subtask.ID, subtask.ChatID, subtask.UserID, subtask.Title, subtask.Completed, subtask.Position,
		subtask.CreatedAt, subtask.UpdatedAt,
	))
	if postgres.IsForeignKeyViolation(err) {
		return domain.Subtask{}, domain.ErrChatNotFound
	}
	return created, err
}

func (s *PostgresStore) GetSubtask(ctx context.Context, userID, subtaskID string) (domain.Subtask, error) {
	subtask, err := scanSubtask(s.db.QueryRow(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id = $1 AND user_id = $2`, subtaskID, userID))
	if postgres.IsNoRows(err) {
		return domain.Subtask{}, domain.ErrSubtaskNotFound
	}
	return subtask, err
}

func (s *PostgresStore) ListSubtasks(ctx context.Context, userID, chatID string) ([]domain.Subtask, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+subtaskColumns+` FROM subtasks
WHERE chat_id = $1 AND user_id = $2
ORDER BY position, created_at`, chatID, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSubtask)
}

func (s *PostgresStore) UpdateSubtask(ctx context.Context, subtask domain.Subtask) (domain.Subtask, error) {
	updated, err := scanSubtask(s.db.QueryRow(ctx, `
UPDATE subtasks SET title = $3, completed = $4, position = $5, updated_at = $6
WHERE id = $1 AND user_id = $2
RETURNING `+subtaskColumns,
		subtask.ID, subtask.UserID, subtask.Title, subtask.Completed, subtask.Position, subtask.UpdatedAt,
	))
	if postgres.IsNoRows(err) {
		return domain.Subtask{}, domain.ErrSubtaskNotFound
	}
	return updated, err
}

func (s *PostgresStore) DeleteSubtask(ctx context.Context, userID, subtaskID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM subtasks WHERE id = $1 AND user_id = $2`, subtaskID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSubtaskNotFound
	}
	return nil
}

func (s *PostgresStore) PutKey(ctx context.Context, userID, provider string, sealed []byte, at time.Time) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO provider_keys (user_id, provider, sealed_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (user_id, provider) DO UPDATE SET sealed_key = EXCLUDED.sealed_key, updated_at = EXCLUDED.updated_at`,
		userID, provider, sealed, at,
	)
	return err
}

func (s *PostgresStore) GetKey(ctx context.Context, userID, provider string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRow(ctx, `SELECT sealed_key FROM provider_keys WHERE user_id = $1 AND provider = $2`, userID, provider).Scan(&sealed)
	if postgres.IsNoRows(err) {
		return nil, domain.ErrKeyNotFound
	}
	return sealed, err
}

func (s *PostgresStore) ListKeys(ctx context.Context, userID string) ([]domain.ProviderKey, error) {
	rows, err := s.db.Query(ctx, `SELECT provider, created_at, updated_at FROM provider_keys WHERE user_id = $1 ORDER BY provider`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row rowScanner) (domain.ProviderKey, error) {
		var key domain.ProviderKey
		err := row.Scan(&key.Provider, &key.CreatedAt, &key.UpdatedAt)
		return key, err
	})
}

func (s *PostgresStore) DeleteKey(ctx context.Context, userID, provider string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM provider_keys WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKeyNotFound
	}
	return nil
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var items []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
