package app

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"nexus/internal/chat/domain"
	"nexus/internal/infra/llm"
	sharederrors "nexus/internal/shared/errors"
)

func cleanName(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", sharederrors.NewValidationError(field, "is required")
	}
	if len(value) > maxNameLength {
		return "", sharederrors.NewValidationError(field, "must be at most %d characters", maxNameLength)
	}
	return value, nil
}

// CreateFolder adds a folder for userID.
func (s *Service) CreateFolder(ctx context.Context, userID, name string) (domain.Folder, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return domain.Folder{}, err
	}
	now := s.now()
	return s.store.CreateFolder(ctx, domain.Folder{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// ListFolders returns the user's folders by name.
func (s *Service) ListFolders(ctx context.Context, userID string) ([]domain.Folder, error) {
	return s.store.ListFolders(ctx, userID)
}

// RenameFolder changes a folder's name.
func (s *Service) RenameFolder(ctx context.Context, userID, folderID, name string) (domain.Folder, error) {
	folderID, ok := validID(folderID)
	if !ok {
		return domain.Folder{}, domain.ErrFolderNotFound
	}
	name, err := cleanName("name", name)
	if err != nil {
		return domain.Folder{}, err
	}
	return s.store.RenameFolder(ctx, userID, folderID, name, s.now())
}

// DeleteFolder removes a folder. Its chats stay and become unfiled.
func (s *Service) DeleteFolder(ctx context.Context, userID, folderID string) error {
	folderID, ok := validID(folderID)
	if !ok {
		return domain.ErrFolderNotFound
	}
	return s.store.DeleteFolder(ctx, userID, folderID)
}

// resolveFolder checks ownership of an optional folder reference and
// normalises "" to nil.
func (s *Service) resolveFolder(ctx context.Context, userID string, folderID *string) (*string, error) {
	if folderID == nil || strings.TrimSpace(*folderID) == "" {
		return nil, nil
	}
	id, ok := validID(*folderID)
	if !ok {
		return nil, domain.ErrFolderNotFound
	}
	if _, err := s.store.GetFolder(ctx, userID, id); err != nil {
		return nil, err
	}
	return &id, nil
}

// CreateChat starts a conversation. Provider and model default from config.
func (s *Service) CreateChat(ctx context.Context, userID string, input domain.ChatInput) (domain.Chat, error) {
	provider := s.config.DefaultProvider
	if strings.TrimSpace(input.Provider) != "" {
		parsed, err := llm.ParseProvider(input.Provider)
		if err != nil {
			return domain.Chat{}, sharederrors.NewValidationError("provider", "%q is not supported", input.Provider)
		}
		provider = parsed
	}
	model := strings.TrimSpace(input.Model)
	if model == "" {
		model = s.defaultModel(provider)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = defaultChatTitle
	}
	if len(title) > maxNameLength {
		return domain.Chat{}, sharederrors.NewValidationError("title", "must be at most %d characters", maxNameLength)
	}
	folderID, err := s.resolveFolder(ctx, userID, input.FolderID)
	if err != nil {
		return domain.Chat{}, err
	}
	now := s.now()
	return s.store.CreateChat(ctx, domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		FolderID:  folderID,
		Title:     title,
		Provider:  string(provider),
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// ListChats returns the user's chats, newest activity first. A non-empty
// folderID restricts the listing to that folder.
func (s *Service) ListChats(ctx context.Context, userID, folderID string) ([]domain.Chat, error) {
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return s.store.ListChats(ctx, userID, nil)
	}
	id, ok := validID(folderID)
	if !ok {
		return nil, domain.ErrFolderNotFound
	}
	return s.store.ListChats(ctx, userID, &id)
}

// GetChat returns one chat owned by userID.
func (s *Service) GetChat(ctx context.Context, userID, chatID string) (domain.Chat, error) {
	chatID, ok := validID(chatID)
	if !ok {
		return domain.Chat{}, domain.ErrChatNotFound
	}
	return s.store.GetChat(ctx, userID, chatID)
}

// UpdateChat applies a partial update of title and folder.
func (s *Service) UpdateChat(ctx context.Context, userID, chatID string, update domain.ChatUpdate) (domain.Chat, error) {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	if update.Title != nil {
		title, err := cleanName("title", *update.Title)
		if err != nil {
			return domain.Chat{}, err
		}
		chat.Title = title
	}
	if update.FolderID != nil {
		folderID, err := s.resolveFolder(ctx, userID, update.FolderID)
		if err != nil {
			return domain.Chat{}, err
		}
		chat.FolderID = folderID
	}
	chat.UpdatedAt = s.now()
	return s.store.UpdateChat(ctx, chat)
}

// DeleteChat removes a chat together with its messages and subtasks.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) error {
	chatID, ok := validID(chatID)
	if !ok {
		return domain.ErrChatNotFound
	}
	return s.store.DeleteChat(ctx, userID, chatID)
}

// ListMessages returns the full history of a chat, oldest first.
func (s *Service) ListMessages(ctx context.Context, userID, chatID string) ([]domain.Message, error) {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, chat.ID, 0)
}

// ListSubtasks returns a chat's subtasks by position.
func (s *Service) ListSubtasks(ctx context.Context, userID, chatID string) ([]domain.Subtask, error) {
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	return s.store.ListSubtasks(ctx, userID, chat.ID)
}

// CreateSubtask appends a subtask at the end of the chat's list.
func (s *Service) CreateSubtask(ctx context.Context, userID, chatID, title string) (domain.Subtask, error) {
	title, err := cleanName("title", title)
	if err != nil {
		return domain.Subtask{}, err
	}
	chat, err := s.GetChat(ctx, userID, chatID)
	if err != nil {
		return domain.Subtask{}, err
	}
	existing, err := s.store.ListSubtasks(ctx, userID, chat.ID)
	if err != nil {
		return domain.Subtask{}, err
	}
	position := 0
	for _, subtask := range existing {
		if subtask.Position >= position {
			position = subtask.Position + 1
		}
	}
	now := s.now()
	return s.store.CreateSubtask(ctx, domain.Subtask{
		ID:        uuid.NewString(),
		ChatID:    chat.ID,
		UserID:    userID,
		Title:     title,
		Position:  position,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// UpdateSubtask applies a partial update.
func (s *Service) UpdateSubtask(ctx context.Context, userID, subtaskID string, update domain.SubtaskUpdate) (domain.Subtask, error) {
	subtaskID, ok := validID(subtaskID)
	if !ok {
		return domain.Subtask{}, domain.ErrSubtaskNotFound
	}
	subtask, err := s.store.GetSubtask(ctx, userID, subtaskID)
	if err != nil {
		return domain.Subtask{}, err
	}
	if update.Title != nil {
		title, err := cleanName("title", *update.Title)
		if err != nil {
			return domain.Subtask{}, err
		}
		subtask.Title = title
	}
	if update.Completed != nil {
		subtask.Completed = *update.Completed
	}
	if update.Position != nil {
		if *update.Position < 0 {
			return domain.Subtask{}, sharederrors.NewValidationError("position", "must not be negative")
		}
		subtask.Position = *update.Position
	}
	subtask.UpdatedAt = s.now()
	return s.store.UpdateSubtask(ctx, subtask)
}

// DeleteSubtask removes a subtask.
func (s *Service) DeleteSubtask(ctx context.Context, userID, subtaskID string) error {
	subtaskID, ok := validID(subtaskID)
	if !ok {
		return domain.ErrSubtaskNotFound
	}
	return s.store.DeleteSubtask(ctx, userID, subtaskID)
}
