package adapters

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexus/internal/chat/domain"
	"nexus/internal/chat/ports"
)

// MemoryStore implements ports.Store in memory for tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	folders  map[string]domain.Folder
	chats    map[string]domain.Chat
	messages map[string][]domain.Message
	subtasks map[string]domain.Subtask
	keys     map[string]map[string]storedKey
}

type storedKey struct {
	sealed []byte
	meta   domain.ProviderKey
}

var _ ports.Store = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		folders:  make(map[string]domain.Folder),
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.Message),
		subtasks: make(map[string]domain.Subtask),
		keys:     make(map[string]map[string]storedKey),
	}
}

func (s *MemoryStore) CreateFolder(_ context.Context, folder domain.Folder) (domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder.ID] = folder
	return folder, nil
}

func (s *MemoryStore) GetFolder(_ context.Context, userID, folderID string) (domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.folders[folderID]
	if !ok || folder.UserID != userID {
		return domain.Folder{}, domain.ErrFolderNotFound
	}
	return folder, nil
}

func (s *MemoryStore) ListFolders(_ context.Context, userID string) ([]domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var folders []domain.Folder
	for _, folder := range s.folders {
		if folder.UserID == userID {
			folders = append(folders, folder)
		}
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

func (s *MemoryStore) RenameFolder(_ context.Context, userID, folderID, name string, at time.Time) (domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.folders[folderID]
	if !ok || folder.UserID != userID {
		return domain.Folder{}, domain.ErrFolderNotFound
	}
	folder.Name = name
	folder.UpdatedAt = at
	s.folders[folderID] = folder
	return folder, nil
}

// DeleteFolder mirrors ON DELETE SET NULL on chats.folder_id.
func (s *MemoryStore) DeleteFolder(_ context.Context, userID, folderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.folders[folderID]
	if !ok || folder.UserID != userID {
		return domain.ErrFolderNotFound
	}
	delete(s.folders, folderID)
	for chatID, chat := range s.chats {
		if chat.FolderID != nil && *chat.FolderID == folderID {
			chat.FolderID = nil
			s.chats[chatID] = chat
		}
	}
	return nil
}

func (s *MemoryStore) CreateChat(_ context.Context, chat domain.Chat) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *MemoryStore) GetChat(_ context.Context, userID, chatID string) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return domain.Chat{}, domain.ErrChatNotFound
	}
	return chat, nil
}

func (s *MemoryStore) ListChats(_ context.Context, userID string, folderID *string) ([]domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var chats []domain.Chat
	for _, chat := range s.chats {
		if chat.UserID != userID {
			continue
		}
		if folderID != nil && (chat.FolderID == nil || *chat.FolderID != *folderID) {
			continue
		}
		chats = append(chats, chat)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	return chats, nil
}

func (s *MemoryStore) UpdateChat(_ context.Context, chat domain.Chat) (domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.chats[chat.ID]
	if !ok || existing.UserID != chat.UserID {
		return domain.Chat{}, domain.ErrChatNotFound
	}
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return domain.ErrChatNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	for subtaskID, subtask := range s.subtasks {
		if subtask.ChatID == chatID {
			delete(s.subtasks, subtaskID)
		}
	}
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, message domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[message.ChatID]
	if !ok {
		return domain.Message{}, domain.ErrChatNotFound
	}
	s.messages[message.ChatID] = append(s.messages[message.ChatID], message)
	chat.UpdatedAt = message.CreatedAt
	s.chats[chat.ID] = chat
	return message, nil
}

// ListMessages returns the last limit messages oldest first; limit <= 0 means all.
func (s *MemoryStore) ListMessages(_ context.Context, chatID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.messages[chatID]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return append([]domain.Message(nil), messages...), nil
}

func (s *MemoryStore) CreateSubtask(_ context.Context, subtask domain.Subtask) (domain.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[subtask.ChatID]; !ok {
		return domain.Subtask{}, domain.ErrChatNotFound
	}
	s.subtasks[subtask.ID] = subtask
	return subtask, nil
}

func (s *MemoryStore) GetSubtask(_ context.Context, userID, subtaskID string) (domain.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subtask, ok := s.subtasks[subtaskID]
	if !ok || subtask.UserID != userID {
		return domain.Subtask{}, domain.ErrSubtaskNotFound
	}
	return subtask, nil
}

func (s *MemoryStore) ListSubtasks(_ context.Context, userID, chatID string) ([]domain.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subtasks []domain.Subtask
	for _, subtask := range s.subtasks {
		if subtask.ChatID == chatID && subtask.UserID == userID {
			subtasks = append(subtasks, subtask)
		}
	}
	sort.Slice(subtasks, func(i, j int) bool {
		if subtasks[i].Position != subtasks[j].Position {
			return subtasks[i].Position < subtasks[j].Position
		}
		return subtasks[i].CreatedAt.Before(subtasks[j].CreatedAt)
	})
	return subtasks, nil
}

func (s *MemoryStore) UpdateSubtask(_ context.Context, subtask domain.Subtask) (domain.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subtasks[subtask.ID]
	if !ok || existing.UserID != subtask.UserID {
		return domain.Subtask{}, domain.ErrSubtaskNotFound
	}
	s.subtasks[subtask.ID] = subtask
	return subtask, nil
}

func (s *MemoryStore) DeleteSubtask(_ context.Context, userID, subtaskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subtask, ok := s.subtasks[subtaskID]
	if !ok || subtask.UserID != userID {
		return domain.ErrSubtaskNotFound
	}
	delete(s.subtasks, subtaskID)
	return nil
}

func (s *MemoryStore) PutKey(_ context.Context, userID, provider string, sealed []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.keys[userID]
	if keys == nil {
		keys = make(map[string]storedKey)
		s.keys[userID] = keys
	}
	meta := domain.ProviderKey{Provider: provider, CreatedAt: at, UpdatedAt: at}
	if existing, ok := keys[provider]; ok {
		meta.CreatedAt = existing.meta.CreatedAt
	}
	keys[provider] = storedKey{sealed: append([]byte(nil), sealed...), meta: meta}
	return nil
}

func (s *MemoryStore) GetKey(_ context.Context, userID, provider string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[userID][provider]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return append([]byte(nil), key.sealed...), nil
}

func (s *MemoryStore) ListKeys(_ context.Context, userID string) ([]domain.ProviderKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]domain.ProviderKey, 0, len(s.keys[userID]))
	for _, key := range s.keys[userID] {
		keys = append(keys, key.meta)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Provider < keys[j].Provider })
	return keys, nil
}

func (s *MemoryStore) DeleteKey(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[userID][provider]; !ok {
		return domain.ErrKeyNotFound
	}
	delete(s.keys[userID], provider)
	return nil
}
