package http

import (
	"bytes"
	"net/http"

	chatapp "nexus/internal/chat/app"
	chatdomain "nexus/internal/chat/domain"
	sharederrors "nexus/internal/shared/errors"
	jsonx "nexus/internal/shared/json"
	"nexus/internal/shared/logging"
)

// ChatHandler serves folders, chats, messages, subtasks and BYOK keys.
type ChatHandler struct {
	service *chatapp.Service
	logger  logging.Logger
}

// NewChatHandler builds the chat handler.
func NewChatHandler(service *chatapp.Service) *ChatHandler {
	return &ChatHandler{service: service, logger: logging.NewComponentLogger("ChatHandler")}
}

type folderRequest struct {
	Name string `json:"name"`
}

type subtaskRequest struct {
	Title string `json:"title"`
}

type keyRequest struct {
	APIKey string `json:"api_key"`
}

// chatUpdateRequest keeps folder_id raw so an explicit null can unfile a
// chat while an absent field leaves it alone.
type chatUpdateRequest struct {
	Title    *string          `json:"title"`
	FolderID jsonx.RawMessage `json:"folder_id"`
}

func (req chatUpdateRequest) toUpdate() (chatdomain.ChatUpdate, error) {
	update := chatdomain.ChatUpdate{Title: req.Title}
	raw := bytes.TrimSpace(req.FolderID)
	switch {
	case len(raw) == 0:
	case bytes.Equal(raw, []byte("null")):
		unfiled := ""
		update.FolderID = &unfiled
	default:
		var folderID string
		if err := jsonx.Unmarshal(raw, &folderID); err != nil {
			return chatdomain.ChatUpdate{}, sharederrors.NewValidationError("folder_id", "must be a string or null")
		}
		update.FolderID = &folderID
	}
	return update, nil
}

func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// HandleListFolders processes GET /api/folders.
func (h *ChatHandler) HandleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.service.ListFolders(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": emptyIfNil(folders)})
}

// HandleCreateFolder processes POST /api/folders.
func (h *ChatHandler) HandleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	folder, err := h.service.CreateFolder(r.Context(), userID(r), req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// HandleRenameFolder processes PATCH /api/folders/{folder_id}.
func (h *ChatHandler) HandleRenameFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	folder, err := h.service.RenameFolder(r.Context(), userID(r), r.PathValue("folder_id"), req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// HandleDeleteFolder processes DELETE /api/folders/{folder_id}.
func (h *ChatHandler) HandleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteFolder(r.Context(), userID(r), r.PathValue("folder_id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListChats processes GET /api/chats?folder_id=.
func (h *ChatHandler) HandleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.service.ListChats(r.Context(), userID(r), r.URL.Query().Get("folder_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": emptyIfNil(chats)})
}

// HandleCreateChat processes POST /api/chats.
func (h *ChatHandler) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req chatdomain.ChatInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	chat, err := h.service.CreateChat(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// HandleGetChat processes GET /api/chats/{chat_id}.
func (h *ChatHandler) HandleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := h.service.GetChat(r.Context(), userID(r), r.PathValue("chat_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// HandleUpdateChat processes PATCH /api/chats/{chat_id}.
func (h *ChatHandler) HandleUpdateChat(w http.ResponseWriter, r *http.Request) {
	var req chatUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	chat, err := h.service.UpdateChat(r.Context(), userID(r), r.PathValue("chat_id"), update)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// HandleDeleteChat processes DELETE /api/chats/{chat_id}.
func (h *ChatHandler) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteChat(r.Context(), userID(r), r.PathValue("chat_id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListMessages processes GET /api/chats/{chat_id}/messages.
func (h *ChatHandler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.service.ListMessages(r.Context(), userID(r), r.PathValue("chat_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": emptyIfNil(messages)})
}

// HandleSendMessage processes POST /api/chats/{chat_id}/messages.
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req chatdomain.SendInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	exchange, err := h.service.SendMessage(r.Context(), userID(r), r.PathValue("chat_id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, exchange)
}

// HandleListSubtasks processes GET /api/chats/{chat_id}/subtasks.
func (h *ChatHandler) HandleListSubtasks(w http.ResponseWriter, r *http.Request) {
	subtasks, err := h.service.ListSubtasks(r.Context(), userID(r), r.PathValue("chat_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subtasks": emptyIfNil(subtasks)})
}

// HandleCreateSubtask processes POST /api/chats/{chat_id}/subtasks.
func (h *ChatHandler) HandleCreateSubtask(w http.ResponseWriter, r *http.Request) {
	var req subtaskRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	subtask, err := h.service.CreateSubtask(r.Context(), userID(r), r.PathValue("chat_id"), req.Title)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, subtask)
}

// HandleUpdateSubtask processes PATCH /api/subtasks/{subtask_id}.
func (h *ChatHandler) HandleUpdateSubtask(w http.ResponseWriter, r *http.Request) {
	var req chatdomain.SubtaskUpdate
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	subtask, err := h.service.UpdateSubtask(r.Context(), userID(r), r.PathValue("subtask_id"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, subtask)
}

// HandleDeleteSubtask processes DELETE /api/subtasks/{subtask_id}.
func (h *ChatHandler) HandleDeleteSubtask(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSubtask(r.Context(), userID(r), r.PathValue("subtask_id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListKeys processes GET /api/keys.
func (h *ChatHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.ListKeys(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": emptyIfNil(keys)})
}

// HandlePutKey processes PUT /api/keys/{provider}.
func (h *ChatHandler) HandlePutKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.service.PutKey(r.Context(), userID(r), r.PathValue("provider"), req.APIKey); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteKey processes DELETE /api/keys/{provider}.
func (h *ChatHandler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteKey(r.Context(), userID(r), r.PathValue("provider")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
