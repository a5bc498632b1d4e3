package http

import (
	"net/http"
	"net/url"
	"strings"

	githubapp "nexus/internal/github/app"
	githubdomain "nexus/internal/github/domain"
	githubapi "nexus/internal/infra/github"
	"nexus/internal/shared/logging"
)

// GitHubHandler serves the GitHub connector endpoints.
type GitHubHandler struct {
	service *githubapp.Service
	// callbackRedirect, when set, is where the browser lands after OAuth.
	callbackRedirect string
	logger           logging.Logger
}

// NewGitHubHandler builds the GitHub handler.
func NewGitHubHandler(service *githubapp.Service, callbackRedirect string) *GitHubHandler {
	return &GitHubHandler{
		service:          service,
		callbackRedirect: strings.TrimSpace(callbackRedirect),
		logger:           logging.NewComponentLogger("GitHubHandler"),
	}
}

type decisionRequest struct {
	Action string `json:"action"`
}

// HandleConnect processes GET /api/github/connect.
func (h *GitHubHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	consentURL, err := h.service.ConnectURL(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": consentURL})
}

// HandleCallback processes GET /api/github/callback. The OAuth state
// identifies the user, so the route does not require a session.
func (h *GitHubHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if denied := query.Get("error"); denied != "" {
		h.finishCallback(w, r, githubdomain.Connection{}, &oauthDenied{reason: denied})
		return
	}
	conn, err := h.service.CompleteOAuth(r.Context(), query.Get("state"), query.Get("code"))
	h.finishCallback(w, r, conn, err)
}

type oauthDenied struct{ reason string }

func (e *oauthDenied) Error() string { return "github authorization denied: " + e.reason }

func (h *GitHubHandler) finishCallback(w http.ResponseWriter, r *http.Request, conn githubdomain.Connection, err error) {
	if h.callbackRedirect == "" {
		if err != nil {
			if denied, ok := err.(*oauthDenied); ok {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: denied.Error()})
				return
			}
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, conn)
		return
	}
	target, parseErr := url.Parse(h.callbackRedirect)
	if parseErr != nil {
		writeError(w, r, h.logger, parseErr)
		return
	}
	values := target.Query()
	if err != nil {
		h.logger.Warn("GitHub OAuth callback failed: %v", err)
		values.Set("github", "error")
	} else {
		values.Set("github", "connected")
	}
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// HandleGetConnection processes GET /api/github/connection.
func (h *GitHubHandler) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.service.Connection(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// HandleDisconnect processes DELETE /api/github/connection.
func (h *GitHubHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Disconnect(r.Context(), userID(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListRepos processes GET /api/github/repos?refresh=1.
func (h *GitHubHandler) HandleListRepos(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh")
	repos, err := h.service.ListRepos(r.Context(), userID(r), refresh == "1" || strings.EqualFold(refresh, "true"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"repos": emptyIfNil(repos)})
}

// HandleListBranches processes GET /api/github/repos/{owner}/{repo}/branches.
func (h *GitHubHandler) HandleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.service.ListBranches(r.Context(), userID(r), r.PathValue("owner"), r.PathValue("repo"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": emptyIfNil(branches)})
}

// HandleGetContents processes GET /api/github/repos/{owner}/{repo}/contents/{path...}.
func (h *GitHubHandler) HandleGetContents(w http.ResponseWriter, r *http.Request) {
	content, err := h.service.GetContents(r.Context(), userID(r), r.PathValue("owner"), r.PathValue("repo"),
		r.PathValue("path"), r.URL.Query().Get("ref"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if content.Entries == nil && content.Type == "dir" {
		content.Entries = []githubapi.Content{}
	}
	writeJSON(w, http.StatusOK, content)
}

// HandleCreateChange processes POST /api/github/changes.
func (h *GitHubHandler) HandleCreateChange(w http.ResponseWriter, r *http.Request) {
	var req githubdomain.ChangeInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	change, err := h.service.CreateChange(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, change)
}

// HandleListChanges processes GET /api/github/changes.
func (h *GitHubHandler) HandleListChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.service.ListChanges(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": emptyIfNil(changes)})
}

// HandleGetChange processes GET /api/github/changes/{change_id}.
func (h *GitHubHandler) HandleGetChange(w http.ResponseWriter, r *http.Request) {
	change, err := h.service.GetChange(r.Context(), userID(r), r.PathValue("change_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// HandleChangeDiff processes GET /api/github/changes/{change_id}/diff.
func (h *GitHubHandler) HandleChangeDiff(w http.ResponseWriter, r *http.Request) {
	preview, err := h.service.ChangeDiff(r.Context(), userID(r), r.PathValue("change_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// HandleDecideChange processes PATCH /api/github/changes/{change_id}.
func (h *GitHubHandler) HandleDecideChange(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	change, err := h.service.DecideChange(r.Context(), userID(r), r.PathValue("change_id"), req.Action)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}
