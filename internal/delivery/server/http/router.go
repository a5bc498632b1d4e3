package http

import (
	"context"
	"net/http"
	"time"

	"nexus/internal/infra/observability"
	"nexus/internal/shared/logging"
)

const healthCheckTimeout = 3 * time.Second

// NewRouter creates a new HTTP router with all endpoints.
// Routes use Go 1.22+ method-specific patterns ("METHOD /path/{param}").
func NewRouter(deps RouterDeps, cfg RouterConfig) http.Handler {
	logger := logging.NewComponentLogger("Router")
	latencyLogger := logging.NewLatencyLogger("HTTP")

	var metrics *observability.MetricsCollector
	if deps.Obs != nil {
		metrics = deps.Obs.Metrics
	}

	authHandler := NewAuthHandler(deps.Auth, deps.Billing, cfg.SecureCookies)
	billingHandler := NewBillingHandler(deps.Billing)
	chatHandler := NewChatHandler(deps.Chat)
	streamHandler := NewStreamHandler(deps.Chat, metrics, cfg.Environment, cfg.AllowedOrigins)
	githubHandler := NewGitHubHandler(deps.GitHub, cfg.GitHubCallbackRedirect)

	authed := AuthMiddleware(deps.Auth, logger)
	public := func(route string, handler http.HandlerFunc) http.Handler {
		return routeHandler(route, handler)
	}
	private := func(route string, handler http.HandlerFunc) http.Handler {
		return routeHandler(route, authed(handler))
	}

	// Create mux using Go 1.22+ method-specific patterns.
	mux := http.NewServeMux()

	// ── Auth endpoints ──

	mux.Handle("POST /api/auth/register", public("/api/auth/register", authHandler.HandleRegister))
	mux.Handle("POST /api/auth/login", public("/api/auth/login", authHandler.HandleLogin))
	mux.Handle("POST /api/auth/logout", public("/api/auth/logout", authHandler.HandleLogout))
	mux.Handle("GET /api/auth/me", private("/api/auth/me", authHandler.HandleMe))

	// ── Credits and payments ──

	mux.Handle("GET /api/credits", private("/api/credits", billingHandler.HandleBalance))
	mux.Handle("GET /api/credits/transactions", private("/api/credits/transactions", billingHandler.HandleListTransactions))
	mux.Handle("GET /api/credits/packages", private("/api/credits/packages", billingHandler.HandleListPackages))
	mux.Handle("POST /api/credits/purchase", private("/api/credits/purchase", billingHandler.HandlePurchase))
	mux.Handle("GET /api/models", private("/api/models", billingHandler.HandleListModels))
	mux.Handle("GET /api/subscription", private("/api/subscription", billingHandler.HandleGetSubscription))
	mux.Handle("PATCH /api/subscription", private("/api/subscription", billingHandler.HandleUpdateSubscription))
	mux.Handle("DELETE /api/subscription", private("/api/subscription", billingHandler.HandleCancelSubscription))
	mux.Handle("GET /api/subscription/tiers", private("/api/subscription/tiers", billingHandler.HandleListTiers))
	mux.Handle("POST /api/webhooks/payments", public("/api/webhooks/payments", billingHandler.HandlePaymentWebhook))
	mux.Handle("POST /api/webhooks/stripe", public("/api/webhooks/stripe", billingHandler.HandleStripeWebhook))

	// ── Folder endpoints ──

	mux.Handle("GET /api/folders", private("/api/folders", chatHandler.HandleListFolders))
	mux.Handle("POST /api/folders", private("/api/folders", chatHandler.HandleCreateFolder))
	mux.Handle("PATCH /api/folders/{folder_id}", private("/api/folders/:folder_id", chatHandler.HandleRenameFolder))
	mux.Handle("DELETE /api/folders/{folder_id}", private("/api/folders/:folder_id", chatHandler.HandleDeleteFolder))

	// ── Chat endpoints ──

	mux.Handle("GET /api/chats", private("/api/chats", chatHandler.HandleListChats))
	mux.Handle("POST /api/chats", private("/api/chats", chatHandler.HandleCreateChat))
	mux.Handle("GET /api/chats/{chat_id}", private("/api/chats/:chat_id", chatHandler.HandleGetChat))
	mux.Handle("PATCH /api/chats/{chat_id}", private("/api/chats/:chat_id", chatHandler.HandleUpdateChat))
	mux.Handle("DELETE /api/chats/{chat_id}", private("/api/chats/:chat_id", chatHandler.HandleDeleteChat))
	mux.Handle("GET /api/chats/{chat_id}/messages", private("/api/chats/:chat_id/messages", chatHandler.HandleListMessages))
	mux.Handle("POST /api/chats/{chat_id}/messages", private("/api/chats/:chat_id/messages", chatHandler.HandleSendMessage))
	mux.Handle("GET /api/chats/{chat_id}/stream", private("/api/chats/:chat_id/stream", streamHandler.HandleStream))
	mux.Handle("GET /api/chats/{chat_id}/subtasks", private("/api/chats/:chat_id/subtasks", chatHandler.HandleListSubtasks))
	mux.Handle("POST /api/chats/{chat_id}/subtasks", private("/api/chats/:chat_id/subtasks", chatHandler.HandleCreateSubtask))
	mux.Handle("PATCH /api/subtasks/{subtask_id}", private("/api/subtasks/:subtask_id", chatHandler.HandleUpdateSubtask))
	mux.Handle("DELETE /api/subtasks/{subtask_id}", private("/api/subtasks/:subtask_id", chatHandler.HandleDeleteSubtask))

	// ── Provider keys ──

	mux.Handle("GET /api/keys", private("/api/keys", chatHandler.HandleListKeys))
	mux.Handle("PUT /api/keys/{provider}", private("/api/keys/:provider", chatHandler.HandlePutKey))
	mux.Handle("DELETE /api/keys/{provider}", private("/api/keys/:provider", chatHandler.HandleDeleteKey))

	// ── GitHub connector ──

	mux.Handle("GET /api/github/connect", private("/api/github/connect", githubHandler.HandleConnect))
	mux.Handle("GET /api/github/callback", public("/api/github/callback", githubHandler.HandleCallback))
	mux.Handle("GET /api/github/connection", private("/api/github/connection", githubHandler.HandleGetConnection))
	mux.Handle("DELETE /api/github/connection", private("/api/github/connection", githubHandler.HandleDisconnect))
	mux.Handle("GET /api/github/repos", private("/api/github/repos", githubHandler.HandleListRepos))
	mux.Handle("GET /api/github/repos/{owner}/{repo}/branches", private("/api/github/repos/:owner/:repo/branches", githubHandler.HandleListBranches))
	mux.Handle("GET /api/github/repos/{owner}/{repo}/contents", private("/api/github/repos/:owner/:repo/contents", githubHandler.HandleGetContents))
	mux.Handle("GET /api/github/repos/{owner}/{repo}/contents/{path...}", private("/api/github/repos/:owner/:repo/contents/*", githubHandler.HandleGetContents))
	mux.Handle("GET /api/github/changes", private("/api/github/changes", githubHandler.HandleListChanges))
	mux.Handle("POST /api/github/changes", private("/api/github/changes", githubHandler.HandleCreateChange))
	mux.Handle("GET /api/github/changes/{change_id}", private("/api/github/changes/:change_id", githubHandler.HandleGetChange))
	mux.Handle("PATCH /api/github/changes/{change_id}", private("/api/github/changes/:change_id", githubHandler.HandleDecideChange))
	mux.Handle("GET /api/github/changes/{change_id}/diff", private("/api/github/changes/:change_id/diff", githubHandler.HandleChangeDiff))

	// ── Health and metrics ──

	mux.Handle("GET /health", routeHandler("/health", healthHandler(deps.Health, deps.Degraded, logger)))
	mux.Handle("GET /metrics", routeHandler("/metrics", metrics.Handler()))

	// ── Middleware stack ──

	var handler http.Handler = mux
	handler = RequestTimeoutMiddleware(cfg.RequestTimeout)(handler)
	handler = RateLimitMiddleware(cfg.RateLimit)(handler)
	handler = ObservabilityMiddleware(deps.Obs, latencyLogger)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = CompressionMiddleware()(handler)
	handler = CORSMiddleware(cfg.Environment, cfg.AllowedOrigins)(handler)

	return handler
}

func routeHandler(route string, handler http.Handler) http.Handler {
	if route == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		annotateRequestRoute(r, route)
		handler.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status   string            `json:"status"`
	Database string            `json:"database,omitempty"`
	Degraded map[string]string `json:"degraded,omitempty"`
}

// healthHandler answers 503 only when the database is unreachable. Optional
// components that failed at startup turn the status to "degraded" but keep
// the instance in rotation.
func healthHandler(checker HealthChecker, degraded DegradedReporter, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		if degraded != nil {
			if snapshot := degraded.Snapshot(); len(snapshot) > 0 {
				resp.Status = "degraded"
				resp.Degraded = snapshot
			}
		}
		if checker == nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := checker.Ping(ctx); err != nil {
			logger.Warn("Health check failed: %v", err)
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
		writeJSON(w, http.StatusOK, resp)
	}
}
