package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authadapters "nexus/internal/auth/adapters"
	authapp "nexus/internal/auth/app"
	billingadapters "nexus/internal/billing/adapters"
	billingapp "nexus/internal/billing/app"
	billingdomain "nexus/internal/billing/domain"
	chatadapters "nexus/internal/chat/adapters"
	chatapp "nexus/internal/chat/app"
	githubadapters "nexus/internal/github/adapters"
	githubapp "nexus/internal/github/app"
	"nexus/internal/infra/auth/crypto"
	githubapi "nexus/internal/infra/github"
	"nexus/internal/infra/llm"
	"nexus/internal/infra/observability"
	"nexus/internal/infra/payments"
	"nexus/internal/shared/logging"
)

const testWebhookSecret = "whsec-test"

type scriptedClient struct {
	mu     sync.Mutex
	model  string
	chunks []string
	reply  llm.Response
}

func (c *scriptedClient) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

func (c *scriptedClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	return c.reply, nil
}

func (c *scriptedClient) Stream(_ context.Context, _ llm.Request, onChunk llm.ChunkHandler) (llm.Response, error) {
	for _, chunk := range c.chunks {
		if err := onChunk(chunk); err != nil {
			return llm.Response{}, err
		}
	}
	return c.reply, nil
}

type scriptedFactory struct {
	client *scriptedClient
}

func (f *scriptedFactory) Client(provider llm.Provider, model, _ string) (llm.Client, error) {
	if provider == llm.ProviderGoogle {
		return nil, llm.ErrProviderNotImplemented
	}
	f.client.mu.Lock()
	f.client.model = model
	f.client.mu.Unlock()
	return f.client, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	*httptest.Server
	client *scriptedClient
}

func newTestServer(t *testing.T, health HealthChecker) *testServer {
	t.Helper()

	users, sessions, states := authadapters.NewMemoryStores()
	auth := authapp.NewService(users, sessions, states,
		authadapters.NewJWTTokenManager("router-secret", "nexus-test"),
		crypto.NewPasswordHasher(crypto.Argon2idParams{Time: 1, Memory: 1024, Threads: 1}),
		authapp.Config{TokenTTL: time.Hour})

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{})
	require.NoError(t, err)

	ledger := billingadapters.NewMemoryStore()
	billing := billingapp.NewService(ledger, ledger, ledger, billingdomain.DefaultRateTable(),
		billingapp.Config{SignupBonusCredits: 100},
		billingapp.WithSignatureVerifier(billingadapters.NewHMACWebhookVerifier(testWebhookSecret)),
		billingapp.WithObservability(metrics, nil))
	auth.OnRegistered(billing)

	sealer, err := crypto.NewSealer("router-secret")
	require.NoError(t, err)
	client := &scriptedClient{
		chunks: []string{"po", "ng"},
		reply:  llm.Response{Content: "pong", Usage: llm.Usage{InputTokens: 1200, OutputTokens: 300}},
	}
	chat := chatapp.NewService(chatadapters.NewMemoryStore(), billing, &scriptedFactory{client: client},
		chatapp.Config{DefaultProvider: llm.ProviderOpenAI, DefaultModel: "gpt-4o"},
		chatapp.WithKeySealer(sealer), chatapp.WithMetrics(metrics))

	githubClient := githubapi.NewClient(githubapi.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost/api/github/callback",
		APIURL:       "http://127.0.0.1:1",
	})
	github := githubapp.NewService(githubadapters.NewMemoryStore(), githubClient, auth, sealer, githubapp.Config{})

	router := NewRouter(RouterDeps{
		Auth:    auth,
		Billing: billing,
		Chat:    chat,
		GitHub:  github,
		Obs:     &observability.Observability{Metrics: metrics},
		Health:  health,
	}, RouterConfig{Environment: "development", RequestTimeout: 5 * time.Second})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, client: client}
}

type session struct {
	t      *testing.T
	server *testServer
	cookie *http.Cookie
	bearer string
}

func (s *session) do(method, path string, body any, headers map[string]string) (int, []byte) {
	s.t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(v)
	default:
		payload, err := json.Marshal(v)
		require.NoError(s.t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(s.t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	if s.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+s.bearer)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := s.server.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(s.t, err)
	if s.cookie == nil {
		for _, c := range resp.Cookies() {
			if c.Name == authCookieName && c.Value != "" {
				s.cookie = c
			}
		}
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func signUp(t *testing.T, server *testServer, email string) *session {
	t.Helper()
	s := &session{t: t, server: server}
	status, body := s.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": email, "password": "password1", "display_name": "Tester",
	}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = s.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": email, "password": "password1",
	}, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	require.NotNil(t, s.cookie, "login must set the auth cookie")
	require.True(t, s.cookie.HttpOnly)
	return s
}

func TestRouterAuthFlow(t *testing.T) {
	server := newTestServer(t, nil)
	s := signUp(t, server, "flow@example.com")

	status, body := s.do(http.MethodGet, "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	me := decode[struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Credits billingdomain.UserCredits `json:"credits"`
	}](t, body)
	assert.Equal(t, "flow@example.com", me.User.Email)
	assert.Equal(t, int64(100), me.Credits.Balance)

	anonymous := &session{t: t, server: server}
	status, _ = anonymous.do(http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = anonymous.do(http.MethodPost, "/api/auth/register", map[string]string{
		"email": "FLOW@example.com", "password": "password1",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = anonymous.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email": "flow@example.com", "password": "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	token := s.cookie.Value
	status, _ = s.do(http.MethodPost, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	bearer := &session{t: t, server: server, bearer: token}
	status, _ = bearer.do(http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRouterRejectsUnknownFields(t *testing.T) {
	server := newTestServer(t, nil)
	s := &session{t: t, server: server}
	status, body := s.do(http.MethodPost, "/api/auth/register", []byte(`{"email":"x@example.com","password":"password1","admin":true}`), nil)
	assert.Equal(t, http.StatusBadRequest, status, string(body))
}

func TestRouterChatWorkspace(t *testing.T) {
	server := newTestServer(t, nil)
	s := signUp(t, server, "chat@example.com")

	status, body := s.do(http.MethodPost, "/api/folders", map[string]string{"name": "Work"}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	folder := decode[struct {
		ID string `json:"id"`
	}](t, body)

	status, body = s.do(http.MethodPost, "/api/chats", map[string]any{"title": "Plan", "folder_id": folder.ID}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	chat := decode[struct {
		ID       string  `json:"id"`
		FolderID *string `json:"folder_id"`
	}](t, body)
	require.NotNil(t, chat.FolderID)

	status, body = s.do(http.MethodGet, "/api/chats?folder_id="+folder.ID, nil, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	listed := decode[struct {
		Chats []struct {
			ID string `json:"id"`
		} `json:"chats"`
	}](t, body)
	require.Len(t, listed.Chats, 1)

	status, body = s.do(http.MethodPost, "/api/chats/"+chat.ID+"/messages", map[string]string{"content": "ping"}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	exchange := decode[struct {
		AssistantMessage struct {
			Content string `json:"content"`
		} `json:"assistant_message"`
		CreditsUsed int64 `json:"credits_used"`
	}](t, body)
	assert.Equal(t, "pong", exchange.AssistantMessage.Content)
	assert.Equal(t, int64(8), exchange.CreditsUsed)

	status, body = s.do(http.MethodGet, "/api/credits", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(92), decode[billingdomain.UserCredits](t, body).Balance)

	status, body = s.do(http.MethodGet, "/api/chats/"+chat.ID+"/messages", nil, nil)
	require.Equal(t, http.StatusOK, status)
	messages := decode[struct {
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}](t, body)
	require.Len(t, messages.Messages, 2)

	status, _ = s.do(http.MethodPatch, "/api/chats/"+chat.ID, []byte(`{"folder_id":null}`), nil)
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(http.MethodPost, "/api/chats/"+chat.ID+"/subtasks", map[string]string{"title": "Draft"}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))

	status, _ = s.do(http.MethodPost, "/api/chats/"+chat.ID+"/messages", map[string]string{"content": "ping", "provider": "google"}, nil)
	assert.Equal(t, http.StatusNotImplemented, status)

	other := signUp(t, server, "other@example.com")
	status, _ = other.do(http.MethodGet, "/api/chats/"+chat.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(http.MethodDelete, "/api/chats/"+chat.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = s.do(http.MethodGet, "/api/chats/"+chat.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouterSubscriptionUpdateResetsBalance(t *testing.T) {
	server := newTestServer(t, nil)
	s := signUp(t, server, "sub@example.com")

	status, body := s.do(http.MethodPatch, "/api/subscription", map[string]string{"mode": "credits", "tier_id": "pro"}, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = s.do(http.MethodGet, "/api/credits", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2000), decode[billingdomain.UserCredits](t, body).Balance)

	status, _ = s.do(http.MethodPatch, "/api/subscription", map[string]string{"mode": "credits", "tier_id": "platinum"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = s.do(http.MethodPatch, "/api/subscription", map[string]string{"mode": "barter"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRouterPaymentWebhookRequiresSignature(t *testing.T) {
	server := newTestServer(t, nil)
	s := signUp(t, server, "buyer@example.com")

	status, body := s.do(http.MethodPost, "/api/credits/purchase", map[string]string{"package_id": "standard"}, nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	purchase := decode[billingapp.PurchaseResult](t, body)
	require.Equal(t, billingdomain.PaymentPending, purchase.Payment.Status)

	payload, err := json.Marshal(billingdomain.PaymentEvent{
		Type:      billingdomain.EventPaymentCompleted,
		PaymentID: purchase.Payment.ID,
	})
	require.NoError(t, err)

	anonymous := &session{t: t, server: server}
	status, _ = anonymous.do(http.MethodPost, "/api/webhooks/payments", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = anonymous.do(http.MethodPost, "/api/webhooks/payments", payload, map[string]string{
		"X-Nexus-Signature": "sha256=deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	signature := payments.NewHMACVerifier(testWebhookSecret).Sign(payload)
	for i := 0; i < 2; i++ {
		status, body = anonymous.do(http.MethodPost, "/api/webhooks/payments", payload, map[string]string{
			"X-Nexus-Signature": signature,
		})
		require.Equal(t, http.StatusOK, status, string(body))
	}

	status, body = s.do(http.MethodGet, "/api/credits", nil, nil)
	require.Equal(t, http.StatusOK, status)
	credits := decode[billingdomain.UserCredits](t, body)
	assert.Equal(t, int64(2100), credits.Balance)
	assert.Equal(t, credits.TotalEarned-credits.TotalSpent, credits.Balance)
}

func TestRouterGitHubRequiresConnection(t *testing.T) {
	server := newTestServer(t, nil)
	s := signUp(t, server, "dev@example.com")

	status, body := s.do(http.MethodGet, "/api/github/repos", nil, nil)
	assert.Equal(t, http.StatusPaymentRequired, status, string(body))

	status, body = s.do(http.MethodGet, "/api/github/connect", nil, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, decode[map[string]string](t, body)["url"], "state=")

	status, _ = s.do(http.MethodPatch, "/api/github/changes/not-a-uuid", map[string]string{"action": "approve"}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	var healthy = true
	server := newTestServer(t, pingFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("connection refused")
	}))
	s := &session{t: t, server: server}

	status, _ := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	healthy = false
	status, body := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", decode[map[string]string](t, body)["status"])

	status, _ = s.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

type staticDegraded map[string]string

func (d staticDegraded) Snapshot() map[string]string { return d }

func TestHealthReportsDegradedComponents(t *testing.T) {
	handler := healthHandler(nil, staticDegraded{"maintenance": "invalid schedule"}, logging.Nop())
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec.Body.Bytes())
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, map[string]string{"maintenance": "invalid schedule"}, resp.Degraded)
	assert.Empty(t, resp.Database)
}
