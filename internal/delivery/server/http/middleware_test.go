package http

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authdomain "nexus/internal/auth/domain"
	"nexus/internal/infra/observability"
	"nexus/internal/shared/logging"
	id "nexus/internal/shared/utils/id"
)

type stubAuthenticator struct {
	tokens map[string]authdomain.User
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (authdomain.User, authdomain.Claims, error) {
	user, ok := s.tokens[token]
	if !ok {
		return authdomain.User{}, authdomain.Claims{}, authdomain.ErrInvalidToken
	}
	return user, authdomain.Claims{Subject: user.ID}, nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func TestCORSMiddlewareAllowsListedOrigin(t *testing.T) {
	handler := CORSMiddleware("production", []string{"https://app.nexus.dev"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Origin", "https://app.nexus.dev")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.nexus.dev", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}

func TestCORSMiddlewareRejectsUnlistedOriginInProduction(t *testing.T) {
	handler := CORSMiddleware("production", []string{"https://app.nexus.dev"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddlewareAnswersPreflight(t *testing.T) {
	called := false
	handler := CORSMiddleware("development", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestAuthMiddleware(t *testing.T) {
	auth := stubAuthenticator{tokens: map[string]authdomain.User{
		"good": {ID: "user-1", Status: authdomain.UserStatusActive},
	}}
	var seen string
	var ctxUser string
	handler := AuthMiddleware(auth, logging.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = userID(r)
		ctxUser = id.UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		seen, ctxUser = "", ""
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "user-1", seen)
		assert.Equal(t, "user-1", ctxUser)
	})

	t.Run("cookie", func(t *testing.T) {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: authCookieName, Value: "good"})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "user-1", seen)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer forged")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRateLimitMiddlewareRejectsBurstOverflow(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{RequestsPerMinute: 1, Burst: 1})(okHandler())

	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "203.0.113.7:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("/api/chats").Code)
	limited := send("/api/chats")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, send("/health").Code)
}

func TestRateLimitMiddlewareTracksClientsSeparately(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{RequestsPerMinute: 1, Burst: 1, MaxClients: 1})(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1:1000"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2:1000"))
	// The first client was evicted when the second arrived, so it starts fresh.
	assert.Equal(t, http.StatusOK, send("198.51.100.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1:1000"))
}

func TestRateLimitMiddlewareDisabledWithoutLimit(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{})(okHandler())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRequestTimeoutMiddlewareSkipsWebsocket(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})
	handler := RequestTimeoutMiddleware(20 * time.Millisecond)(slow)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timeout")

	req := httptest.NewRequest(http.MethodGet, "/api/chats/abc/stream", nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestObservabilityMiddlewareRecordsCanonicalRoute(t *testing.T) {
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{})
	require.NoError(t, err)

	var mu sync.Mutex
	var routes []string
	var statuses []int
	metrics.SetTestHooks(observability.MetricsTestHooks{
		HTTPServerRequest: func(_ string, route string, status int, _ time.Duration, _ int64) {
			mu.Lock()
			defer mu.Unlock()
			routes = append(routes, route)
			statuses = append(statuses, status)
		},
	})

	mux := http.NewServeMux()
	mux.Handle("GET /api/chats/{chat_id}", routeHandler("/api/chats/:chat_id", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))
	var handler http.Handler = RequestTimeoutMiddleware(time.Second)(mux)
	handler = ObservabilityMiddleware(&observability.Observability{Metrics: metrics}, nil)(handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats/6f1c2a9e-0d5b-4a53-9d0e-6c1f3b2a4e77", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/api/chats/:chat_id"}, routes)
	require.Equal(t, []int{http.StatusAccepted}, statuses)
}

func TestLoggingMiddlewareAssignsLogID(t *testing.T) {
	var fromCtx string
	handler := LoggingMiddleware(logging.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = id.LogIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	require.NotEmpty(t, rec.Header().Get("X-Log-Id"))
	assert.Equal(t, rec.Header().Get("X-Log-Id"), fromCtx)

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Log-Id"))
}

func TestCompressionMiddleware(t *testing.T) {
	handler := CompressionMiddleware()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	reader, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestStatusWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newStatusWriter(rec)
	w.WriteHeader(http.StatusNotFound)
	w.WriteHeader(http.StatusInternalServerError)
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, w.status)
	assert.Equal(t, int64(3), w.bytes)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, _, err = w.Hijack()
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, w.status)
}

func TestCompressionSkipsBodylessResponses(t *testing.T) {
	handler := CompressionMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodDelete, "/api/folders/f1", nil)
	req.Header.Set("Accept-Encoding", "br, gzip;q=0.8")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))
}

func TestCanonicalPathCollapsesRowIDs(t *testing.T) {
	cases := map[string]string{
		"":  "/",
		"/": "/",
		"/api/chats/3f2504e0-4f89-11d3-9a0c-0305e82c3301/messages": "/api/chats/:id/messages",
		"/api/github/changes/42/diff":                              "/api/github/changes/:id/diff",
		"/api/credits//transactions/":                              "/api/credits/transactions",
		"/api/folders/inbox":                                       "/api/folders/inbox",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}
