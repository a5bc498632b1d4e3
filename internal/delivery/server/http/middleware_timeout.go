package http

import (
	"net/http"
	"strings"
	"time"
)

// RequestTimeoutMiddleware bounds non-streaming requests.
func RequestTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		limited := http.TimeoutHandler(next, timeout, `{"error":"request timeout"}`)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStreamRequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// isStreamRequest reports websocket upgrades, which must not be buffered.
func isStreamRequest(r *http.Request) bool {
	if r == nil || r.URL == nil {
		return false
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return strings.HasSuffix(strings.TrimRight(r.URL.Path, "/"), "/stream")
}
