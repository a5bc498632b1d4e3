package http

import (
	"context"
	"net/http"
	"strings"

	authdomain "nexus/internal/auth/domain"
	"nexus/internal/shared/logging"
	id "nexus/internal/shared/utils/id"
)

const authCookieName = "nexus_token"

// Authenticator resolves an access token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (authdomain.User, authdomain.Claims, error)
}

func requestToken(r *http.Request) string {
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// AuthMiddleware requires a valid nexus_token cookie or bearer token and
// stores the user on the request context.
func AuthMiddleware(auth Authenticator, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := requestToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
				return
			}
			user, claims, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			ctx := context.WithValue(r.Context(), authUserContextKey, user)
			ctx = context.WithValue(ctx, authClaimsContextKey, claims)
			ctx = id.WithUserID(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userID returns the authenticated user id. Handlers behind AuthMiddleware
// can rely on it being set.
func userID(r *http.Request) string {
	user, _ := CurrentUser(r.Context())
	return user.ID
}
