package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	authdomain "nexus/internal/auth/domain"
)

type contextKey string

const (
	authUserContextKey   contextKey = "authUser"
	authClaimsContextKey contextKey = "authClaims"
	routeSlotContextKey  contextKey = "routeSlot"
)

// routeSlot is planted by the observability middleware and filled by the
// matched handler, so metrics see the route template rather than the raw path.
type routeSlot struct {
	route atomic.Pointer[string]
}

func withRouteHolder(ctx context.Context) context.Context {
	return context.WithValue(ctx, routeSlotContextKey, &routeSlot{})
}

func annotateRequestRoute(r *http.Request, route string) {
	if r == nil || route == "" {
		return
	}
	if slot, ok := r.Context().Value(routeSlotContextKey).(*routeSlot); ok {
		slot.route.Store(&route)
	}
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	slot, ok := ctx.Value(routeSlotContextKey).(*routeSlot)
	if !ok {
		return ""
	}
	if route := slot.route.Load(); route != nil {
		return *route
	}
	return ""
}

// CurrentUser returns the user attached by the auth middleware.
func CurrentUser(ctx context.Context) (authdomain.User, bool) {
	user, ok := ctx.Value(authUserContextKey).(authdomain.User)
	return user, ok
}

func currentClaims(ctx context.Context) (authdomain.Claims, bool) {
	claims, ok := ctx.Value(authClaimsContextKey).(authdomain.Claims)
	return claims, ok
}

// canonicalPath collapses row ids in an unmatched path to ":id".
func canonicalPath(path string) string {
	var b strings.Builder
	for _, segment := range strings.Split(strings.TrimSpace(path), "/") {
		if segment = strings.TrimSpace(segment); segment == "" {
			continue
		}
		b.WriteByte('/')
		if isRowID(segment) {
			b.WriteString(":id")
		} else {
			b.WriteString(segment)
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

func isRowID(segment string) bool {
	if _, err := uuid.Parse(segment); err == nil {
		return true
	}
	_, err := strconv.ParseInt(segment, 10, 64)
	return err == nil
}
