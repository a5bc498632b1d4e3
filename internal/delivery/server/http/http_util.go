package http

import (
	"errors"
	"net"
	"net/http"
	"strings"

	sharederrors "nexus/internal/shared/errors"
	jsonx "nexus/internal/shared/json"
)

const maxJSONBodySize = 1 << 20

// writeJSON serialises payload as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonx.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// decodeJSONBody reads exactly one JSON value from the request body. Decoding
// failures are reported as validation errors.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	defer func() {
		_ = r.Body.Close()
	}()
	if err := jsonx.DecodeStrict(r.Body, v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return sharederrors.NewValidationError("body", "exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, jsonx.ErrTrailingData):
			return sharederrors.NewValidationError("body", "must contain a single json value")
		}
		return sharederrors.NewValidationError("body", "invalid json: %v", err)
	}
	return nil
}

// clientIP extracts the client IP from common proxy headers or the remote address.
func clientIP(r *http.Request) string {
	if realIP := r.Header.Get("X-Forwarded-For"); realIP != "" {
		parts := strings.Split(realIP, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return strings.Trim(r.RemoteAddr, "[]")
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func appendVary(w http.ResponseWriter, value string) {
	for _, existing := range w.Header().Values("Vary") {
		for _, part := range strings.Split(existing, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return
			}
		}
	}
	w.Header().Add("Vary", value)
}
