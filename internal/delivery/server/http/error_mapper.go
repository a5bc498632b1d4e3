package http

import (
	"errors"
	"net/http"

	authdomain "nexus/internal/auth/domain"
	billingdomain "nexus/internal/billing/domain"
	chatdomain "nexus/internal/chat/domain"
	githubdomain "nexus/internal/github/domain"
	githubapi "nexus/internal/infra/github"
	"nexus/internal/infra/llm"
	"nexus/internal/infra/payments"
	sharederrors "nexus/internal/shared/errors"
	"nexus/internal/shared/logging"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// mapDomainError translates a service error into a status code and a
// client-facing message. It returns (0, "", "") for errors it does not know.
func mapDomainError(err error) (status int, message, details string) {
	if err == nil {
		return 0, "", ""
	}

	switch {
	case errors.Is(err, sharederrors.ErrValidation):
		return http.StatusBadRequest, err.Error(), ""

	case errors.Is(err, authdomain.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error(), ""
	case errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked):
		return http.StatusUnauthorized, "authentication required", err.Error()
	case errors.Is(err, authdomain.ErrUserDisabled):
		return http.StatusForbidden, err.Error(), ""
	case errors.Is(err, authdomain.ErrUserExists):
		return http.StatusConflict, err.Error(), ""
	case errors.Is(err, authdomain.ErrUserNotFound):
		return http.StatusNotFound, err.Error(), ""
	case errors.Is(err, authdomain.ErrStateNotFound), errors.Is(err, authdomain.ErrStateExpired):
		return http.StatusBadRequest, err.Error(), ""

	case errors.Is(err, billingdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, err.Error(), ""
	case errors.Is(err, billingdomain.ErrInvalidSignature),
		errors.Is(err, payments.ErrMissingSignature),
		errors.Is(err, payments.ErrBadSignature):
		return http.StatusUnauthorized, "invalid webhook signature", ""
	case errors.Is(err, billingdomain.ErrTierNotFound),
		errors.Is(err, billingdomain.ErrSubscriptionNotFound),
		errors.Is(err, billingdomain.ErrPaymentNotFound),
		errors.Is(err, billingdomain.ErrPackageNotFound):
		return http.StatusNotFound, err.Error(), ""
	case errors.Is(err, billingdomain.ErrPaymentsNotConfigured):
		return http.StatusServiceUnavailable, err.Error(), ""

	case errors.Is(err, chatdomain.ErrFolderNotFound),
		errors.Is(err, chatdomain.ErrChatNotFound),
		errors.Is(err, chatdomain.ErrSubtaskNotFound),
		errors.Is(err, chatdomain.ErrKeyNotFound):
		return http.StatusNotFound, err.Error(), ""
	case errors.Is(err, chatdomain.ErrSealerMissing):
		return http.StatusServiceUnavailable, err.Error(), ""

	case errors.Is(err, llm.ErrProviderNotImplemented):
		return http.StatusNotImplemented, err.Error(), ""
	case errors.Is(err, llm.ErrUnknownProvider), errors.Is(err, llm.ErrProviderNotConfigured):
		return http.StatusBadRequest, err.Error(), ""
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, err.Error(), ""

	case errors.Is(err, githubdomain.ErrNotConnected):
		return http.StatusPaymentRequired, err.Error(), ""
	case errors.Is(err, githubdomain.ErrNotConfigured), errors.Is(err, githubapi.ErrOAuthNotConfigured):
		return http.StatusServiceUnavailable, "github integration not configured", ""
	case errors.Is(err, githubdomain.ErrChangeNotFound):
		return http.StatusNotFound, err.Error(), ""
	case errors.Is(err, githubdomain.ErrChangeAlreadyProcessed):
		return http.StatusConflict, err.Error(), ""
	case errors.Is(err, githubapi.ErrNotFound):
		return http.StatusNotFound, "github resource not found", ""

	case sharederrors.IsUpstream(err):
		return http.StatusBadGateway, "upstream request failed", err.Error()

	default:
		return 0, "", ""
	}
}

// writeError writes the mapped error response. Unknown errors become an
// opaque 500 and are logged with the request's log and user ids.
func writeError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	status, message, details := mapDomainError(err)
	if status == 0 {
		logging.FromContext(r.Context(), logger).
			Error("%s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), logger).
			Warn("%s %s returned %d: %v", r.Method, r.URL.Path, status, err)
	}
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}
