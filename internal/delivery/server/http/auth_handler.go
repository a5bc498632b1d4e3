package http

import (
	"context"
	"net/http"
	"time"

	authapp "nexus/internal/auth/app"
	authdomain "nexus/internal/auth/domain"
	billingdomain "nexus/internal/billing/domain"
	"nexus/internal/shared/logging"
)

// AccountLedger exposes the billing reads shown on the profile.
type AccountLedger interface {
	Balance(ctx context.Context, userID string) (billingdomain.UserCredits, error)
	GetSubscription(ctx context.Context, userID string) (billingdomain.UserSubscription, error)
}

// AuthHandler manages authentication endpoints.
type AuthHandler struct {
	service *authapp.Service
	ledger  AccountLedger
	logger  logging.Logger
	secure  bool
}

// NewAuthHandler builds the authentication handler.
func NewAuthHandler(service *authapp.Service, ledger AccountLedger, secure bool) *AuthHandler {
	return &AuthHandler{
		service: service,
		ledger:  ledger,
		logger:  logging.NewComponentLogger("AuthHandler"),
		secure:  secure,
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userDTO struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type loginResponse struct {
	User        userDTO   `json:"user"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessToken string    `json:"access_token"`
}

type meResponse struct {
	User         userDTO                         `json:"user"`
	Credits      billingdomain.UserCredits       `json:"credits"`
	Subscription *billingdomain.UserSubscription `json:"subscription,omitempty"`
}

func toUserDTO(user authdomain.User) userDTO {
	return userDTO{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Status:      string(user.Status),
		CreatedAt:   user.CreatedAt,
	}
}

// HandleRegister processes POST /api/auth/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// HandleLogin processes POST /api/auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	tokens, err := h.service.Login(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.setAuthCookie(w, tokens.AccessToken, tokens.AccessExpiry)
	writeJSON(w, http.StatusOK, loginResponse{
		User:        toUserDTO(tokens.User),
		ExpiresAt:   tokens.AccessExpiry,
		AccessToken: tokens.AccessToken,
	})
}

// HandleLogout processes POST /api/auth/logout. It always clears the cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := requestToken(r); token != "" {
		if claims, err := h.service.ParseAccessToken(r.Context(), token); err == nil {
			if err := h.service.Logout(r.Context(), claims.SessionID); err != nil {
				writeError(w, r, h.logger, err)
				return
			}
		}
	}
	h.clearAuthCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe processes GET /api/auth/me.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		return
	}
	resp := meResponse{User: toUserDTO(user), Credits: billingdomain.UserCredits{UserID: user.ID}}
	if h.ledger != nil {
		credits, err := h.ledger.Balance(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		resp.Credits = credits
		sub, err := h.ledger.GetSubscription(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		resp.Subscription = &sub
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) setAuthCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: h.sameSiteMode(),
	})
}

func (h *AuthHandler) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: h.sameSiteMode(),
	})
}

func (h *AuthHandler) sameSiteMode() http.SameSite {
	if h.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
