package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"nexus/internal/auth/domain"
	"nexus/internal/auth/ports"
)

// JWTTokenManager issues HS256 access tokens.
type JWTTokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type accessClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// NewJWTTokenManager creates a new token manager.
func NewJWTTokenManager(secret, issuer string) *JWTTokenManager {
	return &JWTTokenManager{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// WithNow allows tests to control the clock used for expiry checks.
func (m *JWTTokenManager) WithNow(now func() time.Time) *JWTTokenManager {
	if now != nil {
		m.now = now
	}
	return m
}

// GenerateAccessToken implements ports.TokenManager.
func (m *JWTTokenManager) GenerateAccessToken(_ context.Context, user domain.User, sessionID string, expiresAt time.Time) (string, error) {
	if len(m.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	claims := accessClaims{
		Email:     user.Email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(m.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseAccessToken verifies signature, expiry, and issuer.
func (m *JWTTokenManager) ParseAccessToken(_ context.Context, token string) (domain.Claims, error) {
	if token == "" {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return domain.Claims{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.SessionID == "" {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	return domain.Claims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

var _ ports.TokenManager = (*JWTTokenManager)(nil)
