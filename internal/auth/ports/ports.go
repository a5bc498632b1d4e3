package ports

import (
	"context"
	"time"

	"nexus/internal/auth/domain"
)

// UserRepository abstracts persistence for user records.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByID(ctx context.Context, id string) (domain.User, error)
}

// SessionRepository stores login sessions.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	FindByID(ctx context.Context, id string) (domain.Session, error)
	// Revoke marks the session revoked; revoking twice is not an error.
	Revoke(ctx context.Context, id string, at time.Time) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// StateStore keeps transient OAuth state nonces.
type StateStore interface {
	Save(ctx context.Context, state domain.OAuthState) error
	// Consume deletes and returns the state; unknown states yield ErrStateNotFound.
	Consume(ctx context.Context, state string, provider domain.OAuthProvider) (domain.OAuthState, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenManager issues and validates application JWTs.
type TokenManager interface {
	GenerateAccessToken(ctx context.Context, user domain.User, sessionID string, expiresAt time.Time) (string, error)
	ParseAccessToken(ctx context.Context, token string) (domain.Claims, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}

// RegistrationListener is notified after a user row is created.
type RegistrationListener interface {
	UserRegistered(ctx context.Context, user domain.User) error
}
