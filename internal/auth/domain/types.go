package domain

import "time"

// UserStatus represents the lifecycle state of an account.
type UserStatus string

const (
	// UserStatusActive indicates a usable account.
	UserStatusActive UserStatus = "active"
	// UserStatusDisabled indicates the account is disabled and cannot sign in.
	UserStatusDisabled UserStatus = "disabled"
)

// OAuthProvider names an external account linked through an OAuth state.
type OAuthProvider string

const (
	// OAuthProviderGitHub links a GitHub account for repository access.
	OAuthProviderGitHub OAuthProvider = "github"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// User represents a person who can access the platform.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Status       UserStatus
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is the server-side record behind an issued access token.
type Session struct {
	ID        string
	UserID    string
	UserAgent string
	IP        string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session can still authenticate requests at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Claims represents JWT payload extracted from issued access tokens.
type Claims struct {
	Subject   string
	Email     string
	SessionID string
	ExpiresAt time.Time
}

// TokenPair bundles the issued access token with its session.
type TokenPair struct {
	AccessToken  string
	AccessExpiry time.Time
	SessionID    string
	User         User
}

// OAuthState is a one-shot nonce binding an OAuth redirect to a user.
type OAuthState struct {
	State     string
	Provider  OAuthProvider
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}
