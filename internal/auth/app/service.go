package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"nexus/internal/auth/domain"
	"nexus/internal/auth/ports"
	sharederrors "nexus/internal/shared/errors"
	"nexus/internal/shared/logging"
)

// Config controls token expirations and OAuth behaviour.
type Config struct {
	TokenTTL      time.Duration
	StateTTL      time.Duration
	SecureCookies bool
}

// Service orchestrates authentication workflows.
type Service struct {
	users     ports.UserRepository
	sessions  ports.SessionRepository
	states    ports.StateStore
	tokens    ports.TokenManager
	hasher    ports.PasswordHasher
	listeners []ports.RegistrationListener
	config    Config
	logger    logging.Logger
	now       func() time.Time
}

// NewService constructs a Service instance.
func NewService(users ports.UserRepository, sessions ports.SessionRepository, states ports.StateStore, tokens ports.TokenManager, hasher ports.PasswordHasher, cfg Config) *Service {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.StateTTL == 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	return &Service{
		users:    users,
		sessions: sessions,
		states:   states,
		tokens:   tokens,
		hasher:   hasher,
		config:   cfg,
		logger:   logging.NewComponentLogger("AuthService"),
		now:      time.Now,
	}
}

// WithNow allows tests to control the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OnRegistered adds a listener invoked after every successful registration.
func (s *Service) OnRegistered(listener ports.RegistrationListener) {
	if listener != nil {
		s.listeners = append(s.listeners, listener)
	}
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.config
}

// Register creates a local account.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (domain.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, sharederrors.NewValidationError("email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, sharederrors.NewValidationError("email", "is not a valid address")
	}
	if len(password) < domain.MinPasswordLength {
		return domain.User{}, sharederrors.NewValidationError("password", "must be at least %d characters", domain.MinPasswordLength)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return domain.User{}, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}

	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	created, err := s.users.Create(ctx, domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		Status:       domain.UserStatusActive,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.User{}, err
	}

	for _, listener := range s.listeners {
		if err := listener.UserRegistered(ctx, created); err != nil {
			s.logger.Warn("Registration listener failed for user %s: %v", created.ID, err)
		}
	}
	return created, nil
}

// Login authenticates a user using email/password and opens a session.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ip string) (domain.TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.TokenPair{}, domain.ErrInvalidCredentials
		}
		return domain.TokenPair{}, err
	}
	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil || !ok {
		return domain.TokenPair{}, domain.ErrInvalidCredentials
	}
	if user.Status != domain.UserStatusActive {
		return domain.TokenPair{}, domain.ErrUserDisabled
	}

	now := s.now()
	session, err := s.sessions.Create(ctx, domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		UserAgent: userAgent,
		IP:        ip,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TokenTTL),
	})
	if err != nil {
		return domain.TokenPair{}, err
	}
	token, err := s.tokens.GenerateAccessToken(ctx, user, session.ID, session.ExpiresAt)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:  token,
		AccessExpiry: session.ExpiresAt,
		SessionID:    session.ID,
		User:         user,
	}, nil
}

// Logout revokes the session. Unknown or already revoked sessions are ignored.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	err := s.sessions.Revoke(ctx, sessionID, s.now())
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}

// ParseAccessToken verifies the token and its backing session.
func (s *Service) ParseAccessToken(ctx context.Context, token string) (domain.Claims, error) {
	claims, err := s.tokens.ParseAccessToken(ctx, token)
	if err != nil {
		return domain.Claims{}, err
	}
	session, err := s.sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.Claims{}, domain.ErrInvalidToken
		}
		return domain.Claims{}, err
	}
	if session.UserID != claims.Subject {
		return domain.Claims{}, domain.ErrInvalidToken
	}
	if session.RevokedAt != nil {
		return domain.Claims{}, domain.ErrSessionRevoked
	}
	if !session.Active(s.now()) {
		return domain.Claims{}, domain.ErrSessionExpired
	}
	return claims, nil
}

// Authenticate resolves a token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.User, domain.Claims, error) {
	claims, err := s.ParseAccessToken(ctx, token)
	if err != nil {
		return domain.User{}, domain.Claims{}, err
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.User{}, domain.Claims{}, domain.ErrInvalidToken
		}
		return domain.User{}, domain.Claims{}, err
	}
	if user.Status != domain.UserStatusActive {
		return domain.User{}, domain.Claims{}, domain.ErrUserDisabled
	}
	return user, claims, nil
}

// GetUser fetches a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// IssueOAuthState stores a fresh state nonce for userID.
func (s *Service) IssueOAuthState(ctx context.Context, userID string, provider domain.OAuthProvider) (string, error) {
	now := s.now()
	state := domain.OAuthState{
		State:     randomState(),
		Provider:  provider,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.StateTTL),
	}
	if err := s.states.Save(ctx, state); err != nil {
		return "", err
	}
	return state.State, nil
}

// ConsumeOAuthState validates and burns a state nonce.
func (s *Service) ConsumeOAuthState(ctx context.Context, state string, provider domain.OAuthProvider) (domain.OAuthState, error) {
	if strings.TrimSpace(state) == "" {
		return domain.OAuthState{}, domain.ErrStateNotFound
	}
	record, err := s.states.Consume(ctx, state, provider)
	if err != nil {
		return domain.OAuthState{}, err
	}
	if !s.now().Before(record.ExpiresAt) {
		return domain.OAuthState{}, domain.ErrStateExpired
	}
	return record, nil
}

// PurgeExpired removes expired sessions and OAuth states.
func (s *Service) PurgeExpired(ctx context.Context) (sessions int64, states int64, err error) {
	now := s.now()
	sessions, err = s.sessions.PurgeExpired(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("purge sessions: %w", err)
	}
	states, err = s.states.PurgeExpired(ctx, now)
	if err != nil {
		return sessions, 0, fmt.Errorf("purge oauth states: %w", err)
	}
	return sessions, states, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomState() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
