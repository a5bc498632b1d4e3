package app

import (
	"context"
	"errors"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	authdomain "nexus/internal/auth/domain"
	"nexus/internal/github/domain"
	"nexus/internal/github/ports"
	githubapi "nexus/internal/infra/github"
	sharederrors "nexus/internal/shared/errors"
	"nexus/internal/shared/logging"
)

const (
	defaultRepoCacheSize = 1024
	defaultRepoCacheTTL  = 5 * time.Minute
	compensationTimeout  = 15 * time.Second
)

// Config tunes caching.
type Config struct {
	RepoCacheSize int
	RepoCacheTTL  time.Duration
}

// Service connects accounts, browses repositories and runs the
// pending-change approval workflow.
type Service struct {
	store      ports.Store
	api        ports.API
	states     ports.StateStore
	sealer     ports.TokenSealer
	repos      *expirable.LRU[string, []githubapi.Repository]
	fills      singleflight.Group
	newBackoff func() backoff.BackOff
	logger     logging.Logger
	now        func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithBackoff overrides the retry policy used for branch cleanup.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(s *Service) {
		if factory != nil {
			s.newBackoff = factory
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the GitHub service. A nil sealer disables connecting.
func NewService(store ports.Store, api ports.API, states ports.StateStore, sealer ports.TokenSealer, cfg Config, opts ...Option) *Service {
	if cfg.RepoCacheSize <= 0 {
		cfg.RepoCacheSize = defaultRepoCacheSize
	}
	if cfg.RepoCacheTTL <= 0 {
		cfg.RepoCacheTTL = defaultRepoCacheTTL
	}
	s := &Service{
		store:  store,
		api:    api,
		states: states,
		sealer: sealer,
		repos:  expirable.NewLRU[string, []githubapi.Repository](cfg.RepoCacheSize, nil, cfg.RepoCacheTTL),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
		logger: logging.NewComponentLogger("GitHub"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) configured() bool {
	return s.api != nil && s.api.Configured() && s.sealer != nil
}

// ConnectURL issues an OAuth state for userID and returns GitHub's consent URL.
func (s *Service) ConnectURL(ctx context.Context, userID string) (string, error) {
	if !s.configured() {
		return "", domain.ErrNotConfigured
	}
	state, err := s.states.IssueOAuthState(ctx, userID, authdomain.OAuthProviderGitHub)
	if err != nil {
		return "", err
	}
	return s.api.AuthorizeURL(state)
}

// CompleteOAuth validates state, exchanges code and stores the connection
// for the user the state was issued to.
func (s *Service) CompleteOAuth(ctx context.Context, state, code string) (domain.Connection, error) {
	if !s.configured() {
		return domain.Connection{}, domain.ErrNotConfigured
	}
	if strings.TrimSpace(code) == "" {
		return domain.Connection{}, sharederrors.NewValidationError("code", "is required")
	}
	record, err := s.states.ConsumeOAuthState(ctx, state, authdomain.OAuthProviderGitHub)
	if err != nil {
		return domain.Connection{}, err
	}
	token, err := s.api.ExchangeCode(ctx, code)
	if err != nil {
		return domain.Connection{}, err
	}
	user, err := s.api.GetUser(ctx, token.AccessToken)
	if err != nil {
		return domain.Connection{}, err
	}
	sealed, err := s.sealer.SealString(token.AccessToken, record.UserID)
	if err != nil {
		return domain.Connection{}, err
	}
	now := s.now()
	conn, err := s.store.SaveConnection(ctx, domain.Connection{
		UserID:       record.UserID,
		GitHubUserID: user.ID,
		Login:        user.Login,
		Scopes:       token.Scopes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, sealed)
	if err != nil {
		return domain.Connection{}, err
	}
	s.repos.Remove(record.UserID)
	s.logger.Info("Connected GitHub account %s for user %s", user.Login, record.UserID)
	return conn, nil
}

// Connection returns the user's connection.
func (s *Service) Connection(ctx context.Context, userID string) (domain.Connection, error) {
	conn, _, err := s.store.GetConnection(ctx, userID)
	return conn, err
}

// Disconnect forgets the user's token.
func (s *Service) Disconnect(ctx context.Context, userID string) error {
	s.repos.Remove(userID)
	return s.store.DeleteConnection(ctx, userID)
}

func (s *Service) token(ctx context.Context, userID string) (string, error) {
	if s.sealer == nil {
		return "", domain.ErrNotConfigured
	}
	_, sealed, err := s.store.GetConnection(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.sealer.OpenString(sealed, userID)
}

// deleteBranch removes a head branch, retrying transient failures. A branch
// that is already gone counts as deleted.
func (s *Service) deleteBranch(ctx context.Context, token, owner, repo, branch string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	op := func() error {
		err := s.api.DeleteBranch(ctx, token, owner, repo, branch)
		if err == nil || errors.Is(err, githubapi.ErrNotFound) {
			return nil
		}
		if !sharederrors.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx))
}

func validID(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if _, err := uuid.Parse(value); err != nil {
		return "", false
	}
	return value, true
}
