package ports

import (
	"context"
	"time"

	authdomain "nexus/internal/auth/domain"
	"nexus/internal/github/domain"
	githubapi "nexus/internal/infra/github"
)

// ConnectionStore persists GitHub connections with their sealed token.
type ConnectionStore interface {
	SaveConnection(ctx context.Context, conn domain.Connection, sealedToken []byte) (domain.Connection, error)
	GetConnection(ctx context.Context, userID string) (domain.Connection, []byte, error)
	DeleteConnection(ctx context.Context, userID string) error
}

// ChangeStore persists pending changes.
type ChangeStore interface {
	CreateChange(ctx context.Context, change domain.PendingChange) (domain.PendingChange, error)
	GetChange(ctx context.Context, userID, changeID string) (domain.PendingChange, error)
	ListChanges(ctx context.Context, userID string) ([]domain.PendingChange, error)
	// Decide moves a pending change to status. It fails with
	// ErrChangeAlreadyProcessed, leaving the row untouched, when the change
	// is no longer pending.
	Decide(ctx context.Context, userID, changeID string, status domain.ChangeStatus, at time.Time) (domain.PendingChange, error)
	// RecordPullRequest stores the PR opened for an approved change.
	RecordPullRequest(ctx context.Context, changeID string, number int, url string) (domain.PendingChange, error)
	// Reopen returns an approved change without a PR to pending.
	Reopen(ctx context.Context, changeID string) error
}

// Store bundles the GitHub repositories.
type Store interface {
	ConnectionStore
	ChangeStore
}

// API is the GitHub surface used by the service.
type API interface {
	Configured() bool
	AuthorizeURL(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (githubapi.Token, error)
	GetUser(ctx context.Context, token string) (githubapi.User, error)
	ListRepos(ctx context.Context, token string) ([]githubapi.Repository, error)
	ListBranches(ctx context.Context, token, owner, repo string) ([]githubapi.Branch, error)
	GetBranch(ctx context.Context, token, owner, repo, branch string) (githubapi.Branch, error)
	GetContents(ctx context.Context, token, owner, repo, path, ref string) (githubapi.Content, error)
	CreateBranch(ctx context.Context, token, owner, repo, branch, sha string) error
	DeleteBranch(ctx context.Context, token, owner, repo, branch string) error
	PutFile(ctx context.Context, token, owner, repo string, req githubapi.PutFileRequest) (githubapi.CommitResult, error)
	CreatePullRequest(ctx context.Context, token, owner, repo string, input githubapi.PullRequestInput) (githubapi.PullRequest, error)
}

// StateStore issues and burns OAuth state nonces.
type StateStore interface {
	IssueOAuthState(ctx context.Context, userID string, provider authdomain.OAuthProvider) (string, error)
	ConsumeOAuthState(ctx context.Context, state string, provider authdomain.OAuthProvider) (authdomain.OAuthState, error)
}

// TokenSealer encrypts access tokens at rest.
type TokenSealer interface {
	SealString(secret, associated string) ([]byte, error)
	OpenString(sealed []byte, associated string) (string, error)
}
