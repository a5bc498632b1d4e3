package adapters

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"nexus/internal/github/domain"
	"nexus/internal/github/ports"
	"nexus/internal/infra/postgres"
)

// PostgresStore implements ports.Store on the shared pool.
type PostgresStore struct {
	db postgres.DB
}

var _ ports.Store = (*PostgresStore)(nil)

// NewPostgresStore builds the GitHub repository.
func NewPostgresStore(db postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface{ Scan(...any) error }

const connectionColumns = `user_id, github_user_id, login, scopes, created_at, updated_at, access_token`

func scanConnection(row rowScanner) (domain.Connection, []byte, error) {
	var (
		conn   domain.Connection
		scopes string
		sealed []byte
	)
	err := row.Scan(&conn.UserID, &conn.GitHubUserID, &conn.Login, &scopes, &conn.CreatedAt, &conn.UpdatedAt, &sealed)
	if err != nil {
		return domain.Connection{}, nil, err
	}
	conn.Scopes = splitScopes(scopes)
	return conn, sealed, nil
}

func splitScopes(raw string) []string {
	var scopes []string
	for _, scope := range strings.Split(raw, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

func (s *PostgresStore) SaveConnection(ctx context.Context, conn domain.Connection, sealedToken []byte) (domain.Connection, error) {
	saved, _, err := scanConnection(s.db.QueryRow(ctx, `
INSERT INTO github_connections (user_id, github_user_id, login, scopes, created_at, updated_at, access_token)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
    github_user_id = EXCLUDED.github_user_id,
    login = EXCLUDED.login,
    scopes = EXCLUDED.scopes,
    updated_at = EXCLUDED.updated_at,
    access_token = EXCLUDED.access_token
RETURNING `+connectionColumns,
		conn.UserID, conn.GitHubUserID, conn.Login, strings.Join(conn.Scopes, ","), conn.CreatedAt, conn.UpdatedAt, sealedToken,
	))
	return saved, err
}

func (s *PostgresStore) GetConnection(ctx context.Context, userID string) (domain.Connection, []byte, error) {
	conn, sealed, err := scanConnection(s.db.QueryRow(ctx, `SELECT `+connectionColumns+` FROM github_connections WHERE user_id = $1`, userID))
	if postgres.IsNoRows(err) {
		return domain.Connection{}, nil, domain.ErrNotConnected
	}
	return conn, sealed, err
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, userID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM github_connections WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotConnected
	}
	return nil
}

const changeColumns = `id, user_id, owner, repo, base_branch, head_branch, path, commit_sha, commit_message,
    title, description, status, pr_number, pr_url, created_at, decided_at`

func scanChange(row rowScanner) (domain.PendingChange, error) {
	var (
		change domain.PendingChange
		status string
	)
	err := row.Scan(
		&change.ID, &change.UserID, &change.Owner, &change.Repo, &change.BaseBranch, &change.HeadBranch,
		&change.Path, &change.CommitSHA, &change.CommitMessage, &change.Title, &change.Description,
		&status, &change.PRNumber, &change.PRURL, &change.CreatedAt, &change.DecidedAt,
	)
	change.Status = domain.ChangeStatus(status)
	return change, err
}

func (s *PostgresStore) CreateChange(ctx context.Context, change domain.PendingChange) (domain.PendingChange, error) {
	return scanChange(s.db.QueryRow(ctx, `
INSERT INTO pending_changes (id, user_id, owner, repo, base_branch, head_branch, path, commit_sha, commit_message,
    title, description, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING `+changeColumns,
		change.ID, change.UserID, change.Owner, change.Repo, change.BaseBranch, change.HeadBranch, change.Path,
		change.CommitSHA, change.CommitMessage, change.Title, change.Description, string(change.Status), change.CreatedAt,
	))
}

func (s *PostgresStore) GetChange(ctx context.Context, userID, changeID string) (domain.PendingChange, error) {
	change, err := scanChange(s.db.QueryRow(ctx, `SELECT `+changeColumns+` FROM pending_changes WHERE id = $1 AND user_id = $2`, changeID, userID))
	if postgres.IsNoRows(err) {
		return domain.PendingChange{}, domain.ErrChangeNotFound
	}
	return change, err
}

func (s *PostgresStore) ListChanges(ctx context.Context, userID string) ([]domain.PendingChange, error) {
	rows, err := s.db.Query(ctx, `SELECT `+changeColumns+` FROM pending_changes WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []domain.PendingChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

// Decide is a compare-and-set on status so concurrent decisions resolve to
// exactly one winner.
func (s *PostgresStore) Decide(ctx context.Context, userID, changeID string, status domain.ChangeStatus, at time.Time) (domain.PendingChange, error) {
	var decided domain.PendingChange
	err := postgres.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		change, err := scanChange(tx.QueryRow(ctx, `
UPDATE pending_changes SET status = $3, decided_at = $4
WHERE id = $1 AND user_id = $2 AND status = 'pending'
RETURNING `+changeColumns,
			changeID, userID, string(status), at,
		))
		if err == nil {
			decided = change
			return nil
		}
		if !postgres.IsNoRows(err) {
			return err
		}
		var current string
		err = tx.QueryRow(ctx, `SELECT status FROM pending_changes WHERE id = $1 AND user_id = $2`, changeID, userID).Scan(&current)
		if postgres.IsNoRows(err) {
			return domain.ErrChangeNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrChangeAlreadyProcessed
	})
	return decided, err
}

func (s *PostgresStore) RecordPullRequest(ctx context.Context, changeID string, number int, url string) (domain.PendingChange, error) {
	change, err := scanChange(s.db.QueryRow(ctx, `
UPDATE pending_changes SET pr_number = $2, pr_url = $3
WHERE id = $1
RETURNING `+changeColumns,
		changeID, number, url,
	))
	if postgres.IsNoRows(err) {
		return domain.PendingChange{}, domain.ErrChangeNotFound
	}
	return change, err
}

func (s *PostgresStore) Reopen(ctx context.Context, changeID string) error {
	_, err := s.db.Exec(ctx, `
UPDATE pending_changes SET status = 'pending', decided_at = NULL
WHERE id = $1 AND status = 'approved' AND pr_number = 0`, changeID)
	return err
}
