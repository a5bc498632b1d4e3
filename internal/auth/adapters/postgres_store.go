package adapters

import (
	"context"
	"time"

	"nexus/internal/auth/domain"
	"nexus/internal/auth/ports"
	"nexus/internal/infra/postgres"
)

// PostgresUserRepo persists users.
type PostgresUserRepo struct {
	db postgres.DB
}

// PostgresSessionRepo persists login sessions.
type PostgresSessionRepo struct {
	db postgres.DB
}

// PostgresStateStore persists OAuth state nonces.
type PostgresStateStore struct {
	db postgres.DB
}

// NewPostgresStores builds the auth repositories on the shared pool.
func NewPostgresStores(db postgres.DB) (*PostgresUserRepo, *PostgresSessionRepo, *PostgresStateStore) {
	return &PostgresUserRepo{db: db}, &PostgresSessionRepo{db: db}, &PostgresStateStore{db: db}
}

const userColumns = `id, email, display_name, status, password_hash, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var user domain.User
	var status string
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &status, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	user.Status = domain.UserStatus(status)
	return user, nil
}

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	query := `
INSERT INTO users (id, email, display_name, status, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
RETURNING ` + userColumns
	created, err := scanUser(r.db.QueryRow(ctx, query,
		user.ID, user.Email, user.DisplayName, string(user.Status), user.PasswordHash, user.CreatedAt,
	))
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, err
	}
	return created, nil
}

func (r *PostgresUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	query := `
UPDATE users
SET email = $2, display_name = $3, status = $4, password_hash = $5, updated_at = $6
WHERE id = $1
RETURNING ` + userColumns
	updated, err := scanUser(r.db.QueryRow(ctx, query,
		user.ID, user.Email, user.DisplayName, string(user.Status), user.PasswordHash, user.UpdatedAt,
	))
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.User{}, domain.ErrUserNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, err
	}
	return updated, nil
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (domain.User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	_, err := r.db.Exec(ctx, `
INSERT INTO auth_sessions (id, user_id, user_agent, ip, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.UserID, session.UserAgent, session.IP, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (domain.Session, error) {
	var session domain.Session
	var revokedAt *time.Time
	err := r.db.QueryRow(ctx, `
SELECT id, user_id, user_agent, ip, created_at, expires_at, revoked_at
FROM auth_sessions WHERE id = $1`, id).Scan(
		&session.ID, &session.UserID, &session.UserAgent, &session.IP,
		&session.CreatedAt, &session.ExpiresAt, &revokedAt,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	session.RevokedAt = revokedAt
	return session, nil
}

// Revoke keeps the first revocation timestamp.
func (r *PostgresSessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
UPDATE auth_sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *PostgresSessionRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStateStore) Save(ctx context.Context, state domain.OAuthState) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO oauth_states (state, provider, user_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`,
		state.State, string(state.Provider), state.UserID, state.CreatedAt, state.ExpiresAt,
	)
	return err
}

func (s *PostgresStateStore) Consume(ctx context.Context, state string, provider domain.OAuthProvider) (domain.OAuthState, error) {
	record := domain.OAuthState{Provider: provider}
	err := s.db.QueryRow(ctx, `
DELETE FROM oauth_states WHERE state = $1 AND provider = $2
RETURNING state, user_id, created_at, expires_at`, state, string(provider)).Scan(
		&record.State, &record.UserID, &record.CreatedAt, &record.ExpiresAt,
	)
	if err != nil {
		if postgres.IsNoRows(err) {
			return domain.OAuthState{}, domain.ErrStateNotFound
		}
		return domain.OAuthState{}, err
	}
	return record, nil
}

func (s *PostgresStateStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var (
	_ ports.UserRepository    = (*PostgresUserRepo)(nil)
	_ ports.SessionRepository = (*PostgresSessionRepo)(nil)
	_ ports.StateStore        = (*PostgresStateStore)(nil)
)
