package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"helpdesk-auth/backend/internal/db"
	"helpdesk-auth/backend/internal/security"
	"helpdesk-auth/backend/internal/session/domain"
	userdomain "helpdesk-auth/backend/internal/user/domain"
)

// findByTokenSQL checks token, expiry and user activity in one statement so a session
// can never be observed valid for a deactivated user.
const findByTokenSQL = `
	SELECT s.id, s.user_id, s.token_hash, s.expires_at, s.ip_address, s.user_agent, s.created_at, s.updated_at,
	       u.id, u.email, u.password_hash, u.name, u.role_id, u.team_id, u.active, u.created_at, u.updated_at,
	       r.id, r.name, t.id, t.name
	FROM sessions s
	JOIN users u ON u.id = s.user_id
	LEFT JOIN roles r ON r.id = u.role_id
	LEFT JOIN teams t ON t.id = u.team_id
	WHERE s.token_hash = $1 AND s.expires_at > $2 AND u.active
`

const findSessionRefSQL = `
	SELECT s.id, s.user_id, s.expires_at
	FROM sessions s
	JOIN users u ON u.id = s.user_id
	WHERE s.token_hash = $1 AND s.expires_at > $2 AND u.active
`

// PostgresRepository implements Store on the sessions table. Tokens are looked up by
// their SHA-256 hash; the plaintext token is never written.
type PostgresRepository struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresRepository returns a session store backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, now: time.Now}
}

// WithClock replaces the clock used for expiry comparisons and timestamps.
func (r *PostgresRepository) WithClock(now func() time.Time) *PostgresRepository {
	r.now = now
	return r
}

// Create generates a fresh opaque token, persists its hash and returns the session with
// the plaintext Token populated. The plaintext is not stored.
func (r *PostgresRepository) Create(ctx context.Context, userID string, meta domain.Metadata, ttl time.Duration) (*domain.Session, error) {
	token, hash, err := security.GenerateSessionToken()
	if err != nil {
		return nil, oops.Code("SESSION_TOKEN_FAILED").With("user_id", userID).Wrap(err)
	}
	now := r.now().UTC()
	s := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, ip_address, user_agent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		s.ID,
		s.UserID,
		s.TokenHash,
		s.ExpiresAt,
		nullString(s.IPAddress),
		nullString(s.UserAgent),
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", userID).
			Wrap(err)
	}
	return s, nil
}

// FindByToken returns the session, its active user and the user's role and team, or nil
// when no unexpired session for an active user matches token.
func (r *PostgresRepository) FindByToken(ctx context.Context, token string) (*domain.Resolved, error) {
	if token == "" {
		return nil, nil
	}
	var (
		res              domain.Resolved
		ip, ua, name     *string
		roleID, roleName *string
		teamID, teamName *string
	)
	err := r.pool.QueryRow(ctx, findByTokenSQL, security.HashSessionToken(token), r.now()).Scan(
		&res.Session.ID,
		&res.Session.UserID,
		&res.Session.TokenHash,
		&res.Session.ExpiresAt,
		&ip,
		&ua,
		&res.Session.CreatedAt,
		&res.Session.UpdatedAt,
		&res.User.ID,
		&res.User.Email,
		&res.User.PasswordHash,
		&name,
		&res.User.RoleID,
		&res.User.TeamID,
		&res.User.Active,
		&res.User.CreatedAt,
		&res.User.UpdatedAt,
		&roleID,
		&roleName,
		&teamID,
		&teamName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_FIND_FAILED").
			With("operation", "find session by token").
			Wrap(err)
	}
	res.Session.IPAddress = deref(ip)
	res.Session.UserAgent = deref(ua)
	res.User.Name = deref(name)
	if roleID != nil {
		res.Role = &userdomain.Role{ID: *roleID, Name: deref(roleName)}
	}
	if teamID != nil {
		res.Team = &userdomain.Team{ID: *teamID, Name: deref(teamName)}
	}
	return &res, nil
}

// FindSessionRef applies the same validity checks as FindByToken without the role and team joins.
func (r *PostgresRepository) FindSessionRef(ctx context.Context, token string) (*domain.SessionRef, error) {
	if token == "" {
		return nil, nil
	}
	var ref domain.SessionRef
	err := r.pool.QueryRow(ctx, findSessionRefSQL, security.HashSessionToken(token), r.now()).
		Scan(&ref.SessionID, &ref.UserID, &ref.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("SESSION_FIND_REF_FAILED").
			With("operation", "find session ref by token").
			Wrap(err)
	}
	return &ref, nil
}

// DeleteByToken removes the session for token. Returns false when nothing was deleted.
func (r *PostgresRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, security.HashSessionToken(token))
	if err != nil {
		return false, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session by token").
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllForUser removes every session of userID and returns how many were removed.
func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_ALL_FAILED").
			With("operation", "delete sessions for user").
			With("user_id", userID).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions whose expiry is at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, r.now())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// ListTokenHashesForUser returns the token hashes of every session of userID, expired or not.
func (r *PostgresRepository) ListTokenHashesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT token_hash FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list session hashes for user").
			With("user_id", userID).
			Wrap(err)
	}
	hashes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "scan session hashes").
			With("user_id", userID).
			Wrap(err)
	}
	return hashes, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
