package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"helpdesk-auth/backend/internal/db"
	"helpdesk-auth/backend/internal/user/domain"
)

const userColumns = `id, email, password_hash, name, role_id, team_id, active, created_at, updated_at`

type PostgresRepository struct {
	pool db.Pool
}

// NewPostgresRepository returns a user repository backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("user_id", id).
			Wrap(err)
	}
	return u, nil
}

// GetByEmail returns the user with the given email (active or not), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, domain.NormalizeEmail(email))
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_EMAIL_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}
	return u, nil
}

// Create inserts u. The caller assigns ID and timestamps. A unique violation on email
// is reported as domain.ErrDuplicateEmail.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		u.ID,
		domain.NormalizeEmail(u.Email),
		u.PasswordHash,
		nullString(u.Name),
		u.RoleID,
		u.TeamID,
		u.Active,
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrDuplicateEmail
		}
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", u.ID).
			Wrap(err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored digest. Returns false when no user has id.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, at)
	if err != nil {
		return false, oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("user_id", id).
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetActive flips the active flag. Returns false when no user has id.
func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
	if err != nil {
		return false, oops.Code("USER_SET_ACTIVE_FAILED").
			With("operation", "set active").
			With("user_id", id).
			Wrap(err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertRole inserts the role or renames an existing one with the same id.
func (r *PostgresRepository) UpsertRole(ctx context.Context, role domain.Role) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO roles (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, role.ID, role.Name)
	if err != nil {
		return oops.Code("ROLE_UPSERT_FAILED").With("role_id", role.ID).Wrap(err)
	}
	return nil
}

// UpsertTeam inserts the team or renames an existing one with the same id.
func (r *PostgresRepository) UpsertTeam(ctx context.Context, team domain.Team) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO teams (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, team.ID, team.Name)
	if err != nil {
		return oops.Code("TEAM_UPSERT_FAILED").With("team_id", team.ID).Wrap(err)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u    domain.User
		name *string
	)
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&name,
		&u.RoleID,
		&u.TeamID,
		&u.Active,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	return &u, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
