package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"helpdesk-auth/backend/internal/audit/domain"
	"helpdesk-auth/backend/internal/db"
)

type PostgresRepository struct {
	pool db.Pool
}

// NewPostgresRepository returns an auth event repository backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create persists e. The event must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auth_events (id, user_id, action, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, nullString(e.UserID), e.Action, nullString(e.IPAddress), nullString(e.UserAgent), nullString(e.Metadata), e.CreatedAt)
	if err != nil {
		return oops.Code("AUTH_EVENT_CREATE_FAILED").
			With("action", e.Action).
			Wrap(err)
	}
	return nil
}

// ListByUser returns the user's most recent events, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int32) ([]*domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, action, ip_address, user_agent, metadata, created_at
		FROM auth_events WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, oops.Code("AUTH_EVENT_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Event, error) {
		var (
			e                        domain.Event
			uid, ip, agent, metadata *string
		)
		if err := row.Scan(&e.ID, &uid, &e.Action, &ip, &agent, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.UserID, e.IPAddress, e.UserAgent, e.Metadata = deref(uid), deref(ip), deref(agent), deref(metadata)
		return &e, nil
	})
	if err != nil {
		return nil, oops.Code("AUTH_EVENT_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return events, nil
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
