package repository

import (
	"context"
	"time"

	"helpdesk-auth/backend/internal/session/domain"
)

// Store defines persistence for sessions. Lookups take the plaintext token and hash it;
// a missing or invalid session is reported as (nil, nil), never as an error.
type Store interface {
	Create(ctx context.Context, userID string, meta domain.Metadata, ttl time.Duration) (*domain.Session, error)
	FindByToken(ctx context.Context, token string) (*domain.Resolved, error)
	FindSessionRef(ctx context.Context, token string) (*domain.SessionRef, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
	ListTokenHashesForUser(ctx context.Context, userID string) ([]string, error)
}
