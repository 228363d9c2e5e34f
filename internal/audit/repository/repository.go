package repository

import (
	"context"

	"helpdesk-auth/backend/internal/audit/domain"
)

// Repository defines persistence for authentication events.
type Repository interface {
	Create(ctx context.Context, e *domain.Event) error
	ListByUser(ctx context.Context, userID string, limit int32) ([]*domain.Event, error)
}
