package repository

import (
	"context"
	"time"

	"helpdesk-auth/backend/internal/user/domain"
)

// Repository defines persistence for users and their role/team references.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create returns domain.ErrDuplicateEmail when the email is taken.
	Create(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, hash string, at time.Time) (bool, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) (bool, error)
	UpsertRole(ctx context.Context, r domain.Role) error
	UpsertTeam(ctx context.Context, t domain.Team) error
}
