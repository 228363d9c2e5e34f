package repository

import (
	"context"
	"sync"
	"time"

	"helpdesk-auth/backend/internal/user/domain"
)

// MemoryRepository is an in-process Repository for tests and local tooling.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
	roles map[string]domain.Role
	teams map[string]domain.Team
	err   error
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[string]*domain.User),
		roles: make(map[string]domain.Role),
		teams: make(map[string]domain.Team),
	}
}

// FailWith makes every subsequent call return err. nil restores normal behaviour.
func (m *MemoryRepository) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	email = domain.NormalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	email := domain.NormalizeEmail(u.Email)
	for _, existing := range m.users {
		if existing.Email == email {
			return domain.ErrDuplicateEmail
		}
	}
	cp := *u
	cp.Email = email
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryRepository) UpdatePasswordHash(_ context.Context, id, hash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	return true, nil
}

func (m *MemoryRepository) SetActive(_ context.Context, id string, active bool, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	u.Active = active
	u.UpdatedAt = at
	return true, nil
}

func (m *MemoryRepository) UpsertRole(_ context.Context, r domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.roles[r.ID] = r
	return nil
}

func (m *MemoryRepository) UpsertTeam(_ context.Context, t domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.teams[t.ID] = t
	return nil
}

// Lookup returns a copy of the user with its role and team, ignoring any injected error.
func (m *MemoryRepository) Lookup(id string) (*domain.User, *domain.Role, *domain.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil, nil
	}
	cp := *u
	var role *domain.Role
	var team *domain.Team
	if u.RoleID != nil {
		if r, ok := m.roles[*u.RoleID]; ok {
			role = &r
		}
	}
	if u.TeamID != nil {
		if t, ok := m.teams[*u.TeamID]; ok {
			team = &t
		}
	}
	return &cp, role, team
}
