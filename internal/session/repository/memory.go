package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"helpdesk-auth/backend/internal/security"
	"helpdesk-auth/backend/internal/session/domain"
	userdomain "helpdesk-auth/backend/internal/user/domain"
)

// UserLookup resolves a user with its role and team for MemoryStore.
type UserLookup interface {
	Lookup(id string) (*userdomain.User, *userdomain.Role, *userdomain.Team)
}

// MemoryStore is an in-process Store for tests and local tooling. It applies the same
// validity rule as the SQL lookup: unexpired session and active user.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session // by token hash
	users    UserLookup
	now      func() time.Time
	err      error

	// BeforeFind, when set, runs at the start of every FindByToken.
	BeforeFind func()

	finds   atomic.Int64
	deletes atomic.Int64
}

// NewMemoryStore returns an empty store resolving users through users.
func NewMemoryStore(users UserLookup) *MemoryStore {
	return &MemoryStore{sessions: make(map[string]domain.Session), users: users, now: time.Now}
}

// WithClock replaces the store clock.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// FailWith makes every subsequent call return err. nil restores normal behaviour.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FindCalls returns how many FindByToken calls reached the store.
func (m *MemoryStore) FindCalls() int64 { return m.finds.Load() }

// DeleteCalls returns how many DeleteByToken calls reached the store.
func (m *MemoryStore) DeleteCalls() int64 { return m.deletes.Load() }

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MemoryStore) Create(_ context.Context, userID string, meta domain.Metadata, ttl time.Duration) (*domain.Session, error) {
	if err := m.failure(); err != nil {
		return nil, err
	}
	token, hash, err := security.GenerateSessionToken()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	s := domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: now.Add(ttl),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.sessions[hash] = s
	m.mu.Unlock()
	s.Token = token
	return &s, nil
}

func (m *MemoryStore) FindByToken(ctx context.Context, token string) (*domain.Resolved, error) {
	m.finds.Add(1)
	if m.BeforeFind != nil {
		m.BeforeFind()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.failure(); err != nil {
		return nil, err
	}
	s, ok := m.valid(token)
	if !ok {
		return nil, nil
	}
	u, role, team := m.users.Lookup(s.UserID)
	if u == nil || !u.Active {
		return nil, nil
	}
	return &domain.Resolved{Session: s, User: *u, Role: role, Team: team}, nil
}

func (m *MemoryStore) FindSessionRef(ctx context.Context, token string) (*domain.SessionRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.failure(); err != nil {
		return nil, err
	}
	s, ok := m.valid(token)
	if !ok {
		return nil, nil
	}
	u, _, _ := m.users.Lookup(s.UserID)
	if u == nil || !u.Active {
		return nil, nil
	}
	return &domain.SessionRef{SessionID: s.ID, UserID: s.UserID, ExpiresAt: s.ExpiresAt}, nil
}

func (m *MemoryStore) valid(token string) (domain.Session, bool) {
	if token == "" {
		return domain.Session{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[security.HashSessionToken(token)]
	if !ok || s.IsExpiredAt(m.now()) {
		return domain.Session{}, false
	}
	return s, true
}

func (m *MemoryStore) DeleteByToken(_ context.Context, token string) (bool, error) {
	m.deletes.Add(1)
	if err := m.failure(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := security.HashSessionToken(token)
	_, ok := m.sessions[hash]
	delete(m.sessions, hash)
	return ok, nil
}

func (m *MemoryStore) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	if err := m.failure(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	if err := m.failure(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for hash, s := range m.sessions {
		if s.IsExpiredAt(now) {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListTokenHashesForUser(_ context.Context, userID string) ([]string, error) {
	if err := m.failure(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for hash, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, hash)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresRepository)(nil)
