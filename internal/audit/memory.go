package audit

import (
	"context"
	"sync"

	"helpdesk-auth/backend/internal/audit/domain"
)

// MemoryRepository keeps events in memory for tests and single-process development.
type MemoryRepository struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

// NewMemoryRepository returns an empty in-memory event repository.
func NewMemoryRepository() *MemoryRepository { return &MemoryRepository{} }

// FailWith makes every subsequent Create return err. nil restores normal behaviour.
func (m *MemoryRepository) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryRepository) Create(_ context.Context, e *domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

// ListByUser returns the user's events newest first.
func (m *MemoryRepository) ListByUser(_ context.Context, userID string, limit int32) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Event
	for i := len(m.events) - 1; i >= 0 && (limit <= 0 || int32(len(out)) < limit); i-- {
		if m.events[i].UserID == userID {
			cp := *m.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Actions returns every recorded action in insertion order.
func (m *MemoryRepository) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}
