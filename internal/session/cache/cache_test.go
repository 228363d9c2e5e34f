package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-auth/backend/internal/session/domain"
	userdomain "helpdesk-auth/backend/internal/user/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(t *testing.T) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	c, err := New(100, 30*time.Second)
	require.NoError(t, err)
	return c.WithClock(clk.now), clk
}

func entry(userID, sessionID string, expires time.Time) Entry {
	return Entry{
		Session:  domain.Session{ID: sessionID, UserID: userID, ExpiresAt: expires},
		User:     userdomain.User{ID: userID, Email: userID + "@example.com", Active: true},
		Identity: domain.Identity{UserID: userID, SessionID: sessionID},
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(0, time.Second)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(10, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCache_PutGet(t *testing.T) {
	c, clk := newTestCache(t)
	require.True(t, c.Put("h1", entry("u1", "s1", clk.t.Add(time.Hour))))

	e, ok := c.Get("h1")
	require.True(t, ok)
	assert.Equal(t, "s1", e.Identity.SessionID)
	assert.Equal(t, clk.t, e.InsertedAt)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 1, st.Size)
}

func TestCache_EntryNotServedPastTTL(t *testing.T) {
	c, clk := newTestCache(t)
	c.Put("h1", entry("u1", "s1", clk.t.Add(time.Hour)))

	clk.t = clk.t.Add(29 * time.Second)
	_, ok := c.Get("h1")
	assert.True(t, ok)

	clk.t = clk.t.Add(time.Second)
	_, ok = c.Get("h1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_SkipsSessionsExpiringWithinTTL(t *testing.T) {
	c, clk := newTestCache(t)
	assert.False(t, c.Put("h1", entry("u1", "s1", clk.t.Add(10*time.Second))))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(1), c.Stats().SkippedPuts)
}

func TestCache_Invalidate(t *testing.T) {
	c, clk := newTestCache(t)
	c.Put("h1", entry("u1", "s1", clk.t.Add(time.Hour)))

	gen := c.Generation()
	assert.True(t, c.Invalidate("h1"))
	assert.False(t, c.Invalidate("h1"))
	assert.Greater(t, c.Generation(), gen)

	_, ok := c.Get("h1")
	assert.False(t, ok)
}

func TestCache_PutIfGenerationDiscardsAfterInvalidation(t *testing.T) {
	c, clk := newTestCache(t)
	gen := c.Generation()

	// A logout lands while the reader is still querying the store.
	c.Invalidate("h1")

	assert.False(t, c.PutIfGeneration(gen, "h1", entry("u1", "s1", clk.t.Add(time.Hour))))
	_, ok := c.Get("h1")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().StalePuts)

	assert.True(t, c.PutIfGeneration(c.Generation(), "h1", entry("u1", "s1", clk.t.Add(time.Hour))))
	_, ok = c.Get("h1")
	assert.True(t, ok)
}

func TestCache_InvalidateAllForUser(t *testing.T) {
	c, clk := newTestCache(t)
	exp := clk.t.Add(time.Hour)
	c.Put("a1", entry("alice", "s1", exp))
	c.Put("a2", entry("alice", "s2", exp))
	c.Put("b1", entry("bob", "s3", exp))

	assert.Equal(t, 2, c.InvalidateAllForUser("alice"))
	_, ok := c.Get("a1")
	assert.False(t, ok)
	_, ok = c.Get("a2")
	assert.False(t, ok)
	_, ok = c.Get("b1")
	assert.True(t, ok)
	assert.Equal(t, 0, c.InvalidateAllForUser("nobody"))
}

func TestCache_Clear(t *testing.T) {
	c, clk := newTestCache(t)
	c.Put("h1", entry("u1", "s1", clk.t.Add(time.Hour)))
	c.Put("h2", entry("u2", "s2", clk.t.Add(time.Hour)))
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2, time.Minute)
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour)
	c.Put("h1", entry("u1", "s1", exp))
	c.Put("h2", entry("u2", "s2", exp))
	_, _ = c.Get("h1")
	c.Put("h3", entry("u3", "s3", exp))

	_, ok := c.Get("h2")
	assert.False(t, ok)
	_, ok = c.Get("h1")
	assert.True(t, ok)
}
