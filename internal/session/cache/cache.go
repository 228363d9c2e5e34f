// Package cache holds recently validated sessions in process memory so that repeat
// requests with the same opaque token skip the database.
package cache

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"helpdesk-auth/backend/internal/session/domain"
	userdomain "helpdesk-auth/backend/internal/user/domain"
)

const (
	// DefaultTTL is how long a validated session may be served from memory.
	DefaultTTL = 30 * time.Second
	// DefaultSize bounds the number of cached sessions.
	DefaultSize = 10000
)

// ErrInvalidConfig is returned by New for a non-positive size or TTL.
var ErrInvalidConfig = errors.New("cache: size and ttl must be positive")

// Entry is one validated session. Keys are token hashes; the plaintext token is never cached.
type Entry struct {
	Session    domain.Session
	User       userdomain.User
	Identity   domain.Identity
	InsertedAt time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Puts          uint64
	SkippedPuts   uint64
	StalePuts     uint64
	Invalidations uint64
	Size          int
}

// Cache is safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, Entry]
	ttl time.Duration
	now func() time.Time

	generation    atomic.Uint64
	hits          atomic.Uint64
	misses        atomic.Uint64
	puts          atomic.Uint64
	skippedPuts   atomic.Uint64
	stalePuts     atomic.Uint64
	invalidations atomic.Uint64
}

// New returns a cache holding at most size entries for at most ttl each.
func New(size int, ttl time.Duration) (*Cache, error) {
	if size <= 0 || ttl <= 0 {
		return nil, ErrInvalidConfig
	}
	return &Cache{
		lru: expirable.NewLRU[string, Entry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}, nil
}

// WithClock replaces the clock used for freshness checks. The LRU's own expiry still
// runs on wall time and only bounds memory.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the entry for key if it is younger than the TTL and its session has not
// expired. Stale entries are dropped.
func (c *Cache) Get(key string) (Entry, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	now := c.now()
	if now.Sub(e.InsertedAt) >= c.ttl || e.Session.IsExpiredAt(now) {
		c.lru.Remove(key)
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return e, true
}

// Put stores e under key, stamping InsertedAt. An entry whose session would expire
// within one TTL is not stored. Returns whether the entry was stored.
func (c *Cache) Put(key string, e Entry) bool {
	now := c.now()
	if e.Session.ExpiresAt.Before(now.Add(c.ttl)) {
		c.skippedPuts.Add(1)
		return false
	}
	e.InsertedAt = now
	c.lru.Add(key, e)
	c.puts.Add(1)
	return true
}

// Generation returns the current invalidation generation. Capture it before reading the
// store and pass it to PutIfGeneration.
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// PutIfGeneration stores e only if no invalidation happened since gen was captured.
// A concurrent invalidation racing the Add is caught by the recheck and undone.
func (c *Cache) PutIfGeneration(gen uint64, key string, e Entry) bool {
	if c.generation.Load() != gen {
		c.stalePuts.Add(1)
		return false
	}
	if !c.Put(key, e) {
		return false
	}
	if c.generation.Load() != gen {
		c.lru.Remove(key)
		c.stalePuts.Add(1)
		return false
	}
	return true
}

// Invalidate removes key. Reports whether an entry was present.
func (c *Cache) Invalidate(key string) bool {
	c.bump()
	return c.lru.Remove(key)
}

// InvalidateAllForUser removes every entry belonging to userID and returns how many.
func (c *Cache) InvalidateAllForUser(userID string) int {
	c.bump()
	n := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && e.User.ID == userID && c.lru.Remove(key) {
			n++
		}
	}
	return n
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.bump()
	c.lru.Purge()
}

// Len returns the number of entries, including ones not yet reaped.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Puts:          c.puts.Load(),
		SkippedPuts:   c.skippedPuts.Load(),
		StalePuts:     c.stalePuts.Load(),
		Invalidations: c.invalidations.Load(),
		Size:          c.lru.Len(),
	}
}

func (c *Cache) bump() {
	c.generation.Add(1)
	c.invalidations.Add(1)
}
