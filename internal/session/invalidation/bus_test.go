package invalidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	tokens []string
	users  []string
}

func (r *recorder) Invalidate(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, key)
	return true
}

func (r *recorder) InvalidateAllForUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return 1
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...), append([]string(nil), r.users...)
}

func newClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisBus_FanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()

	receiver := NewRedisBus(newClient(t, mr), "", logger)
	sender := NewRedisBus(newClient(t, mr), "", logger)
	require.NotEqual(t, receiver.Origin(), sender.Origin())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := receiver.Subscribe(ctx)
	require.NoError(t, err)
	defer l.Close()

	rec := &recorder{}
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, rec) }()

	sender.TokenRevoked(ctx, "hash-1")
	sender.UserRevoked(ctx, "user-1")

	require.Eventually(t, func() bool {
		tokens, users := rec.snapshot()
		return len(tokens) == 1 && len(users) == 1
	}, 2*time.Second, 10*time.Millisecond)

	tokens, users := rec.snapshot()
	assert.Equal(t, []string{"hash-1"}, tokens)
	assert.Equal(t, []string{"user-1"}, users)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestRedisBus_IgnoresOwnEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	bus := NewRedisBus(newClient(t, mr), "chan", logger)
	other := NewRedisBus(newClient(t, mr), "chan", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer l.Close()

	rec := &recorder{}
	go func() { _ = l.Run(ctx, rec) }()

	bus.TokenRevoked(ctx, "mine")
	// Events are delivered in order, so once the marker arrives "mine" has been seen.
	other.TokenRevoked(ctx, "marker")

	require.Eventually(t, func() bool {
		tokens, _ := rec.snapshot()
		return len(tokens) == 1
	}, 2*time.Second, 10*time.Millisecond)
	tokens, _ := rec.snapshot()
	assert.Equal(t, []string{"marker"}, tokens)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

func TestRedisBus_MalformedAndUnknownEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, hook := test.NewNullLogger()

	bus := NewRedisBus(newClient(t, mr), "chan", logger)
	raw := newClient(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer l.Close()

	rec := &recorder{}
	go func() { _ = l.Run(ctx, rec) }()

	require.NoError(t, raw.Publish(ctx, "chan", "{not json").Err())
	require.NoError(t, raw.Publish(ctx, "chan", `{"kind":"bogus","origin":"x"}`).Err())
	require.NoError(t, raw.Publish(ctx, "chan", `{"kind":"clear","origin":"x"}`).Err())

	require.Eventually(t, func() bool { return len(hook.AllEntries()) == 3 }, 2*time.Second, 10*time.Millisecond)
	tokens, users := rec.snapshot()
	assert.Empty(t, tokens)
	assert.Empty(t, users)
}

func TestRedisBus_PublishFailureIsSwallowed(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, hook := test.NewNullLogger()
	bus := NewRedisBus(newClient(t, mr), "chan", logger)
	mr.Close()

	bus.UserRevoked(context.Background(), "u1")
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
