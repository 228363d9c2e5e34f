package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-auth/backend/internal/security"
	"helpdesk-auth/backend/internal/session/cache"
	"helpdesk-auth/backend/internal/session/domain"
	"helpdesk-auth/backend/internal/session/repository"
	userdomain "helpdesk-auth/backend/internal/user/domain"
	userrepo "helpdesk-auth/backend/internal/user/repository"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock *testClock
	users *userrepo.MemoryRepository
	store *repository.MemoryStore
	cache *cache.Cache
	codec *security.ProofCodec
	v     *Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)}
	users := userrepo.NewMemoryRepository()
	store := repository.NewMemoryStore(users).WithClock(clk.now)
	c, err := cache.New(100, 30*time.Second)
	require.NoError(t, err)
	c.WithClock(clk.now)
	codec, err := security.NewProofCodec([]byte(strings.Repeat("k", security.MinSecretBytes)), "helpdesk-auth", "helpdesk-web")
	require.NoError(t, err)
	codec = codec.WithClock(clk.now)
	logger, _ := test.NewNullLogger()
	v := NewValidator(codec, c, store, Options{StoreTimeout: 50 * time.Millisecond, Logger: logger})
	return &fixture{clock: clk, users: users, store: store, cache: c, codec: codec, v: v}
}

func (f *fixture) seedUser(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	role, team := "r-agent", "t-billing"
	require.NoError(t, f.users.UpsertRole(ctx, userdomain.Role{ID: role, Name: "agent"}))
	require.NoError(t, f.users.UpsertTeam(ctx, userdomain.Team{ID: team, Name: "billing"}))
	require.NoError(t, f.users.Create(ctx, &userdomain.User{
		ID: id, Email: id + "@example.com", PasswordHash: "h", Name: "Agent " + id,
		RoleID: &role, TeamID: &team, Active: true,
	}))
}

func (f *fixture) login(t *testing.T, userID string) *domain.Session {
	t.Helper()
	s, err := f.store.Create(context.Background(), userID, domain.Metadata{}, 24*time.Hour)
	require.NoError(t, err)
	return s
}

func (f *fixture) proof(t *testing.T, userID, sessionID string, ttl time.Duration) string {
	t.Helper()
	claims := security.ProofClaims{Email: userID + "@example.com", SessionID: sessionID}
	claims.Subject = userID
	p, _, err := f.codec.Encode(claims, ttl)
	require.NoError(t, err)
	return p
}

func drain(t *testing.T, v *Validator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, v.Drain(ctx))
}

func TestValidate_Missing(t *testing.T) {
	f := newFixture(t)
	res := f.v.Validate(context.Background(), Credentials{})
	assert.Equal(t, OutcomeMissing, res.Outcome)
	assert.False(t, res.OK())
}

func TestValidate_StatelessProofSkipsStore(t *testing.T) {
	f := newFixture(t)
	res := f.v.Validate(context.Background(), Credentials{Bearer: f.proof(t, "u1", "s1", 5*time.Minute)})
	require.True(t, res.OK())
	assert.Equal(t, TierStateless, res.Tier)
	assert.Equal(t, "u1", res.Identity.UserID)
	assert.Equal(t, "s1", res.Identity.SessionID)
	assert.Zero(t, f.store.FindCalls())
}

func TestValidate_BearerOnlyFailures(t *testing.T) {
	f := newFixture(t)
	expired := f.proof(t, "u1", "s1", time.Minute)
	f.clock.advance(2 * time.Minute)

	res := f.v.Validate(context.Background(), Credentials{Bearer: expired})
	assert.Equal(t, OutcomeExpired, res.Outcome)
	assert.Equal(t, TierStateless, res.Tier)

	res = f.v.Validate(context.Background(), Credentials{Bearer: "garbage"})
	assert.Equal(t, OutcomeMalformed, res.Outcome)
	assert.Empty(t, res.Identity.UserID)
	assert.Zero(t, f.store.FindCalls())
}

func TestValidate_InvalidProofFallsThroughToToken(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")

	res := f.v.Validate(context.Background(), Credentials{Bearer: "garbage", Token: s.Token})
	require.True(t, res.OK())
	assert.Equal(t, TierStore, res.Tier)
}

func TestValidate_CacheHitMatchesStorePayload(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	ctx := context.Background()

	miss := f.v.Validate(ctx, Credentials{Token: s.Token})
	require.True(t, miss.OK())
	assert.Equal(t, TierStore, miss.Tier)

	hit := f.v.Validate(ctx, Credentials{Token: s.Token})
	require.True(t, hit.OK())
	assert.Equal(t, TierCache, hit.Tier)
	assert.Equal(t, int64(1), f.store.FindCalls())

	a, err := json.Marshal(miss.Identity)
	require.NoError(t, err)
	b, err := json.Marshal(hit.Identity)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, "agent", hit.Identity.RoleName)
	assert.Equal(t, "billing", hit.Identity.TeamName)
}

func TestValidate_UnknownTokenSchedulesCleanup(t *testing.T) {
	f := newFixture(t)
	res := f.v.Validate(context.Background(), Credentials{Token: "nope"})
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	drain(t, f.v)
	assert.Equal(t, int64(1), f.store.DeleteCalls())
}

func TestValidate_ExpiredSessionRemoved(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	f.clock.advance(25 * time.Hour)

	res := f.v.Validate(context.Background(), Credentials{Token: s.Token})
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	drain(t, f.v)
	assert.Equal(t, 0, f.store.Len())
}

func TestValidate_StoreErrorFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	f.store.FailWith(errors.New("connection reset"))

	res := f.v.Validate(context.Background(), Credentials{Token: s.Token})
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.False(t, res.OK())
	assert.Equal(t, 0, f.cache.Len())
}

func TestValidate_StoreTimeoutFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	f.store.BeforeFind = func() { time.Sleep(200 * time.Millisecond) }

	start := time.Now()
	res := f.v.Validate(context.Background(), Credentials{Token: s.Token})
	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestValidate_DeactivationSeenAfterCacheTTL(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	ctx := context.Background()
	creds := Credentials{Token: s.Token}

	require.True(t, f.v.Validate(ctx, creds).OK())
	_, err := f.users.SetActive(ctx, "u1", false, f.clock.now())
	require.NoError(t, err)

	// Within one TTL the cached positive may still be served.
	f.clock.advance(10 * time.Second)
	assert.Equal(t, TierCache, f.v.Validate(ctx, creds).Tier)

	f.clock.advance(21 * time.Second)
	res := f.v.Validate(ctx, creds)
	assert.False(t, res.OK())
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestValidate_ConcurrentMissesShareOneQuery(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	f.v.storeTimeout = 5 * time.Second

	release := make(chan struct{})
	f.store.BeforeFind = func() { <-release }

	const n = 10
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.v.Validate(context.Background(), Credentials{Token: s.Token})
		}(i)
	}
	require.Eventually(t, func() bool { return f.store.FindCalls() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.OK())
	}
	assert.Less(t, f.store.FindCalls(), int64(n))
}

func TestValidate_InvalidationDuringQueryIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	key := security.HashSessionToken(s.Token)

	var once sync.Once
	f.store.BeforeFind = func() {
		once.Do(func() { f.cache.Invalidate(key) })
	}

	require.True(t, f.v.Validate(context.Background(), Credentials{Token: s.Token}).OK())
	assert.Equal(t, 0, f.cache.Len())

	res := f.v.Validate(context.Background(), Credentials{Token: s.Token})
	assert.Equal(t, TierStore, res.Tier)
	assert.Equal(t, int64(2), f.store.FindCalls())
}

func TestValidateRef(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "u1")
	s := f.login(t, "u1")
	ctx := context.Background()

	ref := f.v.ValidateRef(ctx, s.Token)
	require.True(t, ref.OK())
	assert.Equal(t, TierStore, ref.Tier)
	assert.Equal(t, "u1", ref.UserID)
	assert.Equal(t, s.ID, ref.SessionID)
	assert.Equal(t, 0, f.cache.Len())

	require.True(t, f.v.Validate(ctx, Credentials{Token: s.Token}).OK())
	ref = f.v.ValidateRef(ctx, s.Token)
	assert.Equal(t, TierCache, ref.Tier)
	assert.Equal(t, s.ID, ref.SessionID)

	assert.Equal(t, OutcomeMissing, f.v.ValidateRef(ctx, "").Outcome)
	assert.Equal(t, OutcomeNotFound, f.v.ValidateRef(ctx, "unknown").Outcome)
	drain(t, f.v)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "valid", OutcomeValid.String())
	assert.Equal(t, "unavailable", OutcomeUnavailable.String())
	assert.Equal(t, "missing", OutcomeMissing.String())
}
