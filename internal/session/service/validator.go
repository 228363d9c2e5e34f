// Package service resolves request credentials to an identity through three tiers: the
// stateless bearer proof, the in-memory validation cache and the session store.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"helpdesk-auth/backend/internal/security"
	"helpdesk-auth/backend/internal/session/cache"
	"helpdesk-auth/backend/internal/session/domain"
	"helpdesk-auth/backend/internal/session/repository"
	"helpdesk-auth/backend/internal/telemetry"
)

const (
	// DefaultStoreTimeout bounds each store query made during validation.
	DefaultStoreTimeout = 2 * time.Second
	// cleanupTimeout bounds a background stale-row delete.
	cleanupTimeout = 5 * time.Second
)

// Options configure a Validator. Zero values take defaults.
type Options struct {
	StoreTimeout    time.Duration
	Logger          logrus.FieldLogger
	Instrumentation *telemetry.Instrumentation
}

// Validator is safe for concurrent use. It never returns an error: every failure,
// including a store outage, yields a non-valid Result.
type Validator struct {
	codec        *security.ProofCodec
	cache        *cache.Cache
	store        repository.Store
	storeTimeout time.Duration
	log          logrus.FieldLogger
	inst         *telemetry.Instrumentation

	group singleflight.Group
	bg    sync.WaitGroup
}

// NewValidator returns a validator over the given tiers.
func NewValidator(codec *security.ProofCodec, c *cache.Cache, store repository.Store, opts Options) *Validator {
	v := &Validator{
		codec:        codec,
		cache:        c,
		store:        store,
		storeTimeout: opts.StoreTimeout,
		log:          opts.Logger,
		inst:         opts.Instrumentation,
	}
	if v.storeTimeout <= 0 {
		v.storeTimeout = DefaultStoreTimeout
	}
	if v.log == nil {
		v.log = logrus.StandardLogger()
	}
	if v.inst == nil {
		v.inst = telemetry.Nop()
	}
	v.log = v.log.WithField("component", "session-validator")
	return v
}

// Cache returns the validation cache.
func (v *Validator) Cache() *cache.Cache { return v.cache }

// Validate resolves creds. The bearer proof is tried first; an invalid proof falls
// through to the opaque token when one is present.
func (v *Validator) Validate(ctx context.Context, creds Credentials) Result {
	var res Result
	v.inst.Time(ctx, "session.validate", func(ctx context.Context) (string, string) {
		res = v.validate(ctx, creds)
		return string(res.Tier), res.Outcome.String()
	})
	return res
}

func (v *Validator) validate(ctx context.Context, creds Credentials) Result {
	if creds.Empty() {
		return Result{Outcome: OutcomeMissing, Tier: TierNone}
	}
	if creds.Bearer != "" {
		claims, err := v.codec.Verify(creds.Bearer)
		if err == nil {
			return Result{Outcome: OutcomeValid, Tier: TierStateless, Identity: identityFromClaims(claims)}
		}
		if creds.Token == "" {
			outcome := OutcomeMalformed
			if errors.Is(err, security.ErrProofExpired) {
				outcome = OutcomeExpired
			}
			return Result{Outcome: outcome, Tier: TierStateless}
		}
	}

	key := security.HashSessionToken(creds.Token)
	if e, ok := v.cache.Get(key); ok {
		return Result{Outcome: OutcomeValid, Tier: TierCache, Identity: e.Identity}
	}
	return v.fromStore(ctx, creds.Token, key)
}

// fromStore runs the atomic lookup. Concurrent misses for one token share a query; the
// cache generation is captured inside the shared call so a put never outlives an
// invalidation that happened while the query was in flight.
func (v *Validator) fromStore(ctx context.Context, token, key string) Result {
	val, err, _ := v.group.Do("full:"+key, func() (any, error) {
		gen := v.cache.Generation()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.storeTimeout)
		defer cancel()
		res, err := v.store.FindByToken(sctx, token)
		if err != nil || res == nil {
			return res, err
		}
		id := res.Identity()
		v.cache.PutIfGeneration(gen, key, cache.Entry{
			Session:  res.Session,
			User:     res.User,
			Identity: id,
		})
		return res, nil
	})
	if err != nil {
		v.log.WithError(err).Warn("session store unavailable; rejecting credentials")
		return Result{Outcome: OutcomeUnavailable, Tier: TierStore}
	}
	res, _ := val.(*domain.Resolved)
	if res == nil {
		v.cleanup(token)
		return Result{Outcome: OutcomeNotFound, Tier: TierStore}
	}
	return Result{Outcome: OutcomeValid, Tier: TierStore, Identity: res.Identity()}
}

// ValidateRef confirms who owns token without loading role or team. A cached full entry
// is used when present; the light lookup never populates the cache.
func (v *Validator) ValidateRef(ctx context.Context, token string) RefResult {
	var res RefResult
	v.inst.Time(ctx, "session.validate_ref", func(ctx context.Context) (string, string) {
		res = v.validateRef(ctx, token)
		return string(res.Tier), res.Outcome.String()
	})
	return res
}

func (v *Validator) validateRef(ctx context.Context, token string) RefResult {
	if token == "" {
		return RefResult{Outcome: OutcomeMissing, Tier: TierNone}
	}
	key := security.HashSessionToken(token)
	if e, ok := v.cache.Get(key); ok {
		return RefResult{Outcome: OutcomeValid, Tier: TierCache, UserID: e.User.ID, SessionID: e.Session.ID}
	}
	val, err, _ := v.group.Do("ref:"+key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.storeTimeout)
		defer cancel()
		return v.store.FindSessionRef(sctx, token)
	})
	if err != nil {
		v.log.WithError(err).Warn("session store unavailable; rejecting token")
		return RefResult{Outcome: OutcomeUnavailable, Tier: TierStore}
	}
	ref, _ := val.(*domain.SessionRef)
	if ref == nil {
		v.cleanup(token)
		return RefResult{Outcome: OutcomeNotFound, Tier: TierStore}
	}
	return RefResult{Outcome: OutcomeValid, Tier: TierStore, UserID: ref.UserID, SessionID: ref.SessionID}
}

// cleanup deletes a stale or unknown session row off the request path. Errors are logged
// and dropped.
func (v *Validator) cleanup(token string) {
	v.bg.Add(1)
	go func() {
		defer v.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if _, err := v.store.DeleteByToken(ctx, token); err != nil {
			v.log.WithError(err).Debug("stale session cleanup failed")
		}
	}()
}

// Drain waits for background cleanups to finish or ctx to end.
func (v *Validator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		v.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func identityFromClaims(c *security.ProofClaims) domain.Identity {
	return domain.Identity{
		UserID:    c.UserID(),
		Email:     c.Email,
		Name:      c.Name,
		RoleID:    c.RoleID,
		RoleName:  c.RoleName,
		TeamID:    c.TeamID,
		TeamName:  c.TeamName,
		SessionID: c.SessionID,
	}
}
