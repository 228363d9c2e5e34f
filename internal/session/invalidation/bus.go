// Package invalidation fans cache invalidations out to other instances over Redis
// pub/sub. Delivery is best effort: each instance's cache TTL still bounds staleness
// when Redis is unreachable.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "helpdesk:session-invalidation"

// Event kinds.
const (
	KindToken = "token"
	KindUser  = "user"
)

// Event is the wire form of one invalidation. Key is a token hash for KindToken and a
// user id for KindUser.
type Event struct {
	Kind   string `json:"kind"`
	Key    string `json:"key,omitempty"`
	Origin string `json:"origin"`
}

// Broadcaster announces revocations to other instances. Implementations never fail the
// caller; errors are logged.
type Broadcaster interface {
	TokenRevoked(ctx context.Context, tokenHash string)
	UserRevoked(ctx context.Context, userID string)
}

// Applier is the local cache surface events are applied to.
type Applier interface {
	Invalidate(key string) bool
	InvalidateAllForUser(userID string) int
}

// Nop is a Broadcaster for single-instance deployments.
type Nop struct{}

func (Nop) TokenRevoked(context.Context, string) {}
func (Nop) UserRevoked(context.Context, string)  {}

// RedisBus publishes and receives invalidation events on one channel.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	origin  string
	log     logrus.FieldLogger
}

// NewRedisBus returns a bus on channel. Each bus gets a random origin id so it can
// ignore its own events.
func NewRedisBus(client redis.UniversalClient, channel string, log logrus.FieldLogger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log.WithField("component", "invalidation"),
	}
}

// Origin returns this bus's instance id.
func (b *RedisBus) Origin() string { return b.origin }

// Publish sends ev stamped with this bus's origin.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	ev.Origin = b.origin
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// TokenRevoked publishes a token invalidation, logging failures.
func (b *RedisBus) TokenRevoked(ctx context.Context, tokenHash string) {
	if err := b.Publish(ctx, Event{Kind: KindToken, Key: tokenHash}); err != nil {
		b.log.WithError(err).Warn("publish token invalidation failed")
	}
}

// UserRevoked publishes a per-user invalidation, logging failures.
func (b *RedisBus) UserRevoked(ctx context.Context, userID string) {
	if err := b.Publish(ctx, Event{Kind: KindUser, Key: userID}); err != nil {
		b.log.WithError(err).WithField("user_id", userID).Warn("publish user invalidation failed")
	}
}

// Listener is an active subscription.
type Listener struct {
	bus    *RedisBus
	pubsub *redis.PubSub
}

// Subscribe joins the channel and waits for the server to confirm the subscription, so
// events published after it returns are delivered.
func (b *RedisBus) Subscribe(ctx context.Context) (*Listener, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &Listener{bus: b, pubsub: ps}, nil
}

// Run applies events from other instances to cache until ctx is done or the
// subscription is closed.
func (l *Listener) Run(ctx context.Context, cache Applier) error {
	ch := l.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.apply(cache, msg.Payload)
		}
	}
}

// Close ends the subscription.
func (l *Listener) Close() error {
	err := l.pubsub.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

func (l *Listener) apply(cache Applier, payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		l.bus.log.WithError(err).Warn("discarding malformed invalidation event")
		return
	}
	if ev.Origin == l.bus.origin {
		return
	}
	switch ev.Kind {
	case KindToken:
		cache.Invalidate(ev.Key)
	case KindUser:
		n := cache.InvalidateAllForUser(ev.Key)
		l.bus.log.WithField("user_id", ev.Key).WithField("removed", n).Debug("applied user invalidation")
	default:
		l.bus.log.WithField("kind", ev.Kind).Warn("unknown invalidation kind")
	}
}
