package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ErrBrokerUnavailable is returned by the Redis publisher while its
// circuit breaker is open. Callers treat it as a degraded-mode signal,
// not a failure worth alerting on.
var ErrBrokerUnavailable = errors.New("realtime: broker unavailable")

// Publisher delivers snapshots beyond the local process.
type Publisher interface {
	Publish(ctx context.Context, snap *Snapshot) error
	Close() error
}

// RedisPublisher broadcasts snapshots over Redis pub/sub so sibling nodes
// can feed their own hubs. All publishes go through a circuit breaker; a
// dead broker costs one timeout per cooldown instead of one per finish.
type RedisPublisher struct {
	client  redis.UniversalClient
	breaker *Breaker
	logger  *slog.Logger
}

// NewRedisPublisher wraps an existing Redis client. The caller keeps
// ownership of nothing: Close closes the client.
func NewRedisPublisher(client redis.UniversalClient, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{
		client:  client,
		breaker: NewBreaker(&BreakerConfig{Logger: logger}),
		logger:  logger,
	}
}

// Publish sends the snapshot to the contest's channel. While the breaker
// is open it returns ErrBrokerUnavailable without touching the broker.
func (p *RedisPublisher) Publish(ctx context.Context, snap *Snapshot) error {
	if !p.breaker.Allow() {
		return ErrBrokerUnavailable
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := p.client.Publish(ctx, Channel(snap.ContestID), payload).Err(); err != nil {
		p.breaker.RecordFailure()
		return fmt.Errorf("redis publish: %w", err)
	}
	p.breaker.RecordSuccess()
	return nil
}

// Breaker exposes the publisher's circuit breaker for metrics and tests.
func (p *RedisPublisher) Breaker() *Breaker {
	return p.breaker
}

// Close releases the underlying Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Bridge mirrors snapshots broadcast by sibling nodes into the local hub,
// skipping the ones this node published itself.
type Bridge struct {
	client redis.UniversalClient
	hub    *Hub
	nodeID string
	logger *slog.Logger
}

// NewBridge creates a Bridge. nodeID must match the Origin stamped on
// locally published snapshots or the node will echo its own traffic.
func NewBridge(client redis.UniversalClient, hub *Hub, nodeID string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, hub: hub, nodeID: nodeID, logger: logger}
}

// Run subscribes to every contest's leaderboard channel and forwards
// foreign snapshots into the hub until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, Channel("*"))
	defer pubsub.Close()

	b.logger.Info("leaderboard bridge subscribed", "pattern", Channel("*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var snap Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				b.logger.Warn("dropping malformed snapshot",
					"channel", msg.Channel,
					"error", err,
				)
				continue
			}
			if snap.Origin == b.nodeID {
				continue
			}
			b.hub.Publish(&snap)
		}
	}
}
