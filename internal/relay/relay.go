// Package relay fans locally admitted envelopes out to other instances
// over a Redis pub/sub channel and rebroadcasts envelopes received from
// them. Delivery is at-most-once; durable replay is out of scope.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/LiranCohen/dex-sub010/internal/events"
	"github.com/LiranCohen/dex-sub010/internal/metrics"
)

const (
	// Channel is the Redis pub/sub channel shared by all instances.
	Channel = "events:broadcast"

	publishTimeout    = 2 * time.Second
	publishBufferSize = 256
	dedupCacheSize    = 4096
)

// LocalHub is the subset of the hub the relay rebroadcasts through.
type LocalHub interface {
	Broadcast(env events.Envelope)
	InstanceID() string
}

// Relay bridges a hub instance to the shared Redis channel. Publish is
// non-blocking: envelopes are queued to an internal buffer drained by a
// single publisher goroutine, and the Redis PUBLISH itself runs behind
// a circuit breaker so a down Redis cannot back up the hub.
type Relay struct {
	rdb     *redis.Client
	hub     LocalHub
	cb      circuitbreaker.CircuitBreaker[any]
	outCh   chan events.Envelope
	seen    *lru.Cache[string, struct{}]
	cancel  context.CancelFunc
	doneCh  chan struct{}
	channel string
}

// New creates a relay. Start wires it to a hub; until then the relay
// carries no traffic.
func New(rdb *redis.Client) (*Relay, error) {
	seen, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, err
	}

	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Relay circuit breaker state changed",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.RelayCircuitBreakerState.Set(stateToFloat(e.NewState))
		}).
		Build()

	return &Relay{
		rdb:     rdb,
		cb:      cb,
		outCh:   make(chan events.Envelope, publishBufferSize),
		seen:    seen,
		doneCh:  make(chan struct{}),
		channel: Channel,
	}, nil
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// Start wires the relay to its local hub and launches the publisher
// and subscriber loops. They run until Stop is called.
func (r *Relay) Start(ctx context.Context, hub LocalHub) {
	r.hub = hub
	ctx, r.cancel = context.WithCancel(ctx)

	go r.publishLoop(ctx)
	go func() {
		defer close(r.doneCh)
		r.subscribeLoop(ctx)
	}()
}

// Stop cancels both loops and waits for the subscriber to exit.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.doneCh
	}
}

// Publish queues an envelope for cross-instance fan-out. Never blocks;
// when the buffer is full the envelope is dropped and counted.
func (r *Relay) Publish(env events.Envelope) {
	select {
	case r.outCh <- env:
	default:
		metrics.RelayPublished.WithLabelValues("dropped").Inc()
		slog.Warn("Relay publish buffer full, dropping envelope", "type", env.Type, "event_id", env.EventID)
	}
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case env := <-r.outCh:
			r.publish(ctx, env)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, env events.Envelope) {
	// Remember our own event IDs so the subscribe loop can discard the
	// loop-back copy even if the origin field is ever stripped.
	r.seen.Add(env.EventID, struct{}{})

	data, err := json.Marshal(env)
	if err != nil {
		metrics.RelayPublished.WithLabelValues("encode_error").Inc()
		slog.Error("Failed to marshal envelope for relay", "type", env.Type, "error", err)
		return
	}

	if !r.cb.TryAcquirePermit() {
		metrics.RelayPublished.WithLabelValues("circuit_open").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.cb.RecordError(err)
		metrics.RelayPublished.WithLabelValues("error").Inc()
		slog.Warn("Failed to publish envelope to relay channel", "type", env.Type, "error", err)
		return
	}

	r.cb.RecordSuccess()
	metrics.RelayPublished.WithLabelValues("ok").Inc()
}

func (r *Relay) subscribeLoop(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handleMessage(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) handleMessage(payload string) {
	var env events.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		metrics.RelayReceived.WithLabelValues("malformed").Inc()
		slog.Warn("Malformed envelope on relay channel", "error", err)
		return
	}

	if env.Origin == r.hub.InstanceID() {
		metrics.RelayReceived.WithLabelValues("self").Inc()
		return
	}

	if _, dup := r.seen.Get(env.EventID); env.EventID != "" && dup {
		metrics.RelayReceived.WithLabelValues("duplicate").Inc()
		return
	}
	if env.EventID != "" {
		r.seen.Add(env.EventID, struct{}{})
	}

	metrics.RelayReceived.WithLabelValues("rebroadcast").Inc()
	r.hub.Broadcast(env)
}
