// Package metrics defines the Prometheus instruments for the event hub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	// ConnectedClients tracks the number of live websocket connections
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Number of live websocket connections",
		},
	)

	// BroadcastsTotal tracks admitted broadcasts by event type
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Total broadcasts admitted by event type",
		},
		[]string{"type"},
	)

	// EventsDelivered tracks per-connection enqueues across all broadcasts
	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_events_delivered_total",
			Help: "Total envelopes enqueued to connection send queues",
		},
	)

	// SlowConsumerEvictions tracks connections evicted for a full send queue
	SlowConsumerEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_consumer_evictions_total",
			Help: "Connections evicted because their send queue was full",
		},
	)

	// EncodeFailures tracks envelopes dropped because they could not be serialized
	EncodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_encode_failures_total",
			Help: "Broadcasts skipped because the envelope could not be serialized",
		},
	)
)

// Connection metrics
var (
	// CommandsRejected tracks malformed or unknown inbound commands
	CommandsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_commands_rejected_total",
			Help: "Inbound client commands dropped as malformed or unknown",
		},
	)

	// CommandsRateLimited tracks inbound commands dropped by the rate limiter
	CommandsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_commands_rate_limited_total",
			Help: "Inbound client commands dropped by the per-connection rate limiter",
		},
	)

	// MessageSendDuration tracks websocket write latency in seconds
	MessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_message_send_duration_seconds",
			Help:    "Websocket message write duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// PingFailures tracks heartbeat pings that failed to write
	PingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_ping_failures_total",
			Help: "Heartbeat pings that failed to write",
		},
	)
)

// Relay metrics
var (
	// RelayPublished tracks envelopes published to the relay channel by status
	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_published_total",
			Help: "Envelopes published to the relay channel by status",
		},
		[]string{"status"},
	)

	// RelayReceived tracks envelopes received from the relay channel by outcome
	RelayReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_received_total",
			Help: "Envelopes received from the relay channel by outcome",
		},
		[]string{"outcome"},
	)

	// RelayCircuitBreakerState tracks the relay circuit breaker state
	// (0=closed, 1=half-open, 2=open)
	RelayCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_circuit_breaker_state",
			Help: "Relay circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
