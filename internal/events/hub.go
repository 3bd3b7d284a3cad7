package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/LiranCohen/dex-sub010/internal/metrics"
)

// admissionBufferSize bounds how many pending hub commands may queue up
// before producers start blocking. This is deliberate admission control
// on producers, distinct from per-connection backpressure.
const admissionBufferSize = 256

// defaultSendBufferSize is the per-connection outbound queue capacity.
const defaultSendBufferSize = 256

// Relay receives every locally admitted envelope for cross-instance
// fan-out. Publish must never block the caller.
type Relay interface {
	Publish(env Envelope)
}

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct{ client *Client }

func (cmdRegister) hubCmd() {}

type cmdUnregister struct{ client *Client }

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct{ env Envelope }

func (cmdBroadcast) hubCmd() {}

type cmdShutdown struct{ done chan struct{} }

func (cmdShutdown) hubCmd() {}

// --- Hub ---

// Hub is the single distribution point for event envelopes. One
// long-lived loop owns the connection registry and performs topic
// matching; registration, unregistration and broadcasts are all funneled
// through its admission channel so registry mutation appears sequential.
type Hub struct {
	cmdCh      chan hubCmd
	clock      clockwork.Clock
	relay      Relay
	instanceID string
	stopped    atomic.Bool

	mu      sync.RWMutex
	clients map[*Client]struct{}

	sendBufferSize int
}

// NewHub creates a hub and starts its dispatch loop. relay may be nil
// for single-instance deployments. sendBufferSize <= 0 falls back to the
// default per-connection queue capacity.
func NewHub(clock clockwork.Clock, relay Relay, sendBufferSize int) *Hub {
	if sendBufferSize <= 0 {
		sendBufferSize = defaultSendBufferSize
	}
	h := &Hub{
		cmdCh:          make(chan hubCmd, admissionBufferSize),
		clock:          clock,
		relay:          relay,
		instanceID:     uuid.NewString(),
		clients:        make(map[*Client]struct{}),
		sendBufferSize: sendBufferSize,
	}
	go h.run()
	return h
}

// InstanceID identifies this hub instance in relayed envelopes.
func (h *Hub) InstanceID() string { return h.instanceID }

func (h *Hub) run() {
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c.client)
		case cmdUnregister:
			h.handleUnregister(c.client)
		case cmdBroadcast:
			h.handleBroadcast(c.env)
		case cmdShutdown:
			h.handleShutdown()
			close(c.done)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if h.stopped.Load() {
		_ = client.conn.Close()
		return
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(total))
	slog.Debug("Client registered", "client_id", client.id, "total_clients", total)
}

// handleUnregister removes the client and closes its outbound queue.
// Removing an absent client is a silent no-op, so every termination path
// may call Unregister without coordination.
func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.ConnectedClients.Set(float64(total))
		slog.Debug("Client unregistered", "client_id", client.id, "total_clients", total)
	}
}

func (h *Hub) handleBroadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		metrics.EncodeFailures.Inc()
		slog.Error("Failed to marshal envelope", "type", env.Type, "error", err)
		return
	}

	metrics.BroadcastsTotal.WithLabelValues(env.Type).Inc()

	var slow []*Client
	delivered := 0
	h.mu.RLock()
	for client := range h.clients {
		if !client.matches(env) {
			continue
		}
		select {
		case client.send <- data:
			delivered++
		default:
			// Queue full: a slow consumer. Never block the pass on
			// it; mark for eviction once iteration is done.
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	metrics.EventsDelivered.Add(float64(delivered))

	for _, client := range slow {
		metrics.SlowConsumerEvictions.Inc()
		slog.Warn("Evicting slow consumer", "client_id", client.id, "type", env.Type)
		h.handleUnregister(client)
	}

	// Only locally produced envelopes go out through the relay;
	// relayed envelopes keep their foreign origin and stop here.
	if h.relay != nil && env.Origin == h.instanceID {
		h.relay.Publish(env)
	}
}

func (h *Hub) handleShutdown() {
	h.mu.Lock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
	metrics.ConnectedClients.Set(0)
	slog.Info("Hub shut down, all clients evicted")
}

// --- Public API ---

// Register adds a connection to the registry. The connection becomes
// eligible for matching on the next broadcast pass.
func (h *Hub) Register(client *Client) {
	h.cmdCh <- cmdRegister{client: client}
}

// Unregister removes a connection and closes its outbound queue. Safe to
// call multiple times and from any termination path.
func (h *Hub) Unregister(client *Client) {
	h.cmdCh <- cmdUnregister{client: client}
}

// Broadcast admits an envelope for distribution. Fire-and-forget:
// delivery outcome is never reported back. May block briefly when the
// admission channel is saturated. Envelopes submitted after Shutdown
// are dropped.
func (h *Hub) Broadcast(env Envelope) {
	if h.stopped.Load() {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = h.clock.Now().UTC()
	}
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	if env.Origin == "" {
		env.Origin = h.instanceID
	}
	h.cmdCh <- cmdBroadcast{env: env}
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats describes the current registry state.
type Stats struct {
	Clients int            `json:"clients"`
	Topics  map[string]int `json:"topics"`
}

// Stats returns a snapshot of connection and subscription counts.
func (h *Hub) Stats() Stats {
	stats := Stats{Topics: make(map[string]int)}
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats.Clients = len(h.clients)
	for client := range h.clients {
		for _, topic := range client.topics() {
			stats.Topics[topic]++
		}
	}
	return stats
}

// Shutdown stops admission of new broadcasts, evicts every connection
// and waits for the dispatch loop to finish doing so. The loop itself
// keeps draining commands so late Unregister calls from dying pumps
// never block.
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.stopped.Swap(true) {
		return nil
	}
	done := make(chan struct{})
	h.cmdCh <- cmdShutdown{done: done}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeClient wires an upgraded websocket connection into the hub: it
// creates the client, seeds any initial subscriptions, registers it and
// starts both pumps. Returns the client for observability.
func (h *Hub) ServeClient(conn *websocket.Conn, initialTopics ...string) *Client {
	client := newClient(h, conn, h.sendBufferSize)
	if len(initialTopics) > 0 {
		client.subscribe(initialTopics...)
	}
	h.Register(client)
	go client.writePump()
	go client.readPump()
	return client
}
