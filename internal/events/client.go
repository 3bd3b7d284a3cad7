package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/LiranCohen/dex-sub010/internal/metrics"
)

const (
	// maxFrameSize bounds inbound frames so a hostile peer cannot grow
	// memory with a single oversized message.
	maxFrameSize = 4096

	// pongDeadline is the rolling read deadline; it is extended every
	// time the peer answers a ping.
	pongDeadline = 60 * time.Second

	// pingInterval must be comfortably below pongDeadline.
	pingInterval = 30 * time.Second

	// writeDeadline applies to every outbound write. A stalled peer
	// trips it and the write pump treats that as a dead connection.
	writeDeadline = 10 * time.Second

	// Inbound commands are cheap but there is no reason for a client to
	// flip subscriptions hundreds of times per second.
	commandRateLimit = rate.Limit(20)
	commandRateBurst = 40
)

// Client is one connected viewer: a websocket connection, its bounded
// outbound queue, and its private subscription set.
//
// The subscription set is mutated only by the client's own read pump;
// the hub reads it under the client's lock during broadcast matching.
type Client struct {
	id    uuid.UUID
	hub   *Hub
	conn  *websocket.Conn
	clock clockwork.Clock
	send  chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool

	limiter *rate.Limiter
}

func newClient(hub *Hub, conn *websocket.Conn, sendBufferSize int) *Client {
	return &Client{
		id:            uuid.New(),
		hub:           hub,
		conn:          conn,
		clock:         hub.clock,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		limiter:       rate.NewLimiter(commandRateLimit, commandRateBurst),
	}
}

// ID returns the client's connection identifier (used for logging and stats).
func (c *Client) ID() uuid.UUID { return c.id }

// matches reports whether the client's subscription set covers the
// envelope's scope. An unscoped envelope only reaches "*" subscribers.
func (c *Client) matches(env Envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subscriptions[TopicAll] {
		return true
	}
	if env.TaskID != "" && c.subscriptions[TaskTopic(env.TaskID)] {
		return true
	}
	if env.ProjectID != "" && c.subscriptions[ProjectTopic(env.ProjectID)] {
		return true
	}
	return false
}

// subscribe adds topics to the client's subscription set. Used both by
// the read pump and to seed initial subscriptions at upgrade time.
func (c *Client) subscribe(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		c.subscriptions[topic] = true
	}
}

// topics returns a snapshot of the subscription set.
func (c *Client) topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		out = append(out, topic)
	}
	return out
}

// readPump consumes inbound frames until the connection dies, applying
// subscription commands to the local set. It owns the read deadline and
// guarantees Unregister is triggered exactly once on exit.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongDeadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("Unexpected websocket close", "client_id", c.id, "error", err)
			}
			return
		}
		c.handleCommand(message)
	}
}

// handleCommand parses and applies one inbound frame. Malformed frames
// are logged and ignored; they are never fatal to the connection.
func (c *Client) handleCommand(data []byte) {
	if !c.limiter.Allow() {
		metrics.CommandsRateLimited.Inc()
		slog.Warn("Client command rate limit exceeded", "client_id", c.id)
		return
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		metrics.CommandsRejected.Inc()
		slog.Warn("Failed to parse client command", "client_id", c.id, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch cmd.Action {
	case ActionSubscribeAll:
		c.subscriptions[TopicAll] = true

	case ActionSubscribe:
		if cmd.TaskID != "" {
			c.subscriptions[TaskTopic(cmd.TaskID)] = true
		}
		if cmd.ProjectID != "" {
			c.subscriptions[ProjectTopic(cmd.ProjectID)] = true
		}

	case ActionUnsubscribe:
		if cmd.TaskID != "" {
			delete(c.subscriptions, TaskTopic(cmd.TaskID))
		}
		if cmd.ProjectID != "" {
			delete(c.subscriptions, ProjectTopic(cmd.ProjectID))
		}

	case ActionUnsubscribeAll:
		c.subscriptions = make(map[string]bool)

	default:
		metrics.CommandsRejected.Inc()
		slog.Warn("Unknown client command action", "client_id", c.id, "action", cmd.Action)
	}
}

// writePump drains the outbound queue onto the wire and keeps the
// connection alive with periodic pings. When the queue is closed by the
// hub it writes a close frame and exits.
func (c *Client) writePump() {
	ticker := c.clock.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			start := c.clock.Now()
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Drain whatever is already queued, each envelope as its
			// own frame. Coalescing writes under burst load without
			// reordering.
			n := len(c.send)
			for range n {
				queued, ok := <-c.send
				if !ok {
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
			metrics.MessageSendDuration.Observe(c.clock.Since(start).Seconds())

		case <-ticker.Chan():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.PingFailures.Inc()
				return
			}
		}
	}
}
