package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LiranCohen/dex-sub010/internal/events"
)

// fakeHub records rebroadcasts so tests can assert on what the relay
// forwarded locally.
type fakeHub struct {
	mu         sync.Mutex
	instanceID string
	envelopes  []events.Envelope
}

func (f *fakeHub) Broadcast(env events.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, env)
}

func (f *fakeHub) InstanceID() string { return f.instanceID }

func (f *fakeHub) received() []events.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Envelope(nil), f.envelopes...)
}

func newTestRelay(t *testing.T) (*Relay, *fakeHub) {
	t.Helper()
	r, err := New(nil)
	require.NoError(t, err)
	hub := &fakeHub{instanceID: "instance-a"}
	r.hub = hub
	return r, hub
}

func marshalEnvelope(t *testing.T, env events.Envelope) string {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return string(data)
}

func TestHandleMessageRebroadcasts(t *testing.T) {
	r, hub := newTestRelay(t)

	env := events.Envelope{Type: "task.updated", TaskID: "1", EventID: "evt-1", Origin: "instance-b"}
	r.handleMessage(marshalEnvelope(t, env))

	received := hub.received()
	require.Len(t, received, 1)
	assert.Equal(t, "task.updated", received[0].Type)
	assert.Equal(t, "instance-b", received[0].Origin)
}

func TestHandleMessageDropsOwnOrigin(t *testing.T) {
	r, hub := newTestRelay(t)

	env := events.Envelope{Type: "task.updated", EventID: "evt-1", Origin: "instance-a"}
	r.handleMessage(marshalEnvelope(t, env))

	assert.Empty(t, hub.received())
}

func TestHandleMessageDropsDuplicates(t *testing.T) {
	r, hub := newTestRelay(t)

	env := events.Envelope{Type: "task.updated", EventID: "evt-1", Origin: "instance-b"}
	payload := marshalEnvelope(t, env)

	r.handleMessage(payload)
	r.handleMessage(payload)

	assert.Len(t, hub.received(), 1)
}

func TestHandleMessageDropsPublishedLoopback(t *testing.T) {
	r, hub := newTestRelay(t)

	// Publishing records the event ID, so a loop-back copy is dropped
	// even if its origin field were stripped in transit.
	r.seen.Add("evt-1", struct{}{})

	env := events.Envelope{Type: "task.updated", EventID: "evt-1", Origin: "instance-c"}
	r.handleMessage(marshalEnvelope(t, env))

	assert.Empty(t, hub.received())
}

func TestHandleMessageMalformed(t *testing.T) {
	r, hub := newTestRelay(t)

	r.handleMessage(`{not json`)

	assert.Empty(t, hub.received())
}

func TestPublishNeverBlocks(t *testing.T) {
	r, _ := newTestRelay(t)

	// Without a running publish loop the buffer fills; overflow must
	// drop instead of blocking the hub's dispatch loop.
	for i := range publishBufferSize + 10 {
		r.Publish(events.Envelope{Type: "task.updated", EventID: string(rune('a' + i%26))})
	}

	assert.Len(t, r.outCh, publishBufferSize)
}
