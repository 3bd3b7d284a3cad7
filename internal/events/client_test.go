package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LiranCohen/dex-sub010/internal/metrics"
)

// bareClient builds a client without pumps or a connection, enough to
// exercise matching and command handling directly.
func bareClient(t *testing.T) *Client {
	t.Helper()
	hub := NewHub(clockwork.NewRealClock(), nil, 4)
	return newClient(hub, nil, 4)
}

func TestClientMatches(t *testing.T) {
	tests := []struct {
		name   string
		topics []string
		env    Envelope
		want   bool
	}{
		{"all matches unscoped", []string{TopicAll}, Envelope{Type: "ping"}, true},
		{"all matches task scope", []string{TopicAll}, Envelope{TaskID: "1"}, true},
		{"all matches project scope", []string{TopicAll}, Envelope{ProjectID: "9"}, true},
		{"task topic matches own task", []string{TaskTopic("1")}, Envelope{TaskID: "1"}, true},
		{"task topic ignores other task", []string{TaskTopic("1")}, Envelope{TaskID: "2"}, false},
		{"task topic ignores unscoped", []string{TaskTopic("1")}, Envelope{Type: "ping"}, false},
		{"project topic matches own project", []string{ProjectTopic("9")}, Envelope{ProjectID: "9"}, true},
		{"project topic ignores task scope", []string{ProjectTopic("9")}, Envelope{TaskID: "9"}, false},
		{"no topics matches nothing", nil, Envelope{TaskID: "1", ProjectID: "9"}, false},
		{"either scope suffices", []string{ProjectTopic("9")}, Envelope{TaskID: "1", ProjectID: "9"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := bareClient(t)
			client.subscribe(tt.topics...)
			assert.Equal(t, tt.want, client.matches(tt.env))
		})
	}
}

func TestClientHandleCommand(t *testing.T) {
	client := bareClient(t)

	client.handleCommand([]byte(`{"action":"subscribe","task_id":"1","project_id":"9"}`))
	assert.ElementsMatch(t, []string{TaskTopic("1"), ProjectTopic("9")}, client.topics())

	client.handleCommand([]byte(`{"action":"unsubscribe","task_id":"1"}`))
	assert.ElementsMatch(t, []string{ProjectTopic("9")}, client.topics())

	client.handleCommand([]byte(`{"action":"subscribe_all"}`))
	assert.Contains(t, client.topics(), TopicAll)

	client.handleCommand([]byte(`{"action":"unsubscribe_all"}`))
	assert.Empty(t, client.topics())
}

func TestClientHandleCommandMalformed(t *testing.T) {
	client := bareClient(t)
	client.subscribe(TaskTopic("1"))

	rejectedBefore := testutil.ToFloat64(metrics.CommandsRejected)

	// Malformed or unknown frames are dropped without touching state.
	client.handleCommand([]byte(`{not json`))
	client.handleCommand([]byte(`{"action":"subscribe","task_id":7}`))
	client.handleCommand([]byte(`{"action":"resubscribe"}`))

	assert.ElementsMatch(t, []string{TaskTopic("1")}, client.topics())
	assert.Equal(t, rejectedBefore+3, testutil.ToFloat64(metrics.CommandsRejected))
}

func TestClientHandleCommandEmptyIDs(t *testing.T) {
	client := bareClient(t)

	// A subscribe without any scope field is a no-op, not an error.
	client.handleCommand([]byte(`{"action":"subscribe"}`))
	assert.Empty(t, client.topics())
}

func TestClientCommandRateLimit(t *testing.T) {
	client := bareClient(t)

	limitedBefore := testutil.ToFloat64(metrics.CommandsRateLimited)

	// Burst far past the limiter; the tail must be dropped while the
	// connection state stays intact.
	for i := range commandRateBurst + 10 {
		client.handleCommand(fmt.Appendf(nil, `{"action":"subscribe","task_id":"%d"}`, i))
	}

	require.Greater(t, testutil.ToFloat64(metrics.CommandsRateLimited), limitedBefore)
	assert.LessOrEqual(t, len(client.topics()), commandRateBurst+5)

	// Tokens refill; afterwards commands apply again.
	time.Sleep(120 * time.Millisecond)
	client.handleCommand([]byte(`{"action":"subscribe_all"}`))
	assert.Contains(t, client.topics(), TopicAll)
}
