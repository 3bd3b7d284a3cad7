package events

import "time"

// Topic constants and constructors. A client subscribes to any mix of
// these; TopicAll matches every envelope regardless of scope.
const TopicAll = "*"

// TaskTopic returns the subscription topic for a single task.
func TaskTopic(taskID string) string { return "task:" + taskID }

// ProjectTopic returns the subscription topic for a single project.
func ProjectTopic(projectID string) string { return "project:" + projectID }

// Envelope is the unit of distribution: a typed event with an optional
// task/project scope. Envelopes are treated as immutable once admitted.
//
// EventID and Origin are filled in by the hub at admission time and are
// used by the relay to suppress loop-backs in multi-instance deployments.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	TaskID    string         `json:"task_id,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	EventID   string         `json:"event_id,omitempty"`
	Origin    string         `json:"origin,omitempty"`
}

// Command actions accepted on the inbound side of a connection.
const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionSubscribeAll   = "subscribe_all"
	ActionUnsubscribeAll = "unsubscribe_all"
)

// Command is a subscription change sent by a connected client.
type Command struct {
	Action    string `json:"action"`
	TaskID    string `json:"task_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}
