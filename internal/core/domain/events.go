package domain

import (
	"time"
)

// Gate event types passed to the hook gating engine.
const (
	GateEventTaskTransition = "task.transition"
	GateEventTaskComplete   = "task.complete"
)

// Audit and notification event types.
const (
	EventTaskTransitioned       = "task.transitioned"
	EventTaskCompletionRejected = "task.completion_rejected"
	EventTaskApproved           = "task.approved"
	EventWebhookExecuted        = "webhook.executed"
)

// Event is an audit record emitted by the engine.
// These are persisted for external consumers (webhook dispatch, analytics).
type Event struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	Type       string         `json:"type"`
	ActorID    string         `json:"actor_id,omitempty"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Notification is an in-process message delivered to subscribers.
// Unlike Event it carries live objects and is never persisted.
type Notification struct {
	Topic   string
	OrgID   string
	ActorID string
	Task    *Task
	From    TaskStatus
	To      TaskStatus
	Data    map[string]any
}
