package domain

import (
	"slices"
	"time"
)

// HookType determines when a hook is consulted.
type HookType string

const (
	// HookTypePre runs before an action and may veto it.
	HookTypePre HookType = "pre"
	// HookTypePost is notified after an action. Post hooks never gate.
	HookTypePost HookType = "post"
)

// Hook timeout bounds, in milliseconds.
const (
	MinHookTimeoutMs     = 1000
	MaxHookTimeoutMs     = 30000
	DefaultHookTimeoutMs = 5000
)

// DefaultFailureThreshold is the number of consecutive delivery failures after
// which a hook is disabled.
const DefaultFailureThreshold = 10

// MatchAllEvents subscribes a hook to every event.
const MatchAllEvents = "*"

// Hook is an externally registered policy endpoint.
//
// FailureCount, Enabled, LastTriggeredAt and LastError are owned by the gating
// engine; everything else is administered externally.
type Hook struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	Enabled         bool       `json:"enabled"`
	HookType        HookType   `json:"hook_type"`
	CanBlock        bool       `json:"can_block"`
	TimeoutMs       int        `json:"timeout_ms"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DisplayName is the name reported in blockedBy lists and audit events.
func (h *Hook) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.ID
}

// Matches reports whether the hook subscribes to eventType. An empty event
// list matches everything.
func (h *Hook) Matches(eventType string) bool {
	if len(h.Events) == 0 {
		return true
	}
	return slices.Contains(h.Events, eventType) || slices.Contains(h.Events, MatchAllEvents)
}

// Timeout returns the delivery deadline, clamped to the supported range.
func (h *Hook) Timeout() time.Duration {
	ms := h.TimeoutMs
	switch {
	case ms <= 0:
		ms = DefaultHookTimeoutMs
	case ms < MinHookTimeoutMs:
		ms = MinHookTimeoutMs
	case ms > MaxHookTimeoutMs:
		ms = MaxHookTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// CircuitClosed reports whether the hook may receive deliveries.
// The circuit opens once threshold consecutive failures have been recorded and
// only an administrative re-enable closes it again.
func (h *Hook) CircuitClosed(threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return h.Enabled && h.FailureCount < threshold
}

// HookUpdate carries the reliability fields the engine writes back after a
// delivery. Nil fields are left untouched.
type HookUpdate struct {
	FailureCount    *int
	Enabled         *bool
	LastTriggeredAt *time.Time
	LastError       *string
}

// Apply writes the non-nil fields of u onto h.
func (u HookUpdate) Apply(h *Hook) {
	if u.FailureCount != nil {
		h.FailureCount = *u.FailureCount
	}
	if u.Enabled != nil {
		h.Enabled = *u.Enabled
	}
	if u.LastTriggeredAt != nil {
		t := *u.LastTriggeredAt
		h.LastTriggeredAt = &t
	}
	if u.LastError != nil {
		h.LastError = *u.LastError
	}
}

// HookDecision is the vote returned by a hook endpoint.
type HookDecision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// HookExecution describes one hook delivery inside a gate evaluation.
type HookExecution struct {
	HookID        string        `json:"webhookId"`
	HookName      string        `json:"webhookName"`
	OrgID         string        `json:"orgId"`
	EventType     string        `json:"eventType"`
	HookType      HookType      `json:"hookType"`
	CanBlock      bool          `json:"canBlock"`
	Success       bool          `json:"success"`
	Allow         bool          `json:"allow"`
	Blocked       bool          `json:"blocked"`
	Reason        string        `json:"reason,omitempty"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"-"`
	FailureCount  int           `json:"failureCount"`
	CircuitOpened bool          `json:"circuitOpened"`
}

// GateResult is the aggregate decision of a gate evaluation.
type GateResult struct {
	Allow           bool     `json:"allow"`
	Reason          string   `json:"reason,omitempty"`
	BlockedBy       []string `json:"blockedBy,omitempty"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
}
