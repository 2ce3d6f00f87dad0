package domain

import (
	"encoding/json"
	"maps"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusBacklog    TaskStatus = "backlog"
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskStatuses returns every known status in declaration order.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusBacklog, TaskStatusTodo, TaskStatusInProgress, TaskStatusReview,
		TaskStatusDone, TaskStatusBlocked, TaskStatusCancelled,
	}
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBacklog, TaskStatusTodo, TaskStatusInProgress, TaskStatusReview,
		TaskStatusDone, TaskStatusBlocked, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskPriority orders tasks for scheduling. It has no effect on transitions.
type TaskPriority string

const (
	TaskPriorityUrgent TaskPriority = "urgent"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityLow    TaskPriority = "low"
)

// Metadata keys used for completion rejection bookkeeping.
const (
	MetaRejectionFeedback = "rejectionFeedback"
	MetaRejectedAt        = "rejectedAt"
	MetaRejectedBy        = "rejectedBy"
	MetaRejectionCount    = "rejectionCount"
)

// Task is a unit of work scoped to an organization.
type Task struct {
	ID               string         `json:"id"`
	OrgID            string         `json:"org_id"`
	Identifier       string         `json:"identifier,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Status           TaskStatus     `json:"status"`
	Priority         TaskPriority   `json:"priority,omitempty"`
	AssigneeID       string         `json:"assignee_id,omitempty"`
	CreatorID        string         `json:"creator_id,omitempty"`
	ApprovalRequired bool           `json:"approval_required"`
	ApprovedAt       *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy       string         `json:"approved_by,omitempty"`
	DueDate          *time.Time     `json:"due_date,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a copy of t that can be mutated without touching the original.
// Metadata values are copied shallowly; callers replace values rather than
// mutating them in place.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.ApprovedAt = cloneTime(t.ApprovedAt)
	c.DueDate = cloneTime(t.DueDate)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	return &c
}

// RejectionCount returns the number of soft completion rejections recorded on
// the task. Values that went through a JSON round trip come back as float64.
func (t *Task) RejectionCount() int {
	if t == nil || t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata[MetaRejectionCount].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

// RejectedBy returns the hook names recorded by the last soft rejection.
func (t *Task) RejectedBy() []string {
	if t == nil || t.Metadata == nil {
		return nil
	}
	switch v := t.Metadata[MetaRejectedBy].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// TaskDependency is an edge from a task to a task it depends on.
// Only blocking edges gate completion.
type TaskDependency struct {
	TaskID      string    `json:"task_id"`
	DependsOnID string    `json:"depends_on_id"`
	Blocking    bool      `json:"blocking"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlockingDependency is a blocking edge joined with the current status of the
// task it points at.
type BlockingDependency struct {
	TaskID          string     `json:"task_id"`
	DependsOnID     string     `json:"depends_on_id"`
	DependsOnStatus TaskStatus `json:"depends_on_status"`
}

// Satisfied reports whether the dependency no longer blocks completion.
func (d BlockingDependency) Satisfied() bool {
	return d.DependsOnStatus == TaskStatusDone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
