package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventSink receives audit events.
// Implementations: direct storage (default).
type EventSink interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Notifier delivers in-process notifications to registered subscribers.
type Notifier interface {
	Notify(ctx context.Context, n *domain.Notification)
}

// OutcomeRecorder receives work outcomes for the assignee of a task.
// Implementations live with the reputation/trust subsystem.
type OutcomeRecorder interface {
	RecordCompleted(ctx context.Context, o CompletedOutcome) error
	RecordFailed(ctx context.Context, o FailedOutcome) error
	RecordRework(ctx context.Context, o ReworkOutcome) error
}

// CompletedOutcome is reported when a task reaches done.
type CompletedOutcome struct {
	OrgID   string
	AgentID string
	TaskID  string
	OnTime  bool
}

// FailedOutcome is reported when a task is cancelled after work started.
type FailedOutcome struct {
	OrgID   string
	AgentID string
	TaskID  string
	Reason  string
}

// ReworkOutcome is reported when a task is sent back from review.
type ReworkOutcome struct {
	OrgID       string
	AgentID     string
	TaskID      string
	TriggeredBy string
	Reason      string
}

// Clock abstracts wall-clock time.
type Clock interface {
	Now() time.Time
}

// TaskLocker serializes transition calls on a single task.
// Implementations: in-process (default), Redis.
type TaskLocker interface {
	// Lock blocks until the key is held or ctx is done. The returned function
	// releases the lock.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
