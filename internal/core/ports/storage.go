package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/taskgate/internal/core/domain"
)

// TaskStore loads and persists tasks. Implementations return a
// domain.ErrNotFound-matching error when the task does not exist.
type TaskStore interface {
	// GetTask retrieves a task scoped to an organization
	GetTask(ctx context.Context, orgID, id string) (*domain.Task, error)

	// SaveTask inserts or replaces a task
	SaveTask(ctx context.Context, task *domain.Task) error
}

// DependencyStore reads task dependency edges. The lifecycle engine never
// writes dependencies.
type DependencyStore interface {
	// ListBlocking returns blocking dependencies of a task joined with the
	// status of the task each one depends on.
	ListBlocking(ctx context.Context, taskID string) ([]domain.BlockingDependency, error)
}

// HookStore exposes the hook registrations the gating engine reads and the
// reliability fields it owns.
type HookStore interface {
	// ListEnabled returns enabled hooks of the given type for an organization
	ListEnabled(ctx context.Context, orgID string, hookType domain.HookType) ([]*domain.Hook, error)

	// RecordOutcome writes delivery bookkeeping back to a hook
	RecordOutcome(ctx context.Context, hookID string, update domain.HookUpdate) error

	// RecordFailure increments the hook's failure count in place, stores
	// lastError and disables the hook once the count reaches threshold. It
	// returns the resulting count and enabled flag.
	RecordFailure(ctx context.Context, hookID, lastError string, threshold int) (failureCount int, enabled bool, err error)
}

// EventStore persists audit events.
type EventStore interface {
	// AppendEvent stores an audit event
	AppendEvent(ctx context.Context, event *domain.Event) error

	// ListEvents lists audit events ordered by creation time
	ListEvents(ctx context.Context, opts EventListOptions) ([]*domain.Event, error)
}

// EventListOptions filters ListEvents.
type EventListOptions struct {
	OrgID    string
	Type     string
	EntityID string
	Since    time.Time
	Limit    int
}

// AdminStore holds the write paths owned by external administration:
// task creation, dependency edges and hook registration. The engine itself
// never calls these; they back seeding and tests.
type AdminStore interface {
	// AddDependency records a dependency edge
	AddDependency(ctx context.Context, dep *domain.TaskDependency) error

	// SaveHook inserts or replaces a hook registration
	SaveHook(ctx context.Context, hook *domain.Hook) error

	// GetHook retrieves a hook by ID
	GetHook(ctx context.Context, id string) (*domain.Hook, error)
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), PostgreSQL, in-memory
type StorageProvider interface {
	TaskStore
	DependencyStore
	HookStore
	EventStore
	AdminStore

	Close() error
}
