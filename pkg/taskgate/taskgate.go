// Package taskgate provides the public API for embedding the task lifecycle
// service. This is the stable API for external consumers.
package taskgate

import (
	"github.com/tjfontaine/taskgate/internal/adapters/events/bus"
	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/hooks"
	"github.com/tjfontaine/taskgate/internal/lifecycle"
	"github.com/tjfontaine/taskgate/internal/runtime"
)

// Service runs the task lifecycle API.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// Domain types surfaced to embedders.
type (
	Task         = domain.Task
	TaskStatus   = domain.TaskStatus
	Hook         = domain.Hook
	GateResult   = domain.GateResult
	Event        = domain.Event
	Notification = domain.Notification
	Error        = domain.Error
	Handler      = bus.Handler
)

// New creates a new Service with the given options.
// Example:
//
//	svc, err := taskgate.New(
//	    taskgate.WithFileConfig("config.yaml"),
//	    taskgate.WithSQLite("./data/taskgate.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage
	WithSQLite          = runtime.WithSQLite
	WithPostgres        = runtime.WithPostgres
	WithMemoryStorage   = runtime.WithMemoryStorage
	WithStorageProvider = runtime.WithStorageProvider

	// Locking
	WithMemoryLock = runtime.WithMemoryLock
	WithRedisLock  = runtime.WithRedisLock
	WithLocker     = runtime.WithLocker

	// Advanced options
	WithEventSink       = runtime.WithEventSink
	WithOutcomeRecorder = runtime.WithOutcomeRecorder
	WithClock           = runtime.WithClock
	WithLogger          = runtime.WithLogger
	WithListener        = runtime.WithListener
)

// Helpers for hook endpoints and callers.
var (
	Sign              = hooks.Sign
	Verify            = hooks.Verify
	ValidTransitions  = lifecycle.ValidTransitions
	IsValidTransition = lifecycle.IsValidTransition
)

// AllTopics subscribes a handler to every notification.
const AllTopics = bus.AllTopics
