package hooks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tjfontaine/taskgate/internal/core/domain"
)

// DispatchTopics are the notification topics forwarded to post hooks.
var DispatchTopics = []string{
	domain.EventTaskTransitioned,
	domain.EventTaskCompletionRejected,
	domain.EventTaskApproved,
	domain.EventWebhookExecuted,
}

// Dispatcher forwards notifications to post hooks in the background so that
// slow endpoints never hold up the transition that produced them.
type Dispatcher struct {
	engine *Engine
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher delivering through engine.
func NewDispatcher(engine *Engine, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{engine: engine, logger: logger}
}

// Handle is a notification handler; subscribe it to DispatchTopics.
func (d *Dispatcher) Handle(ctx context.Context, n *domain.Notification) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	payload := NotificationPayload(n)
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()
		if err := d.engine.Dispatch(ctx, n.OrgID, n.Topic, payload); err != nil {
			d.logger.Error("post hook dispatch failed",
				slog.String("org_id", n.OrgID),
				slog.String("event", n.Topic),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Close stops accepting notifications and waits for in-flight deliveries
// until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotificationPayload renders the data object delivered to post hooks.
func NotificationPayload(n *domain.Notification) map[string]any {
	data := make(map[string]any, len(n.Data)+6)
	for k, v := range n.Data {
		data[k] = v
	}
	if n.Task == nil {
		return data
	}

	data["taskId"] = n.Task.ID
	data["orgId"] = n.OrgID
	data["fromStatus"] = string(n.From)
	data["toStatus"] = string(n.To)
	data["task"] = n.Task
	if n.ActorID != "" {
		data["actorId"] = n.ActorID
	}
	return data
}
