package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/pkg/clock"
)

const (
	// DefaultBlockedReason is reported when the transition gate denies
	// without a reason.
	DefaultBlockedReason = "Transition blocked by webhook"

	// DefaultRejectionFeedback is recorded when the completion gate denies
	// without a reason.
	DefaultRejectionFeedback = "Completion rejected by webhook"
)

// Gate evaluates pre hooks for an event. *hooks.Engine implements it.
type Gate interface {
	ExecuteGate(ctx context.Context, orgID, eventType string, payload map[string]any) (*domain.GateResult, error)
}

// Coordinator applies status transitions to tasks.
type Coordinator struct {
	tasks    ports.TaskStore
	deps     ports.DependencyStore
	gate     Gate
	events   ports.EventSink
	notifier ports.Notifier
	outcomes ports.OutcomeRecorder
	clock    ports.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Config wires a Coordinator. Events, Notifier and Outcomes are optional.
type Config struct {
	Tasks        ports.TaskStore
	Dependencies ports.DependencyStore
	Gate         Gate
	Events       ports.EventSink
	Notifier     ports.Notifier
	Outcomes     ports.OutcomeRecorder
	Clock        ports.Clock
	Logger       *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	c := &Coordinator{
		tasks:    cfg.Tasks,
		deps:     cfg.Dependencies,
		gate:     cfg.Gate,
		events:   cfg.Events,
		notifier: cfg.Notifier,
		outcomes: cfg.Outcomes,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("github.com/tjfontaine/taskgate/internal/lifecycle"),
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Transition moves a task to the requested status and returns the stored
// result. When the completion gate denies a move to done, the task is stored
// in review with rejection feedback and no error is returned; callers compare
// the returned status with the one they asked for.
func (c *Coordinator) Transition(ctx context.Context, orgID, actorID, taskID string, to domain.TaskStatus, reason string) (*domain.Task, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.transition", trace.WithAttributes(
		attribute.String("org.id", orgID),
		attribute.String("task.id", taskID),
		attribute.String("task.to", string(to)),
	))
	defer span.End()

	task, err := c.transition(ctx, orgID, actorID, taskID, to, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("task.status", string(task.Status)))
	return task, nil
}

func (c *Coordinator) transition(ctx context.Context, orgID, actorID, taskID string, to domain.TaskStatus, reason string) (*domain.Task, error) {
	current, err := c.tasks.GetTask(ctx, orgID, taskID)
	if err != nil {
		return nil, err
	}
	from := current.Status

	if err := ValidateTransition(from, to); err != nil {
		return nil, err
	}

	gate, err := c.gate.ExecuteGate(ctx, orgID, domain.GateEventTaskTransition, transitionPayload(current, actorID, to, reason))
	if err != nil {
		return nil, fmt.Errorf("transition gate: %w", err)
	}
	if !gate.Allow {
		msg := gate.Reason
		if msg == "" {
			msg = DefaultBlockedReason
		}
		c.logger.Info("transition blocked",
			slog.String("org_id", orgID),
			slog.String("task_id", taskID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.Any("blocked_by", gate.BlockedBy),
		)
		return nil, domain.PreHookBlocked(msg, gate.BlockedBy)
	}

	task := current.Clone()
	now := c.clock.Now()

	if to == domain.TaskStatusDone {
		if err := c.checkDependencies(ctx, taskID); err != nil {
			return nil, err
		}
		if task.ApprovalRequired && task.ApprovedAt == nil {
			return nil, domain.ApprovalRequired()
		}

		completion, err := c.gate.ExecuteGate(ctx, orgID, domain.GateEventTaskComplete, completionPayload(current, actorID))
		if err != nil {
			return nil, fmt.Errorf("completion gate: %w", err)
		}
		if !completion.Allow {
			return c.rejectCompletion(ctx, task, actorID, completion, now)
		}
		task.CompletedAt = &now
	}

	task.Status = to
	task.UpdatedAt = now
	if from == domain.TaskStatusReview && to == domain.TaskStatusInProgress {
		clearRejection(task)
	}

	if err := c.tasks.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	c.logger.Info("task transitioned",
		slog.String("org_id", orgID),
		slog.String("task_id", taskID),
		slog.String("actor_id", actorID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)

	c.emit(ctx, &domain.Event{
		OrgID:      orgID,
		Type:       domain.EventTaskTransitioned,
		ActorID:    actorID,
		EntityType: "task",
		EntityID:   taskID,
		Data: map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		},
		CreatedAt: now,
	})
	c.notify(ctx, &domain.Notification{
		Topic:   domain.EventTaskTransitioned,
		OrgID:   orgID,
		ActorID: actorID,
		Task:    task.Clone(),
		From:    from,
		To:      to,
		Data:    map[string]any{"reason": reason},
	})

	c.recordOutcome(ctx, task, from, to, actorID, reason)

	return task, nil
}

func (c *Coordinator) checkDependencies(ctx context.Context, taskID string) error {
	deps, err := c.deps.ListBlocking(ctx, taskID)
	if err != nil {
		return fmt.Errorf("list blocking dependencies: %w", err)
	}

	var incomplete []string
	for _, d := range deps {
		if !d.Satisfied() {
			incomplete = append(incomplete, d.DependsOnID)
		}
	}
	if len(incomplete) > 0 {
		return domain.DependencyNotSatisfied(incomplete)
	}
	return nil
}

// rejectCompletion stores task in review with the gate feedback. task is a
// private copy and still carries its pre-transition status.
func (c *Coordinator) rejectCompletion(ctx context.Context, task *domain.Task, actorID string, gate *domain.GateResult, now time.Time) (*domain.Task, error) {
	from := task.Status
	feedback := gate.Reason
	if feedback == "" {
		feedback = DefaultRejectionFeedback
	}
	blockedBy := append([]string(nil), gate.BlockedBy...)

	if task.Metadata == nil {
		task.Metadata = map[string]any{}
	}
	count := task.RejectionCount() + 1
	task.Metadata[domain.MetaRejectionFeedback] = feedback
	task.Metadata[domain.MetaRejectedAt] = now.UTC().Format(time.RFC3339Nano)
	task.Metadata[domain.MetaRejectedBy] = blockedBy
	task.Metadata[domain.MetaRejectionCount] = count
	task.Status = domain.TaskStatusReview
	task.UpdatedAt = now

	if err := c.tasks.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	c.logger.Info("completion rejected",
		slog.String("org_id", task.OrgID),
		slog.String("task_id", task.ID),
		slog.Any("rejected_by", blockedBy),
		slog.Int("rejection_count", count),
	)

	data := map[string]any{
		"from":       string(from),
		"feedback":   feedback,
		"rejectedBy": blockedBy,
	}
	c.emit(ctx, &domain.Event{
		OrgID:      task.OrgID,
		Type:       domain.EventTaskCompletionRejected,
		ActorID:    actorID,
		EntityType: "task",
		EntityID:   task.ID,
		Data:       data,
		CreatedAt:  now,
	})
	c.notify(ctx, &domain.Notification{
		Topic:   domain.EventTaskCompletionRejected,
		OrgID:   task.OrgID,
		ActorID: actorID,
		Task:    task.Clone(),
		From:    from,
		To:      domain.TaskStatusReview,
		Data:    data,
	})

	return task, nil
}

func clearRejection(task *domain.Task) {
	if task.Metadata == nil {
		return
	}
	delete(task.Metadata, domain.MetaRejectionFeedback)
	delete(task.Metadata, domain.MetaRejectedAt)
	delete(task.Metadata, domain.MetaRejectedBy)
}

func (c *Coordinator) recordOutcome(ctx context.Context, task *domain.Task, from, to domain.TaskStatus, actorID, reason string) {
	if c.outcomes == nil || task.AssigneeID == "" {
		return
	}

	var err error
	switch {
	case to == domain.TaskStatusDone:
		onTime := task.DueDate == nil || !task.CompletedAt.After(*task.DueDate)
		err = c.outcomes.RecordCompleted(ctx, ports.CompletedOutcome{
			OrgID:   task.OrgID,
			AgentID: task.AssigneeID,
			TaskID:  task.ID,
			OnTime:  onTime,
		})
	case to == domain.TaskStatusCancelled && from != domain.TaskStatusBacklog:
		err = c.outcomes.RecordFailed(ctx, ports.FailedOutcome{
			OrgID:   task.OrgID,
			AgentID: task.AssigneeID,
			TaskID:  task.ID,
			Reason:  reason,
		})
	case from == domain.TaskStatusReview && to == domain.TaskStatusInProgress:
		err = c.outcomes.RecordRework(ctx, ports.ReworkOutcome{
			OrgID:       task.OrgID,
			AgentID:     task.AssigneeID,
			TaskID:      task.ID,
			TriggeredBy: actorID,
			Reason:      reason,
		})
	}
	if err != nil {
		c.logger.Warn("failed to record outcome",
			slog.String("task_id", task.ID),
			slog.String("agent_id", task.AssigneeID),
			slog.String("error", err.Error()),
		)
	}
}

// Approve records approval of a task that requires it.
func (c *Coordinator) Approve(ctx context.Context, orgID, actorID, taskID string) (*domain.Task, error) {
	current, err := c.tasks.GetTask(ctx, orgID, taskID)
	if err != nil {
		return nil, err
	}
	if !current.ApprovalRequired {
		return nil, domain.Conflict("task does not require approval")
	}
	if current.ApprovedAt != nil {
		return nil, domain.Conflict("task is already approved")
	}

	now := c.clock.Now()
	task := current.Clone()
	task.ApprovedAt = &now
	task.ApprovedBy = actorID
	task.UpdatedAt = now

	if err := c.tasks.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}

	c.emit(ctx, &domain.Event{
		OrgID:      orgID,
		Type:       domain.EventTaskApproved,
		ActorID:    actorID,
		EntityType: "task",
		EntityID:   taskID,
		Data:       map[string]any{"identifier": task.Identifier},
		CreatedAt:  now,
	})
	c.notify(ctx, &domain.Notification{
		Topic:   domain.EventTaskApproved,
		OrgID:   orgID,
		ActorID: actorID,
		Task:    task.Clone(),
		From:    task.Status,
		To:      task.Status,
	})

	return task, nil
}

// emit and notify run after the task is stored; failures are logged only.
func (c *Coordinator) emit(ctx context.Context, event *domain.Event) {
	if c.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := c.events.Emit(ctx, event); err != nil {
		c.logger.Error("failed to emit event",
			slog.String("type", event.Type),
			slog.String("entity_id", event.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) notify(ctx context.Context, n *domain.Notification) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(ctx, n)
}

func transitionPayload(task *domain.Task, actorID string, to domain.TaskStatus, reason string) map[string]any {
	return map[string]any{
		"taskId":         task.ID,
		"taskIdentifier": task.Identifier,
		"taskTitle":      task.Title,
		"fromStatus":     string(task.Status),
		"toStatus":       string(to),
		"actorId":        actorID,
		"assigneeId":     task.AssigneeID,
		"reason":         reason,
	}
}

func completionPayload(task *domain.Task, actorID string) map[string]any {
	return map[string]any{
		"taskId":         task.ID,
		"taskIdentifier": task.Identifier,
		"taskTitle":      task.Title,
		"task": map[string]any{
			"id":          task.ID,
			"identifier":  task.Identifier,
			"title":       task.Title,
			"description": task.Description,
			"status":      string(task.Status),
			"priority":    string(task.Priority),
			"assigneeId":  task.AssigneeID,
			"creatorId":   task.CreatorID,
			"metadata":    task.Metadata,
		},
		"actorId":    actorID,
		"assigneeId": task.AssigneeID,
	}
}
