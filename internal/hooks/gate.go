package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/pkg/clock"
)

// DefaultMaxConcurrency bounds simultaneous outbound deliveries.
const DefaultMaxConcurrency = 32

const tracerName = "github.com/tjfontaine/taskgate/internal/hooks"

// Deliverer sends one event to one hook.
type Deliverer interface {
	Deliver(ctx context.Context, hook *domain.Hook, event string, data map[string]any) (*domain.HookDecision, error)
}

// Engine evaluates pre-hook gates and dispatches notifications to post hooks.
type Engine struct {
	store     ports.HookStore
	deliverer Deliverer
	events    ports.EventSink
	notifier  ports.Notifier
	clock     ports.Clock
	logger    *slog.Logger
	tracer    trace.Tracer

	mu        sync.RWMutex
	sem       *semaphore.Weighted
	threshold int
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Store     ports.HookStore
	Deliverer Deliverer
	// Events receives one webhook.executed record per gate delivery. Optional.
	Events ports.EventSink
	// Notifier receives a webhook.executed notification per gate delivery,
	// which lets post hooks subscribe to gate outcomes. Optional.
	Notifier         ports.Notifier
	Clock            ports.Clock
	Logger           *slog.Logger
	MaxConcurrency   int
	FailureThreshold int
}

// NewEngine creates a gating engine.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:     cfg.Store,
		deliverer: cfg.Deliverer,
		events:    cfg.Events,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		tracer:    otel.Tracer(tracerName),
	}
	if e.clock == nil {
		e.clock = clock.System{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.Configure(cfg.MaxConcurrency, cfg.FailureThreshold)
	return e
}

// Configure replaces the concurrency limit and failure threshold. Gates
// already running keep the limits they started with.
func (e *Engine) Configure(maxConcurrency, failureThreshold int) {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if failureThreshold <= 0 {
		failureThreshold = domain.DefaultFailureThreshold
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sem = semaphore.NewWeighted(int64(maxConcurrency))
	e.threshold = failureThreshold
}

// FailureThreshold returns the consecutive failure count that disables a hook.
func (e *Engine) FailureThreshold() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

func (e *Engine) limits() (*semaphore.Weighted, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sem, e.threshold
}

// ExecuteGate consults every enabled pre hook of orgID subscribed to
// eventType and returns the combined decision. Only a can_block hook that
// answers allow=false denies the gate; unreachable hooks vote allow.
//
// An error is returned when the hook registry cannot be read or when ctx
// ends before every vote is in. In the latter case no hook is charged a
// failure for the abandoned deliveries.
func (e *Engine) ExecuteGate(ctx context.Context, orgID, eventType string, payload map[string]any) (*domain.GateResult, error) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "hooks.execute_gate", trace.WithAttributes(
		attribute.String("org.id", orgID),
		attribute.String("hook.event", eventType),
	))
	defer span.End()

	candidates, sem, threshold, err := e.candidates(ctx, orgID, domain.HookTypePre, eventType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list hooks")
		return nil, err
	}
	span.SetAttributes(attribute.Int("hook.count", len(candidates)))

	if len(candidates) == 0 {
		return &domain.GateResult{Allow: true, ExecutionTimeMs: time.Since(start).Milliseconds()}, nil
	}

	bg := context.WithoutCancel(ctx)
	execs := make([]domain.HookExecution, len(candidates))
	var wg sync.WaitGroup
	for i, h := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec, delivered := e.deliver(ctx, sem, threshold, orgID, eventType, h, payload)
			execs[i] = exec
			if delivered {
				e.emit(bg, exec)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gate abandoned")
		e.logger.Warn("gate abandoned before all hooks answered",
			slog.String("org_id", orgID),
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result := aggregate(execs)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	span.SetAttributes(attribute.Bool("gate.allow", result.Allow))
	if !result.Allow {
		e.logger.Info("gate denied",
			slog.String("org_id", orgID),
			slog.String("event", eventType),
			slog.Any("blocked_by", result.BlockedBy),
			slog.String("reason", result.Reason),
		)
	}

	return result, nil
}

// Dispatch delivers eventType to every enabled post hook of orgID subscribed
// to it. Answers are not votes, but failures count toward the circuit
// breaker exactly as gate deliveries do. Dispatch waits for all deliveries.
func (e *Engine) Dispatch(ctx context.Context, orgID, eventType string, payload map[string]any) error {
	ctx, span := e.tracer.Start(ctx, "hooks.dispatch", trace.WithAttributes(
		attribute.String("org.id", orgID),
		attribute.String("hook.event", eventType),
	))
	defer span.End()

	candidates, sem, threshold, err := e.candidates(ctx, orgID, domain.HookTypePost, eventType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list hooks")
		return err
	}
	span.SetAttributes(attribute.Int("hook.count", len(candidates)))

	var wg sync.WaitGroup
	for _, h := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.deliver(ctx, sem, threshold, orgID, eventType, h, payload)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (e *Engine) candidates(ctx context.Context, orgID string, hookType domain.HookType, eventType string) ([]*domain.Hook, *semaphore.Weighted, int, error) {
	registered, err := e.store.ListEnabled(ctx, orgID, hookType)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("list %s hooks: %w", hookType, err)
	}

	sem, threshold := e.limits()

	var out []*domain.Hook
	for _, h := range registered {
		if h.CircuitClosed(threshold) && h.Matches(eventType) {
			out = append(out, h)
		}
	}
	return out, sem, threshold, nil
}

// deliver sends one event to one hook and writes back its reliability
// fields. The hook's timeout covers the wait for a delivery slot as well as
// the call itself. delivered is false when ctx ended first; nothing is
// recorded for the hook then.
func (e *Engine) deliver(ctx context.Context, sem *semaphore.Weighted, threshold int, orgID, eventType string, hook *domain.Hook, payload map[string]any) (exec domain.HookExecution, delivered bool) {
	start := time.Now()
	exec = domain.HookExecution{
		HookID:       hook.ID,
		HookName:     hook.DisplayName(),
		OrgID:        orgID,
		EventType:    eventType,
		HookType:     hook.HookType,
		CanBlock:     hook.CanBlock,
		Allow:        true,
		FailureCount: hook.FailureCount,
	}

	if err := ctx.Err(); err != nil {
		exec.Error = fmt.Sprintf("abandoned before delivery: %v", err)
		return exec, false
	}

	hctx, cancel := context.WithTimeout(ctx, hook.Timeout())
	defer cancel()

	// Bookkeeping lands even if the caller gives up right after the answer.
	bg := context.WithoutCancel(ctx)

	if err := sem.Acquire(hctx, 1); err != nil {
		exec.Duration = time.Since(start)
		if ctx.Err() != nil {
			exec.Error = fmt.Sprintf("abandoned before delivery: %v", ctx.Err())
			return exec, false
		}
		exec.Error = (&DeliveryError{HookID: hook.ID, Kind: FailureTimeout, Err: fmt.Errorf("waiting for a delivery slot: %w", err)}).Error()
		e.recordFailure(bg, hook, threshold, &exec)
		return exec, true
	}

	dctx, span := e.tracer.Start(hctx, "hooks.deliver", trace.WithAttributes(
		attribute.String("hook.id", hook.ID),
		attribute.String("hook.type", string(hook.HookType)),
		attribute.Bool("hook.can_block", hook.CanBlock),
	))
	decision, err := e.deliverer.Deliver(dctx, hook, eventType, payload)
	sem.Release(1)
	exec.Duration = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		span.End()
		if ctx.Err() != nil {
			exec.Error = fmt.Sprintf("abandoned during delivery: %v", ctx.Err())
			return exec, false
		}
		exec.Error = err.Error()
		e.recordFailure(bg, hook, threshold, &exec)
		return exec, true
	}

	span.SetAttributes(attribute.Bool("hook.allow", decision.Allow))
	span.End()
	exec.Success = true
	exec.Allow = decision.Allow
	exec.Reason = decision.Reason
	exec.Blocked = !decision.Allow && hook.CanBlock && hook.HookType == domain.HookTypePre
	e.recordSuccess(bg, hook, &exec)
	return exec, true
}

func (e *Engine) recordFailure(ctx context.Context, hook *domain.Hook, threshold int, exec *domain.HookExecution) {
	count, enabled, err := e.store.RecordFailure(ctx, hook.ID, exec.Error, threshold)
	if err != nil {
		e.logger.Error("failed to record hook failure", slog.String("hook_id", hook.ID), slog.String("error", err.Error()))
		count, enabled = hook.FailureCount+1, hook.FailureCount+1 < threshold
	}
	exec.FailureCount = count

	if !enabled && count >= threshold {
		exec.CircuitOpened = true
		e.logger.Warn("hook disabled after consecutive failures",
			slog.String("hook_id", hook.ID),
			slog.String("hook_name", hook.DisplayName()),
			slog.String("org_id", hook.OrgID),
			slog.Int("failure_count", count),
		)
		return
	}
	e.logger.Warn("hook delivery failed",
		slog.String("hook_id", hook.ID),
		slog.String("event", exec.EventType),
		slog.Int("failure_count", count),
		slog.String("error", exec.Error),
	)
}

func (e *Engine) recordSuccess(ctx context.Context, hook *domain.Hook, exec *domain.HookExecution) {
	zero := 0
	now := e.clock.Now()
	cleared := ""
	update := domain.HookUpdate{FailureCount: &zero, LastTriggeredAt: &now, LastError: &cleared}

	e.logger.Debug("hook delivered",
		slog.String("hook_id", hook.ID),
		slog.String("event", exec.EventType),
		slog.Bool("allow", exec.Allow),
		slog.Duration("duration", exec.Duration),
	)

	if err := e.store.RecordOutcome(ctx, hook.ID, update); err != nil {
		e.logger.Error("failed to record hook success", slog.String("hook_id", hook.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) emit(ctx context.Context, exec domain.HookExecution) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, &domain.Notification{
			Topic: domain.EventWebhookExecuted,
			OrgID: exec.OrgID,
			Data:  ExecutionData(exec),
		})
	}
	if e.events == nil {
		return
	}

	event := &domain.Event{
		ID:         uuid.NewString(),
		OrgID:      exec.OrgID,
		Type:       domain.EventWebhookExecuted,
		EntityType: "webhook",
		EntityID:   exec.HookID,
		Data:       ExecutionData(exec),
		CreatedAt:  e.clock.Now(),
	}
	if err := e.events.Emit(ctx, event); err != nil {
		e.logger.Error("failed to emit webhook execution", slog.String("hook_id", exec.HookID), slog.String("error", err.Error()))
	}
}

// ExecutionData renders the audit payload of a webhook.executed event.
func ExecutionData(exec domain.HookExecution) map[string]any {
	return map[string]any{
		"webhookId":     exec.HookID,
		"webhookName":   exec.HookName,
		"orgId":         exec.OrgID,
		"eventType":     exec.EventType,
		"hookType":      string(exec.HookType),
		"success":       exec.Success,
		"allow":         exec.Allow,
		"blocked":       exec.Blocked,
		"reason":        exec.Reason,
		"error":         exec.Error,
		"durationMs":    exec.Duration.Milliseconds(),
		"failureCount":  exec.FailureCount,
		"circuitOpened": exec.CircuitOpened,
	}
}

func aggregate(execs []domain.HookExecution) *domain.GateResult {
	result := &domain.GateResult{Allow: true}
	var reasons []string
	for _, exec := range execs {
		if !exec.Blocked {
			continue
		}
		result.BlockedBy = append(result.BlockedBy, exec.HookName)
		if exec.Reason != "" {
			reasons = append(reasons, exec.Reason)
		}
	}
	if len(result.BlockedBy) > 0 {
		result.Allow = false
		result.Reason = strings.Join(reasons, "; ")
	}
	return result
}
