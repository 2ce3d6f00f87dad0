package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/hooks"
	"github.com/tjfontaine/taskgate/internal/pkg/config"
)

// seed inserts configured hooks, tasks and dependencies. Records that already
// exist are left alone so restarts never reset engine bookkeeping or task
// state.
func (s *Service) seed(ctx context.Context, cfg config.SeedConfig) error {
	if err := s.seedHooks(ctx, cfg.Hooks); err != nil {
		return err
	}

	for _, ts := range cfg.Tasks {
		task, err := taskFromSeed(ts, s.clock.Now())
		if err != nil {
			return err
		}
		if _, err := s.storage.GetTask(ctx, task.OrgID, task.ID); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("lookup task %s: %w", task.ID, err)
		}
		if err := s.storage.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("save task %s: %w", task.ID, err)
		}
		s.logger.Info("seeded task", slog.String("task_id", task.ID), slog.String("status", string(task.Status)))
	}

	for _, ds := range cfg.Dependencies {
		dep := &domain.TaskDependency{
			TaskID:      ds.TaskID,
			DependsOnID: ds.DependsOnID,
			Blocking:    !ds.NonBlocking,
			CreatedAt:   s.clock.Now(),
		}
		if err := s.storage.AddDependency(ctx, dep); err != nil {
			return fmt.Errorf("add dependency %s -> %s: %w", ds.TaskID, ds.DependsOnID, err)
		}
	}

	return nil
}

func (s *Service) seedHooks(ctx context.Context, seeds []config.HookSeed) error {
	for _, hs := range seeds {
		if hs.ID == "" {
			return domain.InvalidRequest("seed hook id is required")
		}
		if _, err := s.storage.GetHook(ctx, hs.ID); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("lookup hook %s: %w", hs.ID, err)
		}

		now := s.clock.Now()
		hook := &domain.Hook{
			ID:        hs.ID,
			OrgID:     hs.OrgID,
			Name:      hs.Name,
			URL:       hs.URL,
			Secret:    hs.Secret,
			Events:    hs.Events,
			Enabled:   !hs.Disabled,
			HookType:  domain.HookType(hs.HookType),
			CanBlock:  hs.CanBlock,
			TimeoutMs: hs.TimeoutMs,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := hooks.ValidateRegistration(ctx, s.guard, hook); err != nil {
			return fmt.Errorf("hook %s: %w", hs.ID, err)
		}
		if hook.TimeoutMs == 0 {
			hook.TimeoutMs = domain.DefaultHookTimeoutMs
		}
		if err := s.storage.SaveHook(ctx, hook); err != nil {
			return fmt.Errorf("save hook %s: %w", hs.ID, err)
		}
		s.logger.Info("seeded hook",
			slog.String("hook_id", hook.ID),
			slog.String("hook_type", string(hook.HookType)),
			slog.Bool("can_block", hook.CanBlock))
	}
	return nil
}

func taskFromSeed(ts config.TaskSeed, now time.Time) (*domain.Task, error) {
	if ts.ID == "" || ts.OrgID == "" || ts.Title == "" {
		return nil, domain.InvalidRequest("seed task requires id, org_id and title")
	}

	status := domain.TaskStatus(ts.Status)
	if status == "" {
		status = domain.TaskStatusBacklog
	}
	if !status.Valid() {
		return nil, domain.InvalidRequest(fmt.Sprintf("task %s: unknown status %q", ts.ID, ts.Status))
	}

	priority := domain.TaskPriority(ts.Priority)
	if priority == "" {
		priority = domain.TaskPriorityNormal
	}

	task := &domain.Task{
		ID:               ts.ID,
		OrgID:            ts.OrgID,
		Identifier:       ts.Identifier,
		Title:            ts.Title,
		Status:           status,
		Priority:         priority,
		AssigneeID:       ts.AssigneeID,
		CreatorID:        ts.CreatorID,
		ApprovalRequired: ts.ApprovalRequired,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if ts.DueDate != "" {
		due, err := time.Parse(time.RFC3339, ts.DueDate)
		if err != nil {
			return nil, domain.InvalidRequest(fmt.Sprintf("task %s: invalid due_date: %v", ts.ID, err))
		}
		due = due.UTC()
		task.DueDate = &due
	}

	return task, nil
}
