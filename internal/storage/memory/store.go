package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
)

// Store is an in-memory implementation of ports.StorageProvider.
// Values are copied on the way in and out so callers never share state with
// the store.
type Store struct {
	mu     sync.RWMutex
	tasks  map[string]*domain.Task
	deps   []domain.TaskDependency
	hooks  map[string]*domain.Hook
	events []*domain.Event
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		tasks: make(map[string]*domain.Task),
		hooks: make(map[string]*domain.Hook),
	}
}

func (s *Store) GetTask(ctx context.Context, orgID, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok || task.OrgID != orgID {
		return nil, domain.NotFound("task", id)
	}
	return task.Clone(), nil
}

func (s *Store) SaveTask(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := task.Clone()
	if existing, ok := s.tasks[task.ID]; ok {
		if existing.OrgID != task.OrgID {
			return domain.Conflict("task " + task.ID + " belongs to another organization")
		}
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}

	s.tasks[task.ID] = stored
	return nil
}

func (s *Store) ListBlocking(ctx context.Context, taskID string) ([]domain.BlockingDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.BlockingDependency
	for _, d := range s.deps {
		if d.TaskID != taskID || !d.Blocking {
			continue
		}
		// A dependency on a missing task is never satisfied.
		var status domain.TaskStatus
		if t, ok := s.tasks[d.DependsOnID]; ok {
			status = t.Status
		}
		out = append(out, domain.BlockingDependency{
			TaskID:          d.TaskID,
			DependsOnID:     d.DependsOnID,
			DependsOnStatus: status,
		})
	}
	return out, nil
}

func (s *Store) AddDependency(ctx context.Context, dep *domain.TaskDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dep.TaskID == dep.DependsOnID {
		return domain.InvalidRequest("a task cannot depend on itself")
	}
	for i, d := range s.deps {
		if d.TaskID == dep.TaskID && d.DependsOnID == dep.DependsOnID {
			s.deps[i].Blocking = dep.Blocking
			return nil
		}
	}

	d := *dep
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.deps = append(s.deps, d)
	return nil
}

func (s *Store) ListEnabled(ctx context.Context, orgID string, hookType domain.HookType) ([]*domain.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Hook
	for _, h := range s.hooks {
		if h.OrgID == orgID && h.HookType == hookType && h.Enabled {
			out = append(out, cloneHook(h))
		}
	}
	slices.SortFunc(out, func(a, b *domain.Hook) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) RecordOutcome(ctx context.Context, hookID string, update domain.HookUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hooks[hookID]
	if !ok {
		return domain.NotFound("hook", hookID)
	}
	update.Apply(h)
	h.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RecordFailure(ctx context.Context, hookID, lastError string, threshold int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hooks[hookID]
	if !ok {
		return 0, false, domain.NotFound("hook", hookID)
	}
	h.FailureCount++
	h.LastError = lastError
	if h.FailureCount >= threshold {
		h.Enabled = false
	}
	h.UpdatedAt = time.Now().UTC()
	return h.FailureCount, h.Enabled, nil
}

func (s *Store) SaveHook(ctx context.Context, hook *domain.Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneHook(hook)
	now := time.Now().UTC()
	if existing, ok := s.hooks[hook.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.hooks[hook.ID] = stored
	return nil
}

func (s *Store) GetHook(ctx context.Context, id string) (*domain.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hooks[id]
	if !ok {
		return nil, domain.NotFound("hook", id)
	}
	return cloneHook(h), nil
}

func (s *Store) AppendEvent(ctx context.Context, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *event
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, &e)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, opts ports.EventListOptions) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Event
	for _, e := range s.events {
		if opts.OrgID != "" && e.OrgID != opts.OrgID {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if opts.EntityID != "" && e.EntityID != opts.EntityID {
			continue
		}
		if !opts.Since.IsZero() && e.CreatedAt.Before(opts.Since) {
			continue
		}
		c := *e
		out = append(out, &c)
	}

	slices.SortStableFunc(out, func(a, b *domain.Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func cloneHook(h *domain.Hook) *domain.Hook {
	c := *h
	c.Events = slices.Clone(h.Events)
	if h.LastTriggeredAt != nil {
		t := *h.LastTriggeredAt
		c.LastTriggeredAt = &t
	}
	return &c
}

var _ ports.StorageProvider = (*Store)(nil)
