package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
)

func TestMemoryStore_Tasks(t *testing.T) {
	ctx := context.Background()
	store := New()

	task := &domain.Task{
		ID:       "task-1",
		OrgID:    "org-1",
		Title:    "Write docs",
		Status:   domain.TaskStatusTodo,
		Metadata: map[string]any{"k": "v"},
	}
	if err := store.SaveTask(ctx, task); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	got, err := store.GetTask(ctx, "org-1", "task-1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Title != "Write docs" || got.Status != domain.TaskStatusTodo {
		t.Errorf("GetTask() = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// Returned values are copies.
	got.Metadata["k"] = "changed"
	again, _ := store.GetTask(ctx, "org-1", "task-1")
	if again.Metadata["k"] != "v" {
		t.Errorf("store shares metadata with callers")
	}

	if _, err := store.GetTask(ctx, "org-2", "task-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-org GetTask() error = %v, want not found", err)
	}
	if _, err := store.GetTask(ctx, "org-1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetTask(missing) error = %v, want not found", err)
	}
}

func TestMemoryStore_ListBlocking(t *testing.T) {
	ctx := context.Background()
	store := New()

	for _, task := range []*domain.Task{
		{ID: "a", OrgID: "org-1", Status: domain.TaskStatusReview},
		{ID: "b", OrgID: "org-1", Status: domain.TaskStatusDone},
		{ID: "c", OrgID: "org-1", Status: domain.TaskStatusInProgress},
	} {
		if err := store.SaveTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	_ = store.AddDependency(ctx, &domain.TaskDependency{TaskID: "a", DependsOnID: "b", Blocking: true})
	_ = store.AddDependency(ctx, &domain.TaskDependency{TaskID: "a", DependsOnID: "c", Blocking: false})
	_ = store.AddDependency(ctx, &domain.TaskDependency{TaskID: "a", DependsOnID: "ghost", Blocking: true})

	deps, err := store.ListBlocking(ctx, "a")
	if err != nil {
		t.Fatalf("ListBlocking() error = %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("ListBlocking() returned %d deps, want 2", len(deps))
	}
	if !deps[0].Satisfied() {
		t.Errorf("dependency on done task should be satisfied: %+v", deps[0])
	}
	if deps[1].Satisfied() {
		t.Errorf("dependency on missing task should not be satisfied")
	}

	if err := store.AddDependency(ctx, &domain.TaskDependency{TaskID: "a", DependsOnID: "a"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("self dependency error = %v", err)
	}
}

func TestMemoryStore_Hooks(t *testing.T) {
	ctx := context.Background()
	store := New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hooks := []*domain.Hook{
		{ID: "h2", OrgID: "org-1", HookType: domain.HookTypePre, Enabled: true, CreatedAt: base.Add(time.Minute)},
		{ID: "h1", OrgID: "org-1", HookType: domain.HookTypePre, Enabled: true, CreatedAt: base},
		{ID: "h3", OrgID: "org-1", HookType: domain.HookTypePost, Enabled: true, CreatedAt: base},
		{ID: "h4", OrgID: "org-1", HookType: domain.HookTypePre, Enabled: false, CreatedAt: base},
		{ID: "h5", OrgID: "org-2", HookType: domain.HookTypePre, Enabled: true, CreatedAt: base},
	}
	for _, h := range hooks {
		if err := store.SaveHook(ctx, h); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListEnabled(ctx, "org-1", domain.HookTypePre)
	if err != nil {
		t.Fatalf("ListEnabled() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "h1" || got[1].ID != "h2" {
		t.Fatalf("ListEnabled() = %v", got)
	}

	count := 10
	disabled := false
	msg := "timeout"
	if err := store.RecordOutcome(ctx, "h1", domain.HookUpdate{FailureCount: &count, Enabled: &disabled, LastError: &msg}); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}
	h1, _ := store.GetHook(ctx, "h1")
	if h1.FailureCount != 10 || h1.Enabled || h1.LastError != "timeout" {
		t.Errorf("hook after RecordOutcome = %+v", h1)
	}

	if err := store.RecordOutcome(ctx, "nope", domain.HookUpdate{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("RecordOutcome(missing) error = %v", err)
	}
}

func TestMemoryStore_RecordFailure(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.SaveHook(ctx, &domain.Hook{ID: "h1", OrgID: "org-1", HookType: domain.HookTypePre, Enabled: true, FailureCount: 8}); err != nil {
		t.Fatal(err)
	}

	count, enabled, err := store.RecordFailure(ctx, "h1", "status 500", 10)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if count != 9 || !enabled {
		t.Errorf("RecordFailure() = (%d, %v), want (9, true)", count, enabled)
	}

	count, enabled, err = store.RecordFailure(ctx, "h1", "timeout", 10)
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if count != 10 || enabled {
		t.Errorf("RecordFailure() = (%d, %v), want (10, false)", count, enabled)
	}
	h1, _ := store.GetHook(ctx, "h1")
	if h1.FailureCount != 10 || h1.Enabled || h1.LastError != "timeout" {
		t.Errorf("hook after RecordFailure = %+v", h1)
	}

	if _, _, err := store.RecordFailure(ctx, "nope", "x", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("RecordFailure(missing) error = %v", err)
	}
}

func TestMemoryStore_Events(t *testing.T) {
	ctx := context.Background()
	store := New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []*domain.Event{
		{ID: "e2", OrgID: "org-1", Type: domain.EventTaskTransitioned, EntityID: "t1", CreatedAt: base.Add(2 * time.Second)},
		{ID: "e1", OrgID: "org-1", Type: domain.EventWebhookExecuted, EntityID: "h1", CreatedAt: base.Add(time.Second)},
		{ID: "e3", OrgID: "org-2", Type: domain.EventTaskTransitioned, EntityID: "t9", CreatedAt: base},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts ports.EventListOptions
		want []string
	}{
		{"org ordered", ports.EventListOptions{OrgID: "org-1"}, []string{"e1", "e2"}},
		{"by type", ports.EventListOptions{Type: domain.EventTaskTransitioned}, []string{"e3", "e2"}},
		{"by entity", ports.EventListOptions{EntityID: "h1"}, []string{"e1"}},
		{"since", ports.EventListOptions{Since: base.Add(time.Second)}, []string{"e1", "e2"}},
		{"limit", ports.EventListOptions{Limit: 1}, []string{"e3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListEvents(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListEvents() returned %d events, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("event[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}
