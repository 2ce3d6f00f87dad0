package direct

import (
	"context"
	"testing"

	"github.com/tjfontaine/taskgate/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
)

func TestNewPublisher(t *testing.T) {
	// Use real SQLite in-memory for testing
	store, err := sqlite.NewProvider(":memory:")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer store.Close()

	publisher, err := NewPublisher(store)
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	if publisher == nil {
		t.Fatal("NewPublisher returned nil")
	}
}

func TestNewPublisher_NilStorage(t *testing.T) {
	_, err := NewPublisher(nil)
	if err == nil {
		t.Error("Expected error for nil storage")
	}
}

func TestEmit_PersistsEvent(t *testing.T) {
	store, err := sqlite.NewProvider(":memory:")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer store.Close()

	publisher, _ := NewPublisher(store)
	ctx := context.Background()

	event := &domain.Event{
		OrgID:      "org-1",
		Type:       domain.EventTaskTransitioned,
		ActorID:    "user-1",
		EntityType: "task",
		EntityID:   "task-1",
		Data:       map[string]any{"from": "todo", "to": "in_progress"},
	}
	if err := publisher.Emit(ctx, event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if event.ID == "" || event.CreatedAt.IsZero() {
		t.Errorf("Emit did not fill ID/CreatedAt: %+v", event)
	}

	events, err := store.ListEvents(ctx, ports.EventListOptions{OrgID: "org-1"})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Data["to"] != "in_progress" {
		t.Errorf("Unexpected data: %v", events[0].Data)
	}
}

func TestEmit_Nil(t *testing.T) {
	store, _ := sqlite.NewProvider(":memory:")
	defer store.Close()

	publisher, _ := NewPublisher(store)
	if err := publisher.Emit(context.Background(), nil); err == nil {
		t.Error("Expected error for nil event")
	}
}
