package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTask_Clone(t *testing.T) {
	due := time.Now()
	orig := &Task{
		ID:       "t-1",
		Status:   TaskStatusReview,
		DueDate:  &due,
		Metadata: map[string]any{MetaRejectionCount: 1},
	}

	c := orig.Clone()
	c.Status = TaskStatusDone
	c.Metadata[MetaRejectionCount] = 2
	*c.DueDate = due.Add(time.Hour)

	if orig.Status != TaskStatusReview {
		t.Errorf("clone mutated status")
	}
	if orig.Metadata[MetaRejectionCount] != 1 {
		t.Errorf("clone mutated metadata")
	}
	if !orig.DueDate.Equal(due) {
		t.Errorf("clone mutated due date")
	}
}

func TestTask_RejectionCount(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want int
	}{
		{"absent", nil, 0},
		{"int", map[string]any{MetaRejectionCount: 2}, 2},
		{"int64", map[string]any{MetaRejectionCount: int64(4)}, 4},
		{"float64", map[string]any{MetaRejectionCount: float64(3)}, 3},
		{"json number", map[string]any{MetaRejectionCount: json.Number("5")}, 5},
		{"garbage", map[string]any{MetaRejectionCount: "many"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{Metadata: tt.meta}
			if got := task.RejectionCount(); got != tt.want {
				t.Errorf("RejectionCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTask_RejectedBy_AfterJSONRoundTrip(t *testing.T) {
	task := &Task{Metadata: map[string]any{MetaRejectedBy: []string{"ci"}}}
	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Task
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := decoded.RejectedBy()
	if len(got) != 1 || got[0] != "ci" {
		t.Errorf("RejectedBy() = %v", got)
	}
}

func TestTaskStatus_Valid(t *testing.T) {
	for _, s := range TaskStatuses() {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if TaskStatus("archived").Valid() {
		t.Error("unknown status reported valid")
	}
}
