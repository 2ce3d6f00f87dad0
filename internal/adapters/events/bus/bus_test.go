package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tjfontaine/taskgate/internal/core/domain"
)

func TestBus_TopicAndWildcard(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var transitioned, all int
	b.Subscribe(domain.EventTaskTransitioned, func(ctx context.Context, n *domain.Notification) {
		transitioned++
	})
	b.Subscribe(AllTopics, func(ctx context.Context, n *domain.Notification) {
		all++
	})

	ctx := context.Background()
	b.Notify(ctx, &domain.Notification{Topic: domain.EventTaskTransitioned})
	b.Notify(ctx, &domain.Notification{Topic: domain.EventTaskCompletionRejected})

	if transitioned != 1 {
		t.Errorf("topic handler called %d times, want 1", transitioned)
	}
	if all != 2 {
		t.Errorf("wildcard handler called %d times, want 2", all)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)

	var calls int
	unsub := b.Subscribe("t", func(ctx context.Context, n *domain.Notification) { calls++ })
	b.Notify(context.Background(), &domain.Notification{Topic: "t"})
	unsub()
	b.Notify(context.Background(), &domain.Notification{Topic: "t"})

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestBus_PanickingHandlerIsolated(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var reached bool
	b.Subscribe("t", func(ctx context.Context, n *domain.Notification) { panic("boom") })
	b.Subscribe("t", func(ctx context.Context, n *domain.Notification) { reached = true })

	b.Notify(context.Background(), &domain.Notification{Topic: "t"})
	if !reached {
		t.Error("second handler not called after first panicked")
	}
}
