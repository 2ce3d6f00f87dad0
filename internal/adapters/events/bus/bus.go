// Package bus provides an in-process notifier with explicit subscriptions.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
)

// AllTopics subscribes a handler to every notification.
const AllTopics = "*"

// Handler receives a notification. Handlers run synchronously on the
// notifying goroutine and must not block for long.
type Handler func(ctx context.Context, n *domain.Notification)

type subscription struct {
	id      int
	handler Handler
}

// Bus implements ports.Notifier.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID int
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Notify delivers n to the handlers of its topic and to wildcard handlers.
// A panicking handler is logged and does not affect the others.
func (b *Bus) Notify(ctx context.Context, n *domain.Notification) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[n.Topic])+len(b.subs[AllTopics]))
	for _, s := range b.subs[n.Topic] {
		handlers = append(handlers, s.handler)
	}
	if n.Topic != AllTopics {
		for _, s := range b.subs[AllTopics] {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, n)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, n *domain.Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked",
				slog.String("topic", n.Topic),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	h(ctx, n)
}

var _ ports.Notifier = (*Bus)(nil)
