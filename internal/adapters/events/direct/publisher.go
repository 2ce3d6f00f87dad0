// Package direct provides an event sink that writes audit events straight to
// storage.
package direct

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
)

// Publisher implements ports.EventSink by writing directly to storage.
// This is the default implementation for single-instance deployments.
type Publisher struct {
	store ports.EventStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.EventStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	return &Publisher{store: store}, nil
}

// Emit stores an audit event, assigning an ID and timestamp when missing.
func (p *Publisher) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return fmt.Errorf("nil event")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := p.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", event.Type, err)
	}
	return nil
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}

var _ ports.EventSink = (*Publisher)(nil)
