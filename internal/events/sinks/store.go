package sinks

import (
	"context"
	"fmt"

	"github.com/JakeFAU/screenshot-service/internal/events"
)

// RenderStore persists render outcomes.
type RenderStore interface {
	RecordRenders(ctx context.Context, batch []events.Event) error
	Close()
}

// StoreSink forwards render outcomes to a RenderStore. Engine events are not
// persisted.
type StoreSink struct {
	store RenderStore
}

// NewStoreSink constructs a StoreSink for store.
func NewStoreSink(store RenderStore) *StoreSink {
	return &StoreSink{store: store}
}

// Consume filters render events out of batch and writes them in one call.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	renders := make([]events.Event, 0, len(batch))
	for _, evt := range batch {
		if evt.IsRender() {
			renders = append(renders, evt)
		}
	}
	if len(renders) == 0 {
		return nil
	}
	if err := s.store.RecordRenders(ctx, renders); err != nil {
		return fmt.Errorf("record renders: %w", err)
	}
	return nil
}

// Close releases the underlying store.
func (s *StoreSink) Close(context.Context) error {
	if s != nil && s.store != nil {
		s.store.Close()
	}
	return nil
}
