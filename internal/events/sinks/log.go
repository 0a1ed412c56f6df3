package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/events"
)

// LogSink writes every event as a debug log line. Useful during development
// when no durable sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Debug("render event",
			zap.String("id", evt.ID),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
			zap.Int("status", evt.Status),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Dur),
			zap.String("kind", evt.Kind),
			zap.Uint64("generation", evt.Generation),
		)
	}
	return nil
}

// Close implements events.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
