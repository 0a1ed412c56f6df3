package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/screenshot-service/internal/events"
)

// Publisher pushes payloads to a topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink publishes one message per event to a fixed topic.
type PublisherSink struct {
	publisher Publisher
	topic     string
}

// NewPublisherSink constructs a PublisherSink.
func NewPublisherSink(publisher Publisher, topic string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	return &PublisherSink{publisher: publisher, topic: topic}, nil
}

// Consume publishes every event and returns the joined publish failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Stage, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements events.Sink. Publisher lifetimes are owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
