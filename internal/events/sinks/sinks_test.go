package sinks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/events"
	"github.com/JakeFAU/screenshot-service/internal/publisher/memory"
)

func sampleBatch() []events.Event {
	now := time.Now()
	return []events.Event{
		{TS: now, Stage: events.StageEngineLaunch, Generation: 1, Dur: time.Second},
		{
			ID:     "r1",
			TS:     now,
			Stage:  events.StageRenderDone,
			Site:   "example.com",
			URL:    "https://example.com",
			Status: 200,
			Bytes:  2048,
			Dur:    300 * time.Millisecond,
		},
		{
			ID:     "r2",
			TS:     now,
			Stage:  events.StageRenderError,
			Site:   "loop.test",
			Status: 500,
			Kind:   "redirect_loop",
			Dur:    50 * time.Millisecond,
		},
		{TS: now, Stage: events.StageEngineReset, Generation: 1},
	}
}

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.renders.WithLabelValues("success", "")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.renders.WithLabelValues("error", "redirect_loop")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.engineLaunches), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.engineResets), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.generation), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.renderDuration, "screenshot_render_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.snapshotBytes, "screenshot_snapshot_bytes"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

// TestStoreSinkPersistsRenderEvents ensures only render outcomes reach the store.
func TestStoreSinkPersistsRenderEvents(t *testing.T) {
	t.Parallel()

	store := &fakeRenderStore{}
	sink := NewStoreSink(store)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.Len(t, store.recorded, 2)
	require.Equal(t, "r1", store.recorded[0].ID)
	require.Equal(t, "r2", store.recorded[1].ID)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()[:1]))
	require.Len(t, store.recorded, 2, "engine-only batches are skipped")

	require.NoError(t, sink.Close(context.Background()))
	require.True(t, store.closed)
}

func TestStoreSinkSurfacesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeRenderStore{fail: true})
	err := sink.Consume(context.Background(), sampleBatch())
	require.ErrorContains(t, err, "record renders")
}

func TestPublisherSinkPublishesEveryEvent(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := NewPublisherSink(pub, "renders")
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	msgs := pub.Messages()
	require.Len(t, msgs, 4)
	for _, msg := range msgs {
		require.Equal(t, "renders", msg.Topic)
	}
	evt, ok := msgs[1].Payload.(events.Event)
	require.True(t, ok)
	require.Equal(t, "r1", evt.ID)
}

func TestPublisherSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	sink, err := NewPublisherSink(failingPublisher{}, "renders")
	require.NoError(t, err)
	err = sink.Consume(context.Background(), sampleBatch()[:2])
	require.ErrorContains(t, err, "publish ENGINE_LAUNCH")
	require.ErrorContains(t, err, "publish RENDER_DONE")
}

func TestNewPublisherSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPublisherSink(nil, "renders")
	require.Error(t, err)
	_, err = NewPublisherSink(memory.New(), "")
	require.Error(t, err)
}

func TestLogSinkConsumes(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(zap.NewNop())
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.NoError(t, NewLogSink(nil).Close(context.Background()))
}

type fakeRenderStore struct {
	mu       sync.Mutex
	fail     bool
	closed   bool
	recorded []events.Event
}

func (f *fakeRenderStore) RecordRenders(_ context.Context, batch []events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("db down")
	}
	f.recorded = append(f.recorded, batch...)
	return nil
}

func (f *fakeRenderStore) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("unavailable")
}
