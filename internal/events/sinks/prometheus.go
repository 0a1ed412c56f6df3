package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/screenshot-service/internal/events"
)

// PrometheusSink exports render outcomes and engine lifecycle counters.
type PrometheusSink struct {
	renders        *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	snapshotBytes  prometheus.Histogram
	engineLaunches prometheus.Counter
	engineResets   prometheus.Counter
	generation     prometheus.Gauge
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshot_renders_total",
			Help: "Render requests partitioned by result and failure kind.",
		}, []string{"result", "kind"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenshot_render_duration_seconds",
			Help:    "Wall time per render including teardown.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"result"}),
		snapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "screenshot_snapshot_bytes",
			Help:    "Size of PNG snapshots returned to callers.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		engineLaunches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_engine_launches_total",
			Help: "Rendering engine processes launched.",
		}),
		engineResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_engine_resets_total",
			Help: "Rendering engine generations discarded after a crash.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screenshot_engine_generation",
			Help: "Generation number of the most recently launched engine.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.renders,
		s.renderDuration,
		s.snapshotBytes,
		s.engineLaunches,
		s.engineResets,
		s.generation,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case events.StageRenderDone:
			s.renders.WithLabelValues("success", "").Inc()
			s.renderDuration.WithLabelValues("success").Observe(evt.Dur.Seconds())
			if evt.Bytes > 0 {
				s.snapshotBytes.Observe(float64(evt.Bytes))
			}
		case events.StageRenderError:
			s.renders.WithLabelValues("error", evt.Kind).Inc()
			s.renderDuration.WithLabelValues("error").Observe(evt.Dur.Seconds())
		case events.StageEngineLaunch:
			s.engineLaunches.Inc()
			s.generation.Set(float64(evt.Generation))
		case events.StageEngineReset:
			s.engineResets.Inc()
		}
	}
	return nil
}

// Close implements events.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
