package render

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/screenshot-service/internal/clock/system"
	"github.com/JakeFAU/screenshot-service/internal/events"
	"github.com/JakeFAU/screenshot-service/internal/metrics"
)

const (
	defaultCleanupTimeout = time.Second

	pauseMediaScript = `document.querySelectorAll("video, audio").forEach(function (m) {
	if (!m) return;
	if (m.pause) m.pause();
	m.preload = "none";
});`
)

// Config wires the collaborators of a Renderer.
//   - NavigationTimeout bounds the load wait. Zero means unbounded.
//   - CleanupTimeout bounds each teardown step (default 1s).
//   - MaxSurfaces caps concurrently open surfaces. Zero means unbounded.
type Config struct {
	Logger            *zap.Logger
	Events            events.Emitter
	Clock             Clock
	NavigationTimeout time.Duration
	CleanupTimeout    time.Duration
	MaxSurfaces       int64
}

// Renderer turns Requests into Snapshots on surfaces handed out by an Engine.
type Renderer struct {
	engine     Engine
	logger     *zap.Logger
	events     events.Emitter
	clock      Clock
	navTimeout time.Duration
	cleanupTO  time.Duration
	sem        *semaphore.Weighted
}

// NewRenderer constructs a Renderer.
func NewRenderer(engine Engine, cfg Config) (*Renderer, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.NavigationTimeout < 0 {
		return nil, errors.New("navigation timeout must be >= 0")
	}
	r := &Renderer{
		engine:     engine,
		logger:     cfg.Logger,
		events:     cfg.Events,
		clock:      cfg.Clock,
		navTimeout: cfg.NavigationTimeout,
		cleanupTO:  cfg.CleanupTimeout,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.events == nil {
		r.events = events.Nop{}
	}
	if r.clock == nil {
		r.clock = system.New()
	}
	if r.cleanupTO <= 0 {
		r.cleanupTO = defaultCleanupTimeout
	}
	if cfg.MaxSurfaces > 0 {
		r.sem = semaphore.NewWeighted(cfg.MaxSurfaces)
	}
	return r, nil
}

// Render executes one request end to end. Failures are returned as *Error.
// A crash failure also resets the engine via Engine.ReportCrash.
func (r *Renderer) Render(ctx context.Context, req Request) (Snapshot, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := r.clock.Now()
	snap, err := r.render(ctx, req)
	if err != nil && errors.Is(err, ErrEngineCrashed) {
		if r.engine.ReportCrash(err) {
			r.logger.Warn("engine reset after crash", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	r.finish(req, r.clock.Now().Sub(start), snap, err)
	return snap, err
}

// Fail records a request rejected before rendering began, with the same log
// line and event as a failed Render. It returns err typed as ErrInternal.
func (r *Renderer) Fail(req Request, err error) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	err = newError(ErrInternal, "parse request", err)
	r.finish(req, 0, Snapshot{}, err)
	return err
}

func (r *Renderer) render(ctx context.Context, req Request) (Snapshot, error) {
	if err := req.Validate(); err != nil {
		return Snapshot{}, newError(ErrInternal, "validate", err)
	}

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return Snapshot{}, newError(ErrInternal, "acquire slot", err)
	}
	defer release()

	surface, err := r.engine.Acquire(ctx)
	if err != nil {
		return Snapshot{}, &Error{Kind: ErrEngineUnavailable, Op: "acquire surface", Err: err}
	}
	metrics.IncActiveSurfaces()
	logger := r.logger.With(zap.String("request_id", req.ID))
	teardown := newCleanup(surface, r.cleanupTO, logger, metrics.DecActiveSurfaces)
	defer teardown.run(ctx)

	if err := surface.SetViewport(ctx, req.Width, req.Height); err != nil {
		return Snapshot{}, newError(ErrInternal, "set viewport", err)
	}
	if err := r.navigate(ctx, surface, req); err != nil {
		return Snapshot{}, err
	}
	if err := settle(ctx, req.SettleDelay); err != nil {
		return Snapshot{}, newError(ErrInternal, "settle", err)
	}
	r.pauseMedia(ctx, surface, logger)

	region := req.Region()
	png, err := surface.Capture(ctx, region)
	if err != nil {
		return Snapshot{}, newError(ErrInternal, "capture", err)
	}
	snap := Snapshot{PNG: png, Width: req.Width, Height: req.Height}
	if region != nil {
		snap.Width, snap.Height = int(region.Width), int(region.Height)
	}
	return snap, nil
}

func (r *Renderer) acquireSlot(ctx context.Context) (func(), error) {
	if r.sem == nil {
		return func() {}, nil
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { r.sem.Release(1) }, nil
}

// navigate races the page load against the redirect detector and the crash
// watcher. The losing navigation is cancelled and awaited before returning.
func (r *Renderer) navigate(ctx context.Context, surface Surface, req Request) error {
	if r.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.navTimeout)
		defer cancel()
	}
	navCtx, stop := context.WithCancel(ctx)
	defer stop()

	redirects := watchRedirects(surface, req.OriginHost)
	defer redirects.stop()
	crashes := watchCrash(surface)
	defer crashes.stop()

	done := make(chan error, 1)
	go func() {
		done <- surface.Navigate(navCtx, req.URL)
	}()

	select {
	case err := <-done:
		if err != nil {
			return newError(ErrNavigation, "navigate", err)
		}
		return nil
	case <-redirects.Fired():
		stop()
		<-done
		return &Error{Kind: ErrRedirectLoop, Op: "navigate"}
	case err := <-crashes.Fired():
		stop()
		<-done
		return newError(ErrEngineCrashed, "navigate", err)
	}
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pauseMedia stops audio and video in every frame. Failures are per frame and
// never fail the request.
func (r *Renderer) pauseMedia(ctx context.Context, surface Surface, logger *zap.Logger) {
	frames, err := surface.Frames(ctx)
	if err != nil {
		logger.Debug("list frames failed", zap.Error(err))
		return
	}
	var wg sync.WaitGroup
	for _, frame := range frames {
		wg.Add(1)
		go func(frameID string) {
			defer wg.Done()
			if err := surface.Evaluate(ctx, frameID, pauseMediaScript); err != nil {
				logger.Debug("pause media failed", zap.String("frame", frameID), zap.Error(err))
			}
		}(frame)
	}
	wg.Wait()
}

func (r *Renderer) finish(req Request, elapsed time.Duration, snap Snapshot, err error) {
	region := req.Region()
	fields := []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("url", req.URL),
		zap.Int64("timing", elapsed.Milliseconds()),
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.Int64("delay", req.SettleDelay.Milliseconds()),
		zap.String("clip", clipString(region)),
	}
	evt := events.Event{
		ID:   req.ID,
		TS:   r.clock.Now(),
		Site: metrics.SanitizeSite(req.URL),
		URL:  req.URL,
		Dur:  elapsed,
	}
	if err != nil {
		fields = append(fields, zap.Int("status", 500), zap.String("error", err.Error()))
		r.logger.Warn("screenshot failed", fields...)
		evt.Stage = events.StageRenderError
		evt.Status = 500
		evt.Kind = KindOf(err)
		evt.Note = err.Error()
	} else {
		fields = append(fields, zap.Int("status", 200), zap.Int("size", len(snap.PNG)))
		r.logger.Info("screenshot rendered", fields...)
		evt.Stage = events.StageRenderDone
		evt.Status = 200
		evt.Bytes = int64(len(snap.PNG))
	}
	r.events.Emit(evt)
}

func clipString(region *Region) string {
	if region == nil {
		return "none"
	}
	raw, err := json.Marshal(region)
	if err != nil {
		return "none"
	}
	return string(raw)
}
