package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/screenshot-service/internal/clock/system"
	"github.com/JakeFAU/screenshot-service/internal/events"
	"github.com/JakeFAU/screenshot-service/internal/render"
)

const defaultLaunchTimeout = 30 * time.Second

var errBrowserExited = errors.New("browser exited")

// Launcher starts engine processes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running engine process.
type Browser interface {
	NewSurface(ctx context.Context) (render.Surface, error)
	// Done is closed once the process has exited or its connection is lost.
	Done() <-chan struct{}
	Close() error
}

// CrashError attributes a crash to the engine generation that produced it.
type CrashError struct {
	Generation uint64
	Err        error
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("engine generation %d crashed: %v", e.Generation, e.Err)
}

// Unwrap reports both render.ErrEngineCrashed and the cause.
func (e *CrashError) Unwrap() []error {
	return []error{render.ErrEngineCrashed, e.Err}
}

// Config configures a Supervisor.
type Config struct {
	LaunchTimeout time.Duration
	Logger        *zap.Logger
	Events        events.Emitter
	Clock         render.Clock
}

type generation struct {
	id      uint64
	browser Browser
}

func (g *generation) alive() bool {
	select {
	case <-g.browser.Done():
		return false
	default:
		return true
	}
}

// crashed reports whether err carries a crash signature for this generation.
func (g *generation) crashed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, render.ErrEngineCrashed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return !g.alive()
}

// Supervisor owns the current engine generation.
type Supervisor struct {
	launcher      Launcher
	launchTimeout time.Duration
	logger        *zap.Logger
	events        events.Emitter
	clock         render.Clock

	group    singleflight.Group
	launched atomic.Bool

	mu      sync.Mutex
	current *generation
	lastID  uint64
	closed  bool
}

// NewSupervisor constructs a Supervisor. Nothing is launched until Start or
// the first Acquire.
func NewSupervisor(launcher Launcher, cfg Config) (*Supervisor, error) {
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	s := &Supervisor{
		launcher:      launcher,
		launchTimeout: cfg.LaunchTimeout,
		logger:        cfg.Logger,
		events:        cfg.Events,
		clock:         cfg.Clock,
	}
	if s.launchTimeout <= 0 {
		s.launchTimeout = defaultLaunchTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.clock == nil {
		s.clock = system.New()
	}
	return s, nil
}

// Start launches the engine eagerly.
func (s *Supervisor) Start(ctx context.Context) error {
	_, err := s.generation(ctx)
	return err
}

// Ready reports whether an engine has been launched and the supervisor is open.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launched.Load() && !s.closed
}

// Acquire opens a surface on the current generation, launching one if needed.
// A crash while opening the surface discards the generation and retries once.
func (s *Supervisor) Acquire(ctx context.Context) (render.Surface, error) {
	for attempt := 0; ; attempt++ {
		gen, err := s.generation(ctx)
		if err != nil {
			return nil, err
		}
		surface, err := gen.browser.NewSurface(ctx)
		if err == nil {
			return newTrackedSurface(surface, gen), nil
		}
		if attempt > 0 || !gen.crashed(err) {
			return nil, fmt.Errorf("%w: open surface: %v", render.ErrEngineUnavailable, err)
		}
		s.reset(gen.id, err)
	}
}

// ReportCrash discards the generation err is attributed to. Errors without a
// generation are attributed to the current one. Reports about a generation
// that was already replaced are ignored.
func (s *Supervisor) ReportCrash(err error) bool {
	if !errors.Is(err, render.ErrEngineCrashed) {
		return false
	}
	var crash *CrashError
	if errors.As(err, &crash) {
		return s.reset(crash.Generation, err)
	}
	s.mu.Lock()
	var id uint64
	if s.current != nil {
		id = s.current.id
	}
	s.mu.Unlock()
	return s.reset(id, err)
}

// Close shuts the current engine down. Later Acquire calls fail.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	gen := s.current
	s.current = nil
	s.mu.Unlock()
	if gen == nil {
		return nil
	}
	if err := gen.browser.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	return nil
}

func (s *Supervisor) generation(ctx context.Context) (*generation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: supervisor closed", render.ErrEngineUnavailable)
	}
	if gen := s.current; gen != nil && gen.alive() {
		s.mu.Unlock()
		return gen, nil
	}
	s.mu.Unlock()

	ch := s.group.DoChan("launch", func() (any, error) {
		return s.launch()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		gen, _ := res.Val.(*generation)
		return gen, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: wait for launch: %w", render.ErrEngineUnavailable, ctx.Err())
	}
}

// launch runs inside the singleflight group, so at most one is in progress.
func (s *Supervisor) launch() (*generation, error) {
	s.mu.Lock()
	if gen := s.current; gen != nil && gen.alive() {
		s.mu.Unlock()
		return gen, nil
	}
	stale := s.current
	s.current = nil
	s.mu.Unlock()
	if stale != nil {
		s.discard(stale, errBrowserExited)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.launchTimeout)
	defer cancel()
	start := s.clock.Now()
	browser, err := s.launcher.Launch(ctx)
	if err != nil {
		s.logger.Error("engine launch failed", zap.Error(err))
		return nil, fmt.Errorf("%w: launch: %w", render.ErrEngineUnavailable, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = browser.Close()
		return nil, fmt.Errorf("%w: supervisor closed", render.ErrEngineUnavailable)
	}
	s.lastID++
	gen := &generation{id: s.lastID, browser: browser}
	s.current = gen
	s.mu.Unlock()

	s.launched.Store(true)
	elapsed := s.clock.Now().Sub(start)
	s.logger.Info("engine launched", zap.Uint64("generation", gen.id), zap.Duration("took", elapsed))
	s.events.Emit(events.Event{TS: s.clock.Now(), Stage: events.StageEngineLaunch, Generation: gen.id, Dur: elapsed})
	go s.monitor(gen)
	return gen, nil
}

// monitor resets gen as soon as its process goes away.
func (s *Supervisor) monitor(gen *generation) {
	<-gen.browser.Done()
	s.reset(gen.id, fmt.Errorf("%w: %w", render.ErrEngineCrashed, errBrowserExited))
}

// reset replaces generation id if it is still current.
func (s *Supervisor) reset(id uint64, cause error) bool {
	s.mu.Lock()
	gen := s.current
	if gen == nil || gen.id != id {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	s.mu.Unlock()

	s.discard(gen, cause)
	s.logger.Warn("engine reset", zap.Uint64("generation", id), zap.Error(cause))
	s.events.Emit(events.Event{
		TS:         s.clock.Now(),
		Stage:      events.StageEngineReset,
		Generation: id,
		Note:       cause.Error(),
	})
	return true
}

func (s *Supervisor) discard(gen *generation, cause error) {
	if err := gen.browser.Close(); err != nil {
		s.logger.Debug("close dead engine", zap.Uint64("generation", gen.id), zap.NamedError("cause", cause), zap.Error(err))
	}
}

// trackedSurface tags crash errors and events with the generation they came
// from, and raises a Crash event to listeners when the process exits.
type trackedSurface struct {
	render.Surface
	gen *generation

	mu      sync.Mutex
	cancels []func()
}

func newTrackedSurface(s render.Surface, gen *generation) *trackedSurface {
	return &trackedSurface{Surface: s, gen: gen}
}

func (t *trackedSurface) wrap(err error) error {
	if err == nil || !t.gen.crashed(err) {
		return err
	}
	var crash *CrashError
	if errors.As(err, &crash) {
		return err
	}
	return &CrashError{Generation: t.gen.id, Err: err}
}

func (t *trackedSurface) crashEvent(err error) render.Crash {
	if err == nil {
		err = render.ErrEngineCrashed
	}
	return render.Crash{Err: &CrashError{Generation: t.gen.id, Err: err}}
}

func (t *trackedSurface) Listen(fn func(ev any)) func() {
	stop := make(chan struct{})
	inner := t.Surface.Listen(func(ev any) {
		if c, ok := ev.(render.Crash); ok {
			ev = t.crashEvent(c.Err)
		}
		fn(ev)
	})
	go func() {
		select {
		case <-t.gen.browser.Done():
			fn(t.crashEvent(errBrowserExited))
		case <-stop:
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			inner()
		})
	}
	t.mu.Lock()
	t.cancels = append(t.cancels, cancel)
	t.mu.Unlock()
	return cancel
}

func (t *trackedSurface) RemoveListeners() {
	t.mu.Lock()
	cancels := t.cancels
	t.cancels = nil
	t.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	t.Surface.RemoveListeners()
}

func (t *trackedSurface) SetViewport(ctx context.Context, width, height int) error {
	return t.wrap(t.Surface.SetViewport(ctx, width, height))
}

func (t *trackedSurface) Navigate(ctx context.Context, url string) error {
	return t.wrap(t.Surface.Navigate(ctx, url))
}

func (t *trackedSurface) Frames(ctx context.Context) ([]string, error) {
	frames, err := t.Surface.Frames(ctx)
	return frames, t.wrap(err)
}

func (t *trackedSurface) Evaluate(ctx context.Context, frameID, script string) error {
	return t.wrap(t.Surface.Evaluate(ctx, frameID, script))
}

func (t *trackedSurface) Capture(ctx context.Context, region *render.Region) ([]byte, error) {
	png, err := t.Surface.Capture(ctx, region)
	return png, t.wrap(err)
}

func (t *trackedSurface) Cookies(ctx context.Context) ([]render.Cookie, error) {
	cookies, err := t.Surface.Cookies(ctx)
	return cookies, t.wrap(err)
}

func (t *trackedSurface) DeleteCookies(ctx context.Context, cookies []render.Cookie) error {
	return t.wrap(t.Surface.DeleteCookies(ctx, cookies))
}

func (t *trackedSurface) Close(ctx context.Context) error {
	t.RemoveListeners()
	return t.wrap(t.Surface.Close(ctx))
}
