package render

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/screenshot-service/internal/events"
)

// fakeSurface records every call made by the renderer and cleanup.
type fakeSurface struct {
	mu sync.Mutex

	onNavigate func(ctx context.Context, s *fakeSurface, url string) error
	frames     []string
	evalErrs   map[string]error
	png        []byte
	cookies    []Cookie

	captureErr error
	cookiesErr error
	blankErr   error
	closeErr   error
	panicOnDel bool

	listeners map[int]func(any)
	nextID    int

	viewport    [2]int
	navigations []string
	evaluated   []string
	region      *Region
	captured    int
	deleted     []Cookie
	removed     int
	closed      int
	navDoneAt   time.Time
	captureAt   time.Time
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		frames:    []string{"main"},
		png:       []byte("\x89PNG"),
		listeners: make(map[int]func(any)),
	}
}

func (s *fakeSurface) SetViewport(_ context.Context, w, h int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = [2]int{w, h}
	return nil
}

func (s *fakeSurface) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.navigations = append(s.navigations, url)
	hook := s.onNavigate
	blankErr := s.blankErr
	s.mu.Unlock()

	if url == blankURL {
		return blankErr
	}
	if hook != nil {
		if err := hook(ctx, s, url); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.navDoneAt = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *fakeSurface) Listen(fn func(any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSurface) RemoveListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed++
	s.listeners = make(map[int]func(any))
}

// emit delivers ev to the current listeners outside the lock.
func (s *fakeSurface) emit(ev any) {
	s.mu.Lock()
	fns := make([]func(any), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *fakeSurface) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *fakeSurface) Frames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...), nil
}

func (s *fakeSurface) Evaluate(_ context.Context, frameID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluated = append(s.evaluated, frameID)
	return s.evalErrs[frameID]
}

func (s *fakeSurface) Capture(_ context.Context, region *Region) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured++
	s.captureAt = time.Now()
	s.region = region
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return s.png, nil
}

func (s *fakeSurface) Cookies(context.Context) ([]Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Cookie(nil), s.cookies...), s.cookiesErr
}

func (s *fakeSurface) DeleteCookies(_ context.Context, cookies []Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnDel {
		panic("delete cookies exploded")
	}
	s.deleted = append(s.deleted, cookies...)
	return nil
}

func (s *fakeSurface) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.closeErr
}

func (s *fakeSurface) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeEngine hands out a fresh fakeSurface per Acquire.
type fakeEngine struct {
	mu         sync.Mutex
	build      func() *fakeSurface
	acquireErr error
	surfaces   []*fakeSurface
	reports    []error
}

func (e *fakeEngine) Acquire(context.Context) (Surface, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acquireErr != nil {
		return nil, e.acquireErr
	}
	s := newFakeSurface()
	if e.build != nil {
		s = e.build()
	}
	e.surfaces = append(e.surfaces, s)
	return s, nil
}

func (e *fakeEngine) ReportCrash(err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reports = append(e.reports, err)
	return errors.Is(err, ErrEngineCrashed)
}

func (e *fakeEngine) Surfaces() []*fakeSurface {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeSurface(nil), e.surfaces...)
}

func (e *fakeEngine) Reports() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.reports...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func blockUntilDone(ctx context.Context, _ *fakeSurface, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
