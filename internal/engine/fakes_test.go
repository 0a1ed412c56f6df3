package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/screenshot-service/internal/events"
	"github.com/JakeFAU/screenshot-service/internal/render"
)

type fakeLauncher struct {
	mu       sync.Mutex
	delay    time.Duration
	failures int
	build    func(n int) *fakeBrowser
	browsers []*fakeBrowser
	launches atomic.Int32
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	n := int(l.launches.Add(1))
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return nil, errLaunch
	}
	b := newFakeBrowser()
	if l.build != nil {
		b = l.build(n)
	}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) Browsers() []*fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeBrowser(nil), l.browsers...)
}

type fakeBrowser struct {
	done       chan struct{}
	once       sync.Once
	surfaceErr error
	navErr     error
	closed     atomic.Int32
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{done: make(chan struct{})}
}

func (b *fakeBrowser) NewSurface(context.Context) (render.Surface, error) {
	if b.surfaceErr != nil {
		return nil, b.surfaceErr
	}
	return &stubSurface{navErr: b.navErr}, nil
}

func (b *fakeBrowser) Done() <-chan struct{} { return b.done }

func (b *fakeBrowser) kill() {
	b.once.Do(func() { close(b.done) })
}

func (b *fakeBrowser) Close() error {
	b.closed.Add(1)
	b.kill()
	return nil
}

// stubSurface is a render.Surface that succeeds at everything but Navigate,
// which returns navErr.
type stubSurface struct {
	navErr error

	mu        sync.Mutex
	listeners map[int]func(any)
	nextID    int
}

func (s *stubSurface) SetViewport(context.Context, int, int) error { return nil }

func (s *stubSurface) Navigate(_ context.Context, url string) error {
	if url == "about:blank" {
		return nil
	}
	return s.navErr
}

func (s *stubSurface) Listen(fn func(any)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[int]func(any))
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *stubSurface) emit(ev any) {
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

func (s *stubSurface) RemoveListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = nil
}

func (s *stubSurface) Frames(context.Context) ([]string, error) { return []string{"main"}, nil }

func (s *stubSurface) Evaluate(context.Context, string, string) error { return nil }

func (s *stubSurface) Capture(context.Context, *render.Region) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

func (s *stubSurface) Cookies(context.Context) ([]render.Cookie, error) { return nil, nil }

func (s *stubSurface) DeleteCookies(context.Context, []render.Cookie) error { return nil }

func (s *stubSurface) Close(context.Context) error { return nil }

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []events.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}
