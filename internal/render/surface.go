package render

import (
	"context"
	"time"
)

// Surface is one isolated browsing context owned by a single request.
type Surface interface {
	SetViewport(ctx context.Context, width, height int) error
	// Navigate loads url and returns once the page fired its load event.
	Navigate(ctx context.Context, url string) error
	// Listen registers fn for Response and Crash events. The returned func
	// removes the registration.
	Listen(fn func(ev any)) (cancel func())
	// RemoveListeners drops every registration made through Listen.
	RemoveListeners()
	// Frames lists the IDs of the main frame and all nested frames.
	Frames(ctx context.Context) ([]string, error)
	Evaluate(ctx context.Context, frameID, script string) error
	// Capture returns a PNG of region, or of the viewport when region is nil.
	Capture(ctx context.Context, region *Region) ([]byte, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	DeleteCookies(ctx context.Context, cookies []Cookie) error
	Close(ctx context.Context) error
}

// Cookie identifies a cookie for deletion.
type Cookie struct {
	Name   string
	Domain string
	Path   string
}

// Response is delivered to listeners for every response the surface receives,
// redirects included.
type Response struct {
	URL      string
	Status   int
	Location string
}

// Crash is delivered to listeners when the surface or its engine dies.
type Crash struct {
	Err error
}

// Engine hands out surfaces on the shared engine process.
type Engine interface {
	Acquire(ctx context.Context) (Surface, error)
	// ReportCrash discards the engine generation behind err if err carries a
	// crash signature. It reports whether a reset happened.
	ReportCrash(err error) bool
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
