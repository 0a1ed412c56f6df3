package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/render"
)

const isolatedWorldName = "screenshot"

// ChromeConfig configures how Chrome is started.
type ChromeConfig struct {
	// ExecPath overrides the Chrome binary. Empty lets chromedp search PATH.
	ExecPath string
	// ExtraFlags are appended as "name" or "name=value", with or without a
	// leading "--".
	ExtraFlags []string
	Logger     *zap.Logger
}

// ChromeLauncher starts headless Chrome through a chromedp exec allocator.
type ChromeLauncher struct {
	cfg    ChromeConfig
	logger *zap.Logger
}

// NewChromeLauncher constructs a ChromeLauncher.
func NewChromeLauncher(cfg ChromeConfig) *ChromeLauncher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.DisableGPU,
		chromedp.Flag("js-flags", "--max_old_space_size=500"),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	for _, raw := range l.cfg.ExtraFlags {
		if name, value, ok := parseFlag(raw); ok {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	return opts
}

// parseFlag splits "--name=value" into its parts. A bare name is a boolean
// switch.
func parseFlag(raw string) (string, any, bool) {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	if raw == "" {
		return "", nil, false
	}
	if name, value, ok := strings.Cut(raw, "="); ok {
		return name, value, name != ""
	}
	return raw, true, true
}

// Launch starts Chrome and waits until the browser target is reachable or ctx
// expires.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	sugar := l.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)

	if err := allocate(ctx, browserCtx, browserCancel); err != nil {
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	b := &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		done:        make(chan struct{}),
	}
	go b.watch()
	return b, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
}

// watch closes done when the browser context ends or the websocket drops.
func (b *chromeBrowser) watch() {
	defer close(b.done)
	var lost <-chan struct{}
	if c := chromedp.FromContext(b.ctx); c != nil && c.Browser != nil {
		lost = c.Browser.LostConnection
	}
	select {
	case <-b.ctx.Done():
	case <-lost:
	}
}

func (b *chromeBrowser) Done() <-chan struct{} {
	return b.done
}

func (b *chromeBrowser) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(b.ctx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("cancel browser: %w", cerr)
		}
		b.cancel()
		b.allocCancel()
	})
	return err
}

func (b *chromeBrowser) NewSurface(ctx context.Context) (render.Surface, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	s := &chromeSurface{ctx: tabCtx, cancel: cancel, listeners: make(map[int]context.CancelFunc)}
	if err := allocate(ctx, tabCtx, cancel, network.Enable(), inspector.Enable()); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return s, nil
}

// allocate runs the first actions on a chromedp context. chromedp binds the
// lifetime of the allocated browser or tab to the context of the first Run,
// so it must be target itself; ctx only bounds how long we wait. On failure
// target is cancelled.
func allocate(ctx, target context.Context, cancel context.CancelFunc, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(target, actions...)
	}()
	select {
	case err := <-done:
		if err != nil {
			cancel()
		}
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// chromeSurface is one Chrome tab.
type chromeSurface struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[int]context.CancelFunc
	nextID    int
}

// run executes actions on the tab, bounded by ctx. A failure while the tab
// itself is gone is reported as a crash.
func (s *chromeSurface) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", render.ErrEngineCrashed, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

func (s *chromeSurface) SetViewport(ctx context.Context, width, height int) error {
	return s.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, false))
}

func (s *chromeSurface) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSurface) Listen(fn func(ev any)) func() {
	lctx, lcancel := context.WithCancel(s.ctx)
	chromedp.ListenTarget(lctx, func(ev any) {
		if translated, ok := translateEvent(ev); ok {
			fn(translated)
		}
	})

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = lcancel
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
		lcancel()
	}
}

func (s *chromeSurface) RemoveListeners() {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = make(map[int]context.CancelFunc)
	s.mu.Unlock()
	for _, cancel := range listeners {
		cancel()
	}
}

func (s *chromeSurface) Frames(ctx context.Context) ([]string, error) {
	var tree *page.FrameTree
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get frame tree: %w", err)
	}
	return flattenFrames(tree), nil
}

// Evaluate runs script in an isolated world of frameID so page globals cannot
// interfere with it.
func (s *chromeSurface) Evaluate(ctx context.Context, frameID, script string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		world, err := page.CreateIsolatedWorld(cdp.FrameID(frameID)).WithWorldName(isolatedWorldName).Do(ctx)
		if err != nil {
			return fmt.Errorf("create isolated world: %w", err)
		}
		_, exception, err := cdpruntime.Evaluate(script).WithContextID(world).Do(ctx)
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		if exception != nil {
			return fmt.Errorf("evaluate: %s", exception.Text)
		}
		return nil
	}))
}

func (s *chromeSurface) Capture(ctx context.Context, region *render.Region) ([]byte, error) {
	capture := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
	if vp := toViewport(region); vp != nil {
		capture = capture.WithClip(vp)
	}
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = capture.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromeSurface) Cookies(ctx context.Context) ([]render.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	out := make([]render.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, render.Cookie{Name: c.Name, Domain: c.Domain, Path: c.Path})
	}
	return out, nil
}

func (s *chromeSurface) DeleteCookies(ctx context.Context, cookies []render.Cookie) error {
	actions := make([]chromedp.Action, 0, len(cookies))
	for _, c := range cookies {
		actions = append(actions, network.DeleteCookies(c.Name).WithDomain(c.Domain).WithPath(c.Path))
	}
	if err := s.run(ctx, actions...); err != nil {
		return fmt.Errorf("delete cookies: %w", err)
	}
	return nil
}

// Close closes the tab, giving up when ctx expires.
func (s *chromeSurface) Close(ctx context.Context) error {
	s.RemoveListeners()
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(s.ctx)
	}()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close tab: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("close tab: %w", ctx.Err())
	}
}

// translateEvent maps CDP events onto the render event types. Redirect
// responses only show up on the follow-up request.
func translateEvent(ev any) (any, bool) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil {
			return nil, false
		}
		return toResponse(e.Response), true
	case *network.EventRequestWillBeSent:
		if e.RedirectResponse == nil {
			return nil, false
		}
		return toResponse(e.RedirectResponse), true
	case *inspector.EventTargetCrashed:
		return render.Crash{Err: fmt.Errorf("%w: target crashed", render.ErrEngineCrashed)}, true
	default:
		return nil, false
	}
}

func toResponse(resp *network.Response) render.Response {
	return render.Response{
		URL:      resp.URL,
		Status:   int(resp.Status),
		Location: headerValue(resp.Headers, "Location"),
	}
}

func headerValue(headers network.Headers, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func flattenFrames(tree *page.FrameTree) []string {
	if tree == nil {
		return nil
	}
	var ids []string
	if tree.Frame != nil {
		ids = append(ids, string(tree.Frame.ID))
	}
	for _, child := range tree.ChildFrames {
		ids = append(ids, flattenFrames(child)...)
	}
	return ids
}

func toViewport(region *render.Region) *page.Viewport {
	if region == nil {
		return nil
	}
	return &page.Viewport{X: region.X, Y: region.Y, Width: region.Width, Height: region.Height, Scale: 1}
}

// forwardCancel cancels cancel when parent is done. The returned func stops
// forwarding.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
