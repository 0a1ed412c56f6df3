package render

import (
	"strings"
	"sync"
)

// redirectDetector fires once when a response redirects back to the origin
// host. Matching is a substring test on the Location header.
type redirectDetector struct {
	host   string
	fired  chan struct{}
	once   sync.Once
	cancel func()
}

func watchRedirects(s Surface, originHost string) *redirectDetector {
	d := &redirectDetector{host: originHost, fired: make(chan struct{}), cancel: func() {}}
	if originHost == "" {
		return d
	}
	d.cancel = s.Listen(d.observe)
	return d
}

func (d *redirectDetector) observe(ev any) {
	resp, ok := ev.(Response)
	if !ok || resp.Location == "" {
		return
	}
	if strings.Contains(resp.Location, d.host) {
		d.once.Do(func() { close(d.fired) })
	}
}

// Fired is closed once a loop has been detected.
func (d *redirectDetector) Fired() <-chan struct{} {
	return d.fired
}

func (d *redirectDetector) stop() {
	d.cancel()
}

// crashWatcher delivers the first Crash event seen on a surface.
type crashWatcher struct {
	fired  chan error
	cancel func()
}

func watchCrash(s Surface) *crashWatcher {
	w := &crashWatcher{fired: make(chan error, 1)}
	w.cancel = s.Listen(w.observe)
	return w
}

func (w *crashWatcher) observe(ev any) {
	c, ok := ev.(Crash)
	if !ok {
		return
	}
	err := c.Err
	if err == nil {
		err = ErrEngineCrashed
	}
	select {
	case w.fired <- err:
	default:
	}
}

func (w *crashWatcher) Fired() <-chan error {
	return w.fired
}

func (w *crashWatcher) stop() {
	w.cancel()
}
