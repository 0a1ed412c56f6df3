package render

import (
	"errors"
	"time"
)

// ClipRect is the optional capture rectangle supplied by the caller. Every
// field may be omitted.
type ClipRect struct {
	Left   *float64 `json:"left,omitempty"`
	Top    *float64 `json:"top,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// Region is a resolved capture rectangle in CSS pixels.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Request describes one render. It is not modified after parsing.
type Request struct {
	// ID correlates logs and events. A random ID is assigned when empty.
	ID          string
	URL         string
	Width       int
	Height      int
	SettleDelay time.Duration
	Clip        *ClipRect
	// OriginHost is the host the request arrived on. Redirects whose Location
	// contains it are treated as loops. Empty disables detection.
	OriginHost string
}

// Validate checks the invariants Render relies on.
func (r Request) Validate() error {
	if r.URL == "" {
		return errors.New("url is required")
	}
	if r.Width <= 0 || r.Height <= 0 {
		return errors.New("viewport width and height must be > 0")
	}
	if r.SettleDelay < 0 {
		return errors.New("delay must be >= 0")
	}
	if r.Clip != nil {
		for _, v := range []*float64{r.Clip.Left, r.Clip.Top, r.Clip.Width, r.Clip.Height} {
			if v != nil && *v < 0 {
				return errors.New("clipRect values must be >= 0")
			}
		}
	}
	return nil
}

// Region resolves the capture rectangle. It returns nil when no clip was
// supplied, meaning the visible viewport. Missing or zero offsets become 0 and
// missing or zero sizes become the viewport size.
func (r Request) Region() *Region {
	if r.Clip == nil {
		return nil
	}
	return &Region{
		X:      orDefault(r.Clip.Left, 0),
		Y:      orDefault(r.Clip.Top, 0),
		Width:  orDefault(r.Clip.Width, float64(r.Width)),
		Height: orDefault(r.Clip.Height, float64(r.Height)),
	}
}

func orDefault(v *float64, def float64) float64 {
	if v == nil || *v == 0 {
		return def
	}
	return *v
}

// Snapshot is the PNG produced by a successful render.
type Snapshot struct {
	PNG    []byte
	Width  int
	Height int
}
