package render

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestRegion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		clip *ClipRect
		want *Region
	}{
		{name: "no clip", clip: nil, want: nil},
		{
			name: "explicit values",
			clip: &ClipRect{Left: ptr(10), Top: ptr(20), Width: ptr(100), Height: ptr(50)},
			want: &Region{X: 10, Y: 20, Width: 100, Height: 50},
		},
		{name: "empty clip", clip: &ClipRect{}, want: &Region{Width: 800, Height: 400}},
		{
			name: "zero sizes fall back to viewport",
			clip: &ClipRect{Left: ptr(3), Width: ptr(0), Height: ptr(0)},
			want: &Region{X: 3, Width: 800, Height: 400},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := Request{URL: "https://example.com", Width: 800, Height: 400, Clip: tt.clip}
			require.Equal(t, tt.want, req.Region())
		})
	}
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	valid := Request{URL: "https://example.com", Width: 1024, Height: 600}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{name: "missing url", mutate: func(r *Request) { r.URL = "" }},
		{name: "zero width", mutate: func(r *Request) { r.Width = 0 }},
		{name: "negative height", mutate: func(r *Request) { r.Height = -1 }},
		{name: "negative delay", mutate: func(r *Request) { r.SettleDelay = -time.Millisecond }},
		{name: "negative clip", mutate: func(r *Request) { r.Clip = &ClipRect{Top: ptr(-4)} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := valid
			tt.mutate(&req)
			require.Error(t, req.Validate())
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	crash := fmt.Errorf("socket: %w", ErrEngineCrashed)
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: &Error{Kind: ErrRedirectLoop, Op: "navigate"}, want: "redirect_loop"},
		{err: newError(ErrNavigation, "navigate", errors.New("refused")), want: "navigation"},
		{err: newError(ErrNavigation, "navigate", crash), want: "engine_crashed"},
		{err: newError(ErrInternal, "capture", crash), want: "engine_crashed"},
		{err: &Error{Kind: ErrEngineUnavailable, Op: "acquire surface", Err: errors.New("x")}, want: "engine_unavailable"},
		{err: errors.New("plain"), want: "internal"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestNewErrorKeepsTypedErrors(t *testing.T) {
	t.Parallel()

	inner := &Error{Kind: ErrRedirectLoop, Op: "navigate"}
	require.Same(t, inner, newError(ErrNavigation, "render", inner))

	err := newError(ErrNavigation, "navigate", errors.New("net::ERR_ABORTED"))
	require.Equal(t, "navigation failed: navigate: net::ERR_ABORTED", err.Error())
}
