package render

import (
	"errors"
	"fmt"
)

// Failure kinds. Errors returned by Render satisfy errors.Is against exactly
// one of the first five.
var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrRedirectLoop      = errors.New("Possible infinite redirects detected.") //nolint:staticcheck // surfaced verbatim to clients
	ErrNavigation        = errors.New("navigation failed")
	ErrEngineCrashed     = errors.New("engine crashed")
	ErrInternal          = errors.New("internal error")
	// ErrCleanup marks teardown failures. It is only ever logged.
	ErrCleanup = errors.New("cleanup failed")
)

// Error is the typed error returned by Render.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// newError wraps err with kind. Errors that are already typed pass through,
// and navigation or internal failures caused by a crash are reclassified.
func newError(kind error, op string, err error) error {
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if (kind == ErrNavigation || kind == ErrInternal) && errors.Is(err, ErrEngineCrashed) {
		kind = ErrEngineCrashed
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns a short label for err suitable for logs and metric labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRedirectLoop):
		return "redirect_loop"
	case errors.Is(err, ErrEngineCrashed):
		return "engine_crashed"
	case errors.Is(err, ErrEngineUnavailable):
		return "engine_unavailable"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	default:
		return "internal"
	}
}
