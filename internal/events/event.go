package events

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported event stages.
const (
	StageRenderDone   Stage = "RENDER_DONE"
	StageRenderError  Stage = "RENDER_ERROR"
	StageEngineLaunch Stage = "ENGINE_LAUNCH"
	StageEngineReset  Stage = "ENGINE_RESET"
)

// Event captures one render outcome or engine lifecycle change.
type Event struct {
	// ID identifies the render request. Engine events leave it empty.
	ID string `json:"id,omitempty"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which milestone occurred.
	Stage Stage `json:"stage"`
	// Site is the lowercase host of the rendered URL.
	Site string `json:"site,omitempty"`
	// URL is the rendered URL as requested.
	URL string `json:"url,omitempty"`
	// Status is the HTTP status handed to the caller (200 or 500).
	Status int `json:"status,omitempty"`
	// Bytes is the PNG size for successful renders.
	Bytes int64 `json:"bytes,omitempty"`
	// Dur is the render latency, or the launch latency for ENGINE_LAUNCH.
	Dur time.Duration `json:"duration_ns,omitempty"`
	// Kind is the failure classification for RENDER_ERROR events.
	Kind string `json:"kind,omitempty"`
	// Generation is the engine generation the event refers to.
	Generation uint64 `json:"generation,omitempty"`
	// Note carries low-volume context such as the error message.
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRenderDone:
		if e.ID == "" {
			return errors.New("render done requires id")
		}
	case StageRenderError:
		if e.ID == "" {
			return errors.New("render error requires id")
		}
		if e.Kind == "" {
			return errors.New("render error requires kind")
		}
	case StageEngineLaunch, StageEngineReset:
		if e.Generation == 0 {
			return errors.New("engine event requires generation")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// IsRender reports whether the event describes a render outcome.
func (e Event) IsRender() bool {
	return e.Stage == StageRenderDone || e.Stage == StageRenderError
}
