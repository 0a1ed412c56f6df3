// Package events provides the render lifecycle event type, a non-blocking
// batching hub, and the sink and emitter interfaces. The renderer and engine
// supervisor emit events; the hub flushes them on a background goroutine to
// pluggable sinks such as Prometheus, Postgres, or Pub/Sub.
package events
