// Package sinks implements concrete event consumers: structured logging,
// Prometheus collectors, a render audit store, and a message publisher. Each
// sink satisfies events.Sink and tolerates repeated Consume/Close cycles.
package sinks
