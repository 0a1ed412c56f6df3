// Package engine supervises the single shared headless Chrome process. It
// launches the process lazily and single-flight, hands out one tab per render,
// and replaces the process when a crash is reported against it.
package engine
