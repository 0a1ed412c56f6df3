// Package render implements the per-request screenshot lifecycle: acquire an
// isolated surface, size the viewport, race navigation against the redirect
// loop detector and crash watcher, wait out the settle delay, pause media in
// every frame, capture the PNG, and tear the surface down on every exit path.
package render
