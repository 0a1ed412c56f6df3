// Package api hosts the HTTP server and middleware. Notable routes:
//   - / (any method) renders ?url= to PNG.
//   - GET /healthz and /readyz for Kubernetes probes; readyz reports 503
//     until the engine has launched.
//   - GET /metrics for Prometheus scraping.
package api
