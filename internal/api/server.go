package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenshot-service/internal/config"
	"github.com/JakeFAU/screenshot-service/internal/metrics"
	"github.com/JakeFAU/screenshot-service/internal/render"
)

// Renderer turns a parsed request into a PNG snapshot. Fail records a request
// that could not be parsed and returns the error to report.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (render.Snapshot, error)
	Fail(req render.Request, err error) error
}

// ReadinessChecker reports whether the engine has launched.
type ReadinessChecker interface {
	Ready() bool
}

const (
	requestIDHeader = "X-Request-ID"
	cacheControl    = "public,max-age=31536000"
	failurePrefix   = "Error generating screenshot.\n\n"
)

// Server wires the screenshot route and operational endpoints.
type Server struct {
	router   chi.Router
	renderer Renderer
	ready    ReadinessChecker
	defaults config.RenderConfig
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil,
// in which case /readyz always reports ready.
func NewServer(renderer Renderer, ready ReadinessChecker, defaults config.RenderConfig, logger *zap.Logger) (*Server, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaults.DefaultWidth <= 0 {
		defaults.DefaultWidth = 1024
	}
	if defaults.DefaultHeight <= 0 {
		defaults.DefaultHeight = 600
	}
	s := &Server{
		renderer: renderer,
		ready:    ready,
		defaults: defaults,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.HandleFunc("/", s.screenshot)

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "engine not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) screenshot(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r, s.defaults)
	req.ID = RequestID(r.Context())
	if err != nil {
		writeFailure(w, s.renderer.Fail(req, err))
		return
	}
	snap, err := s.renderer.Render(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(snap.PNG); err != nil {
		s.logger.Debug("snapshot write failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}

type requestIDKey struct{}

// RequestID returns the id assigned by the request id middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set(requestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				writeFailure(w, fmt.Errorf("%v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	conn, buf, err := h.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack connection: %w", err)
	}
	return conn, buf, nil
}

// writeFailure renders the plain-text failure body every screenshot error
// shares.
func writeFailure(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(failurePrefix + err.Error()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
