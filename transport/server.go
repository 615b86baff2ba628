// Package transport serves router channels to windows over WebSocket,
// together with the namespace tree, metrics and API docs.
package transport

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/session"
)

//go:embed openapi.yaml
var openapiSpec []byte

// EventWindow is pushed to a window right after it connects; its payload
// carries the window id.
const EventWindow = "window"

// Server hands out window ids and dispatches window calls to a router.
type Server struct {
	router   *ipc.Router
	sessions *session.Store
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	origins  []string

	mu         sync.Mutex
	windows    map[int]*window
	nextWindow int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGatherer exposes g on /metrics. Without it /metrics is not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithOriginPatterns allows browser windows served from these host
// patterns to connect. Same-origin requests are always allowed.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// New creates a Server for router. Window bindings are released in the
// router's session store when windows disconnect.
func New(router *ipc.Router, opts ...Option) *Server {
	s := &Server{
		router:   router,
		sessions: router.Sessions(),
		logger:   slog.Default(),
		windows:  make(map[int]*window),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "transport")
	return s
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Get("/ipc/channels", s.handleChannels)
	r.Get("/ipc/ws", s.handleWindow)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	return r
}

// Windows returns the number of connected windows.
func (s *Server) Windows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Broadcast pushes an event to every connected window.
func (s *Server) Broadcast(ctx context.Context, event string, payload any) {
	s.mu.Lock()
	targets := make([]*window, 0, len(s.windows))
	for _, w := range s.windows {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	for _, w := range targets {
		if err := w.notify(ctx, event, payload); err != nil {
			s.logger.Debug("broadcast failed", "window", w.id, "event", event, "error", err)
		}
	}
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.NamespaceTree())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}
