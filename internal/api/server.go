package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/mcphub/internal/admission"
	"github.com/mattjoyce/mcphub/internal/events"
	"github.com/mattjoyce/mcphub/internal/orchestrator"
	"github.com/mattjoyce/mcphub/internal/procmgr"
)

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks github.com/mattjoyce/mcphub/internal/api Orchestrator

// Orchestrator is the subset of the orchestrator the API calls.
type Orchestrator interface {
	Status() orchestrator.Status
	ServerStatus(name string) (procmgr.Info, error)
	ServerHealth(ctx context.Context, name string) (procmgr.Health, error)
	StartServer(ctx context.Context, name string, opts procmgr.StartOptions) (procmgr.Info, error)
	StopServer(ctx context.Context, name string, force bool) (procmgr.Info, error)
	RestartServer(ctx context.Context, name string) (procmgr.Info, error)
	SendRequest(ctx context.Context, name, method string, params map[string]any, timeout time.Duration) (json.RawMessage, error)
	StopAllServers(ctx context.Context, force bool) (orchestrator.StopAllResult, error)
	Metrics() orchestrator.Metrics
}

// Config holds API server configuration
type Config struct {
	Listen string
	// TrustProxy honours forwarding headers and X-Client-ID when keying the rate
	// limiter. Leave it off unless a proxy in front strips client-supplied values.
	TrustProxy bool
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	orch       Orchestrator
	admission  *admission.Middleware
	events     *events.Hub
	prometheus http.Handler
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server. hub and prom may be nil, which disables /events
// and /metrics/prometheus.
func New(config Config, orch Orchestrator, mw *admission.Middleware, hub *events.Hub, prom http.Handler, logger *slog.Logger) *Server {
	if mw == nil {
		mw = admission.NewMiddleware(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     config,
		orch:       orch,
		admission:  mw,
		events:     hub,
		prometheus: prom,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Tool requests may wait up to admission.MaxRequestTimeout.
		WriteTimeout: admission.MaxRequestTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.config.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/servers", func(r chi.Router) {
		r.Get("/", s.handleListServers)
		r.Post("/stop-all", s.handleStopAll)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleServerStatus)
			r.Get("/health", s.handleServerHealth)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/restart", s.handleRestart)
			r.Post("/request", s.handleRequest)
		})
	})

	r.Get("/metrics", s.handleMetrics)
	if s.prometheus != nil {
		r.Method(http.MethodGet, "/metrics/prometheus", s.prometheus)
	}
	if s.events != nil {
		r.Get("/events", s.handleEvents)
	}

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
