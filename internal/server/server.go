package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/apollosolutions/subgraph-automocking/internal/proxy"
)

// DefaultShutdownGrace is how long in-flight requests may run after shutdown
// begins before the listener is forcibly closed.
const DefaultShutdownGrace = 30 * time.Second

// requestTimeout must exceed the passthrough timeout so upstream calls are
// not cut off by the middleware first.
const requestTimeout = 35 * time.Second

// Server is the HTTP surface of the proxy.
type Server struct {
	Router *chi.Mux
	Port   int

	logger       *slog.Logger
	httpSrv      *http.Server
	shuttingDown atomic.Bool
}

// New creates a server with the standard middleware stack.
func New(port int, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "subgraph-automocking")
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

// MountOps registers the operational endpoints.
func (s *Server) MountOps(h *OpsHandler) {
	if h.Ready == nil {
		h.Ready = func() bool { return !s.shuttingDown.Load() }
	}
	s.Router.Get("/", h.Root)
	s.Router.Get("/live", h.Live)
	s.Router.Get("/ready", h.ReadyCheck)
	s.Router.Get("/health", h.Health)
	s.Router.Get("/status", h.Status)
}

// MountProxy registers the GraphQL proxy endpoint.
func (s *Server) MountProxy(router *proxy.Router) {
	s.Router.Post("/{encodedUrl}", func(w http.ResponseWriter, r *http.Request) {
		router.Handle(w, r, chi.URLParam(r, "encodedUrl"))
	})
}

// Start runs the listener until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the server not-ready, lets in-flight requests complete
// within grace, then forcibly closes the listener.
func (s *Server) Shutdown(ctx context.Context, grace time.Duration) error {
	s.shuttingDown.Store(true)
	if s.httpSrv == nil {
		return nil
	}
	if grace == 0 {
		grace = DefaultShutdownGrace
	}

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := s.httpSrv.Shutdown(graceCtx); err != nil {
		s.logger.Warn("graceful shutdown expired, closing listener",
			slog.String("error", err.Error()),
		)
		return s.httpSrv.Close()
	}
	return nil
}
