// Package server provides a read-only HTTP API over the stored lineage
// graph.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/etlgraph/internal/metrics"
	"github.com/leapstack-labs/etlgraph/internal/state"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Store is the read side of the graph store.
type Store interface {
	Load(ctx context.Context) (graph.Batch, error)
	Node(ctx context.Context, id string) (graph.Node, error)
	ListRuns(ctx context.Context, limit int) ([]*state.Run, error)
}

// Config holds configuration for the API server.
type Config struct {
	Store   Store
	Metrics *metrics.Registry
	Addr    string
	Logger  *slog.Logger
	// Watch, when set, runs alongside the server until it stops.
	Watch func(ctx context.Context) error
}

// Server serves the lineage API.
type Server struct {
	store   Store
	metrics *metrics.Registry
	addr    string
	logger  *slog.Logger
	watch   func(ctx context.Context) error
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		addr:    cfg.Addr,
		logger:  logger,
		watch:   cfg.Watch,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.instrument,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/graph", s.handleGraph)
	r.Get("/summary", s.handleSummary)
	r.Get("/nodes/*", s.handleNode)
	r.Get("/impact/*", s.handleImpact)
	r.Get("/diagnostics", s.handleDiagnostics)
	r.Get("/runs", s.handleRuns)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	return r
}

// instrument counts requests by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(route, fmt.Sprint(status))
		s.logger.Debug("request",
			"method", r.Method, "route", route, "status", status, "duration", time.Since(start))
	})
}

// Serve starts the server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting API server", "addr", ln.Addr().String())

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watch != nil {
		eg.Go(func() error {
			return s.watch(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
