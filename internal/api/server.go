// Package api exposes the optimizer and benchmark suite over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/FairForge/requestopt/internal/benchmark"
	"github.com/FairForge/requestopt/internal/config"
	"github.com/FairForge/requestopt/internal/logging"
	"github.com/FairForge/requestopt/internal/optimizer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const version = "0.1.0"

// Server is the admin HTTP server
type Server struct {
	config     config.ServerConfig
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	optimizer  *optimizer.Optimizer
	suite      *benchmark.Suite
	gatherer   prometheus.Gatherer
	limiter    *RateLimiter
	auth       *TokenAuth
	startTime  time.Time
}

// NewServer wires routes for opt and suite. gatherer backs /metrics and may
// be nil to use the default registry.
func NewServer(cfg config.ServerConfig, opt *optimizer.Optimizer, suite *benchmark.Suite, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		config:    cfg,
		logger:    logger.Named("api"),
		router:    chi.NewRouter(),
		optimizer: opt,
		suite:     suite,
		gatherer:  gatherer,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.Burst),
		auth:      NewTokenAuth(cfg.JWTSecret),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Use(s.limiter.Middleware)
		s.registerOptimizerRoutes(r)
		s.registerBenchmarkRoutes(r)
	})
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", zap.String("addr", s.config.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.optimizer.IsRunning() {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            status,
		"version":           version,
		"uptime":            time.Since(s.startTime).Seconds(),
		"optimizer_running": s.optimizer.IsRunning(),
		"benchmark_running": s.suite.IsRunning(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"version": version,
		"go":      runtime.Version(),
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))

		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.FromContext(ctx, s.logger).Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
