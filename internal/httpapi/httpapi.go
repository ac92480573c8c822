// Package httpapi serves the bot's status endpoints: liveness and readiness
// probes, Prometheus metrics, the current gateway session and the recent
// welcome history. It is read-only; nothing here changes bot behavior.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mayu/internal/gateway"
	"github.com/jkaninda/mayu/internal/notification"
	"github.com/jkaninda/mayu/internal/observability"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// ErrorBody is the JSON shape of error responses.
type ErrorBody struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON response for the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}

// WelcomesResponse is the JSON response for GET /v1/welcomes.
type WelcomesResponse struct {
	Deliveries []notification.Delivery `json:"deliveries"`
	Count      int                     `json:"count"`
}

// Config configures the status server.
type Config struct {
	ListenAddr      string
	MetricsRegistry *prometheus.Registry // nil disables /metrics.
	MetricsPath     string               // Default: "/metrics".
	HealthChecker   *observability.HealthChecker
	Metrics         *observability.MetricsCollector // Request metrics; may be nil.
	Tracer          trace.Tracer                    // May be nil.
}

// SessionSource reports the live gateway session.
type SessionSource interface {
	Status() gateway.Status
}

// HistorySource lists recent welcome deliveries, newest first.
type HistorySource interface {
	History(ctx context.Context, limit int) ([]notification.Delivery, error)
}

// Server is the okapi-backed status server.
type Server struct {
	config  Config
	session SessionSource
	history HistorySource
	logger  *slog.Logger
	okapi   *okapi.Okapi
	server  *http.Server
}

// NewServer creates the status server and registers its routes.
func NewServer(cfg Config, session SessionSource, history HistorySource, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		session: session,
		history: history,
		logger:  logger,
		okapi:   okapi.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	if s.config.Metrics != nil || s.config.Tracer != nil {
		s.okapi.Use(observability.MetricsMiddleware(s.config.Metrics, s.config.Tracer))
	}

	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)
	s.okapi.Get("/v1/session", s.handleSession)
	s.okapi.Get("/v1/welcomes", s.handleWelcomes)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.okapi
}

// Start serves until Stop is called. A clean shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("status server starting", slog.String("addr", s.config.ListenAddr))
	if err := s.okapi.StartServer(s.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("status server stopping")
	if err := s.okapi.Shutdown(s.server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleLiveness is the Kubernetes liveness probe.
func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness runs the registered checks and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}
	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

func (s *Server) handleSession(c *okapi.Context) error {
	if s.session == nil {
		return c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: "gateway client not running"})
	}
	return c.OK(s.session.Status())
}

func (s *Server) handleWelcomes(c *okapi.Context) error {
	limit := defaultHistoryLimit
	if raw := c.Request().URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			return c.JSON(http.StatusBadRequest, ErrorBody{Error: "limit must be an integer between 1 and 500"})
		}
		limit = n
	}

	resp := WelcomesResponse{Deliveries: []notification.Delivery{}}
	if s.history != nil {
		deliveries, err := s.history.History(c.Context(), limit)
		if err != nil {
			s.logger.Error("listing welcome history", slog.String("error", err.Error()))
			return c.JSON(http.StatusInternalServerError, ErrorBody{Error: "failed to list welcome history"})
		}
		if deliveries != nil {
			resp.Deliveries = deliveries
		}
	}
	resp.Count = len(resp.Deliveries)
	return c.OK(resp)
}
