// Package api serves the validation engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aethelgard/qualitycheck/internal/api/middleware"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/metrics"
)

// DefaultRetryAfter is advertised on 503 replies.
const DefaultRetryAfter = 30 * time.Second

var errUnauthorized = fmt.Errorf("%w: invalid or missing API key", domain.ErrUnauthorized)

// Validator is the engine behind the HTTP surface.
type Validator interface {
	ValidateItem(ctx context.Context, item domain.Item, mode domain.ValidationMode, idempotencyKey string) (*domain.QualityReport, error)
	ValidateBatch(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error)
}

// ReportReader reads archived publishable reports.
type ReportReader interface {
	Get(ctx context.Context, itemID string) (*domain.QualityReport, error)
	ListPublishable(ctx context.Context, minScore, limit int) ([]*domain.QualityReport, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Config configures the HTTP surface.
type Config struct {
	APIKeys           []string
	AuthDisabled      bool
	RateLimitEnabled  bool
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
	RetryAfter        time.Duration
	AllowedOrigins    []string
	Version           string
	ValidatorVersion  string
}

// Server holds the HTTP handlers.
type Server struct {
	validator Validator
	reports   ReportReader
	metrics   *metrics.Metrics
	checks    map[string]HealthCheck
	auth      *middleware.APIKeyAuth
	limiter   *middleware.RateLimiter
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithReports serves archived reports from r.
func WithReports(r ReportReader) Option {
	return func(s *Server) { s.reports = r }
}

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithClock replaces time.Now for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer builds a Server. It fails when authentication is enabled
// without any key.
func NewServer(v Validator, cfg Config, opts ...Option) (*Server, error) {
	if v == nil {
		return nil, errors.New("api server requires a validator")
	}
	if !cfg.AuthDisabled && len(cfg.APIKeys) == 0 {
		return nil, errors.New("api server requires API keys unless auth is disabled")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		validator: v,
		checks:    make(map[string]HealthCheck),
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.auth = middleware.NewAPIKeyAuth(cfg.APIKeys, cfg.AuthDisabled, s.writeUnauthorized)
	if cfg.RateLimitEnabled {
		s.limiter = middleware.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst, s.writeRateLimited)
	}
	return s, nil
}

// RunMaintenance prunes idle rate limiters until ctx is done.
func (s *Server) RunMaintenance(ctx context.Context) {
	if s.limiter != nil {
		s.limiter.Run(ctx)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Telemetry(s.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/version", s.version)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.Post("/content/validate", s.validateItem(domain.ItemKindContent))
		r.Post("/questions/validate", s.validateItem(domain.ItemKindQuestion))
		r.Post("/batch/validate", s.validateBatch)
		r.Post("/content/batch-validate", s.validateBatch)

		r.Get("/reports", s.listReports)
		r.Get("/reports/{itemID}", s.getReport)
	})
	return r
}

func (s *Server) retryAfterSeconds() int {
	return max(1, int(s.cfg.RetryAfter.Round(time.Second)/time.Second))
}
