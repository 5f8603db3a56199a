// Package worker assembles the validation stack from configuration and
// registers its workflow and activities with a Temporal worker. The HTTP
// server and the CLI build the same stack through Build.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/aethelgard/qualitycheck/internal/archive"
	"github.com/aethelgard/qualitycheck/internal/assessor"
	"github.com/aethelgard/qualitycheck/internal/batch"
	"github.com/aethelgard/qualitycheck/internal/config"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/idempotency"
	"github.com/aethelgard/qualitycheck/internal/metrics"
	"github.com/aethelgard/qualitycheck/internal/service"
	"github.com/aethelgard/qualitycheck/internal/validation"
	"github.com/aethelgard/qualitycheck/pkg/events"
)

// Stack is every long-lived dependency of the validation service.
type Stack struct {
	Metrics      *metrics.Metrics
	Validator    *validation.Validator
	Orchestrator *batch.Orchestrator
	Store        idempotency.Store
	// Archive is nil when archiving is disabled.
	Archive *archive.Store
	Events  events.EventSink
	// Checks are the dependency probes served on /health.
	Checks map[string]func(context.Context) error

	closers []func() error
}

// BuildOption customizes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	assessor domain.Assessor
	redis    idempotency.RedisClient
	sink     events.EventSink
}

// WithAssessor uses a instead of the OpenAI assessor from the config.
func WithAssessor(a domain.Assessor) BuildOption {
	return func(o *buildOptions) { o.assessor = a }
}

// WithRedisClient uses client for the redis idempotency backend instead of
// dialing cfg.Idempotency.RedisAddr.
func WithRedisClient(client idempotency.RedisClient) BuildOption {
	return func(o *buildOptions) { o.redis = client }
}

// WithEventSink replaces the default log sink.
func WithEventSink(sink events.EventSink) BuildOption {
	return func(o *buildOptions) { o.sink = sink }
}

// Build wires the stack described by cfg. Close releases what it opened,
// also when Build fails halfway.
func Build(ctx context.Context, cfg *config.Config, opts ...BuildOption) (_ *Stack, err error) {
	if cfg == nil {
		return nil, errors.New("worker: configuration is required")
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Stack{
		Metrics: metrics.New(),
		Checks:  make(map[string]func(context.Context) error),
		Events:  o.sink,
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()
	if s.Events == nil {
		s.Events = events.NewLogEventSink(slog.Default())
	}

	a := o.assessor
	if a == nil {
		oa, err := assessor.New(cfg.Assessor)
		if err != nil {
			return nil, fmt.Errorf("failed to create assessor: %w", err)
		}
		s.Checks["assessor"] = func(context.Context) error {
			if st := oa.Breaker().State(); st == assessor.StateOpen {
				return fmt.Errorf("assessor circuit %s", st)
			}
			return nil
		}
		a = oa
	}

	s.Validator, err = validation.New(a, validation.Config{
		ItemTimeout:      cfg.Validation.ItemTimeout,
		ValidatorVersion: cfg.Validation.ValidatorVersion,
		Thresholds:       cfg.Validation.GateThresholds(),
	}, validation.WithMetrics(s.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}
	s.Orchestrator = batch.New(s.Validator,
		batch.Config{MaxConcurrency: cfg.Validation.MaxConcurrency},
		batch.WithMetrics(s.Metrics))

	if err := s.openStore(ctx, cfg.Idempotency, o.redis); err != nil {
		return nil, err
	}

	if cfg.Archive.Enabled {
		s.Archive, err = archive.Open(ctx, cfg.Archive.Path)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.Archive.Close)
		s.Checks["archive"] = s.Archive.Ping
	}
	return s, nil
}

func (s *Stack) openStore(ctx context.Context, cfg config.IdempotencyConfig, client idempotency.RedisClient) error {
	switch cfg.Backend {
	case config.BackendRedis:
		if client == nil {
			rc := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			s.closers = append(s.closers, rc.Close)
			client = rc
		}
		store := idempotency.NewRedisStore(client, cfg.TTL)
		if err := store.Ping(ctx); err != nil {
			return err
		}
		s.Store = store
		s.Checks["idempotency"] = store.Ping
	default:
		s.Store = idempotency.NewMemoryStore(cfg.TTL)
	}
	return nil
}

// NewService returns a Service over the stack. Extra options are applied
// after the defaults, so WithEmitter can take over event delivery.
func (s *Stack) NewService(extra ...service.Option) *service.Service {
	opts := []service.Option{
		service.WithStore(s.Store),
		service.WithEventSink(s.Events),
		service.WithMetrics(s.Metrics),
	}
	if s.Archive != nil {
		opts = append(opts, service.WithArchive(s.Archive))
	}
	return service.New(s.Validator, s.Orchestrator, append(opts, extra...)...)
}

// Close releases connections in reverse order of opening.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
