// Package service is the entry point shared by the HTTP API, the CLI and the
// Temporal worker. It adds idempotency, event emission and archiving around
// the validator and the batch orchestrator.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aethelgard/qualitycheck/internal/batch"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/idempotency"
	"github.com/aethelgard/qualitycheck/internal/metrics"
	"github.com/aethelgard/qualitycheck/pkg/events"
)

// DefaultProducer is the event source name.
const DefaultProducer = "qualitycheck"

// Archive persists publishable reports.
type Archive interface {
	Persist(ctx context.Context, r *domain.QualityReport) (bool, error)
}

// Service validates items and batches.
type Service struct {
	validator    batch.ItemValidator
	orchestrator *batch.Orchestrator
	store        idempotency.Store
	sink         events.EventSink
	emitFn       func(context.Context, events.Envelope)
	archive      Archive
	metrics      *metrics.Metrics
	producer     string
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithStore enables idempotency keys backed by store.
func WithStore(store idempotency.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithEventSink emits domain events to sink.
func WithEventSink(sink events.EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithEmitter routes events through fn instead of a sink. Temporal
// activities use it to stamp workflow identity on every event.
func WithEmitter(fn func(context.Context, events.Envelope)) Option {
	return func(s *Service) { s.emitFn = fn }
}

// WithArchive persists publishable reports to a.
func WithArchive(a Archive) Option {
	return func(s *Service) { s.archive = a }
}

// WithMetrics records idempotency outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProducer sets the event source name.
func WithProducer(name string) Option {
	return func(s *Service) { s.producer = name }
}

// WithClock replaces time.Now for event timestamps and the created_at
// default.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires a Service. Without WithStore idempotency keys are still
// validated but nothing is deduplicated.
func New(v batch.ItemValidator, o *batch.Orchestrator, opts ...Option) *Service {
	s := &Service{
		validator:    v,
		orchestrator: o,
		producer:     DefaultProducer,
		now:          time.Now,
		logger:       slog.Default().With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateItem validates one item. With a non-empty idempotencyKey the first
// report produced under that key is returned for every repeat of the same
// request within the retention window; reusing the key for a different
// request fails with domain.ErrIdempotencyConflict.
func (s *Service) ValidateItem(
	ctx context.Context,
	item domain.Item,
	mode domain.ValidationMode,
	idempotencyKey string,
) (*domain.QualityReport, error) {
	if mode == "" {
		mode = domain.ValidationModeFull
	}
	compute := func(ctx context.Context) (*domain.QualityReport, error) {
		return s.validator.Validate(ctx, domain.WithCreatedAt(item, s.now()), mode)
	}

	if idempotencyKey == "" || s.store == nil {
		if idempotencyKey != "" {
			if err := idempotency.ValidateKey(idempotencyKey); err != nil {
				return nil, err
			}
		}
		report, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		s.afterItem(ctx, uuid.NewString(), report)
		return report, nil
	}

	if err := idempotency.ValidateKey(idempotencyKey); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &domain.MalformedItemError{Field: "item", Reason: "is required"}
	}
	fingerprint, err := itemFingerprint(item, mode)
	if err != nil {
		return nil, err
	}

	key := idempotency.StorageKey(idempotency.ScopeItem, idempotencyKey)
	report, outcome, err := idempotency.Do(ctx, s.store, key, fingerprint, compute)
	s.observeIdempotency(idempotency.ScopeItem, outcome, err)
	if err != nil {
		return nil, err
	}
	if outcome != idempotency.Replayed {
		s.afterItem(ctx, idempotencyKey, report)
	}
	return report, nil
}

// ValidateBatch validates req. Idempotency works as for ValidateItem using
// req.IdempotencyKey. Errors, including strict aborts, are never stored.
func (s *Service) ValidateBatch(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: batch request is required", domain.ErrInvalidRequest)
	}
	if err := req.CheckBounds(); err != nil {
		return nil, err
	}
	for i, item := range req.Items {
		if item == nil {
			return nil, fmt.Errorf("%w: items[%d] is null", domain.ErrInvalidRequest, i)
		}
	}

	compute := func(ctx context.Context) (*domain.BatchResult, error) {
		now := s.now()
		stamped := *req
		stamped.Items = make([]domain.Item, len(req.Items))
		for i, item := range req.Items {
			stamped.Items[i] = domain.WithCreatedAt(item, now)
		}
		return s.orchestrator.Run(ctx, &stamped)
	}

	key := req.IdempotencyKey
	if key == "" || s.store == nil {
		if key != "" {
			if err := idempotency.ValidateKey(key); err != nil {
				return nil, err
			}
		}
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		s.afterBatch(ctx, uuid.NewString(), result)
		return result, nil
	}

	if err := idempotency.ValidateKey(key); err != nil {
		return nil, err
	}
	fingerprint, err := batchFingerprint(req)
	if err != nil {
		return nil, err
	}

	result, outcome, err := idempotency.Do(ctx, s.store,
		idempotency.StorageKey(idempotency.ScopeBatch, key), fingerprint, compute)
	s.observeIdempotency(idempotency.ScopeBatch, outcome, err)
	if err != nil {
		return nil, err
	}
	if outcome != idempotency.Replayed {
		s.afterBatch(ctx, key, result)
	}
	return result, nil
}

// afterItem emits the report event and archives the report. Both are
// best-effort and never change the caller's result.
func (s *Service) afterItem(ctx context.Context, correlationID string, report *domain.QualityReport) {
	s.emitReport(ctx, correlationID, 0, report)
	s.persist(ctx, report)
}

func (s *Service) afterBatch(ctx context.Context, correlationID string, result *domain.BatchResult) {
	for _, res := range result.Results {
		if res.Report == nil {
			continue
		}
		s.emitReport(ctx, correlationID, res.Index, res.Report)
		s.persist(ctx, res.Report)
	}

	env, err := domain.NewBatchCompletedEvent(correlationID, result, s.producer, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build batch event", "error", err)
		return
	}
	s.emit(ctx, env)
}

func (s *Service) emitReport(ctx context.Context, correlationID string, index int, report *domain.QualityReport) {
	env, err := domain.NewReportProducedEvent(correlationID, index, report, s.producer, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build report event", "item_id", report.ItemID, "error", err)
		return
	}
	s.emit(ctx, env)
}

func (s *Service) emit(ctx context.Context, env domain.EventEnvelope) {
	switch {
	case s.emitFn != nil:
		s.emitFn(ctx, ToEnvelope(env))
	case s.sink != nil:
		events.EmitSafe(ctx, s.sink, ToEnvelope(env), s.logger)
	}
}

func (s *Service) persist(ctx context.Context, report *domain.QualityReport) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Persist(ctx, report); err != nil {
		s.logger.ErrorContext(ctx, "failed to archive report", "item_id", report.ItemID, "error", err)
	}
}

func (s *Service) observeIdempotency(scope idempotency.Scope, outcome idempotency.Outcome, err error) {
	label := "computed"
	switch {
	case errors.Is(err, domain.ErrIdempotencyConflict):
		label = "conflict"
	case outcome == idempotency.Replayed:
		label = "replayed"
	case outcome == idempotency.Unstored:
		label = "unstored"
	}
	s.metrics.ObserveIdempotency(string(scope), label)
}

// ToEnvelope converts a domain event into the transport envelope.
func ToEnvelope(e domain.EventEnvelope) events.Envelope {
	return events.Envelope{
		ID:             uuid.NewString(),
		Type:           string(e.EventType),
		Source:         e.Producer,
		Version:        fmt.Sprintf("%d.0.0", e.Version),
		Timestamp:      e.OccurredAt,
		IdempotencyKey: e.IdempotencyKey,
		CorrelationID:  e.CorrelationID,
		Payload:        e.Payload,
	}
}

func itemFingerprint(item domain.Item, mode domain.ValidationMode) (string, error) {
	body, err := domain.EncodeItem(item)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return idempotency.Fingerprint(struct {
		Item json.RawMessage       `json:"item"`
		Mode domain.ValidationMode `json:"mode"`
	}{body, mode})
}

// batchFingerprint covers the items, mode and strictness but not the key.
func batchFingerprint(req *domain.BatchRequest) (string, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.ValidationModeFull
	}
	body, err := json.Marshal(domain.BatchRequest{Items: req.Items, Mode: mode, Strict: req.Strict})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return idempotency.Fingerprint(json.RawMessage(body))
}
