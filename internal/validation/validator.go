// Package validation turns one learning item into a QualityReport: it checks
// structural preconditions, asks the assessor for scores and measurements,
// evaluates the gates and derives the verdict.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/metrics"
	"github.com/aethelgard/qualitycheck/internal/telemetry"
)

// DefaultItemTimeout bounds one assessor call.
const DefaultItemTimeout = 10 * time.Second

// Config configures a Validator.
type Config struct {
	ItemTimeout      time.Duration
	ValidatorVersion string
	Thresholds       domain.Thresholds
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		ItemTimeout:      DefaultItemTimeout,
		ValidatorVersion: domain.DefaultValidatorVersion,
		Thresholds:       domain.DefaultThresholds(),
	}
}

// Validator validates single items. It holds no per-item state and is safe
// for concurrent use.
type Validator struct {
	assessor domain.Assessor
	cfg      Config
	now      func() time.Time
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithClock replaces time.Now for the validated_at stamp.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New returns a Validator calling a. Zero config fields take their defaults.
func New(a domain.Assessor, cfg Config, opts ...Option) (*Validator, error) {
	if a == nil {
		return nil, errors.New("validator requires an assessor")
	}
	def := DefaultConfig()
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}
	if cfg.ValidatorVersion == "" {
		cfg.ValidatorVersion = def.ValidatorVersion
	}
	if cfg.Thresholds.AllowedResources == nil && cfg.Thresholds.AllowedCitationSources == nil {
		cfg.Thresholds = def.Thresholds
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}

	v := &Validator{
		assessor: a,
		cfg:      cfg,
		now:      time.Now,
		tracer:   telemetry.Tracer(),
		logger:   slog.Default().With("component", "validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Precheck runs the structural checks without calling the assessor.
func (v *Validator) Precheck(item domain.Item) error {
	if item == nil {
		return &domain.MalformedItemError{Field: "item", Reason: "is required"}
	}
	return item.Validate()
}

// Validate produces a report for item. Errors are one of:
// *domain.MalformedItemError (no assessor call was made),
// *domain.AssessmentUnavailableError (assessor failed, timed out or answered
// with unusable data) or *domain.RubricInconsistencyError (a criterion score
// outside its bounds).
func (v *Validator) Validate(ctx context.Context, item domain.Item, mode domain.ValidationMode) (*domain.QualityReport, error) {
	if err := v.Precheck(item); err != nil {
		if item != nil {
			v.metrics.ObserveItemError(item.Kind())
		}
		return nil, err
	}
	if mode == "" {
		mode = domain.ValidationModeFull
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown validation mode %q", domain.ErrInvalidRequest, mode)
	}

	ctx, span := v.tracer.Start(ctx, "validation.Validate", trace.WithAttributes(
		attribute.String("qc.item_id", item.ItemID()),
		attribute.String("qc.item_type", string(item.Kind())),
		attribute.String("qc.mode", string(mode)),
	))
	defer span.End()

	report, err := v.validate(ctx, item, mode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.CodeOf(err)))
		v.metrics.ObserveItemError(item.Kind())
		v.logger.WarnContext(ctx, "item validation failed",
			"item_id", item.ItemID(), "code", domain.CodeOf(err), "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("qc.overall_score", report.OverallScore),
		attribute.Bool("qc.passes_quality", report.PassesQuality),
	)
	v.metrics.ObserveReport(report)
	v.logger.InfoContext(ctx, "item validated",
		"item_id", report.ItemID,
		"overall_score", report.OverallScore,
		"passes_quality", report.PassesQuality,
		"failed_gates", domain.FailedCoreGates(report.Gates))
	return report, nil
}

func (v *Validator) validate(ctx context.Context, item domain.Item, mode domain.ValidationMode) (*domain.QualityReport, error) {
	a, err := v.assess(ctx, item, mode)
	if err != nil {
		return nil, err
	}
	if err := a.Scores.Validate(); err != nil {
		return nil, err
	}

	gates, err := domain.EvaluateGates(gateInput(item, a), v.cfg.Thresholds)
	if err != nil {
		return nil, &domain.AssessmentUnavailableError{ItemID: item.ItemID(), Cause: err}
	}

	return domain.NewQualityReport(domain.ReportDraft{
		ItemID:           item.ItemID(),
		ItemType:         item.Kind(),
		Scores:           a.Scores,
		Gates:            gates,
		Telemetry:        a.Telemetry,
		Issues:           a.Issues,
		Strengths:        a.Strengths,
		Suggestions:      a.Suggestions,
		ValidatedAt:      v.now(),
		ValidatorVersion: v.cfg.ValidatorVersion,
	})
}

// assess calls the assessor under the per-item timeout and checks the shape
// of its answer.
func (v *Validator) assess(ctx context.Context, item domain.Item, mode domain.ValidationMode) (*domain.Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.ItemTimeout)
	defer cancel()

	start := time.Now()
	a, err := v.assessor.Assess(ctx, item, mode)
	v.metrics.ObserveAssessment(item.Kind(), time.Since(start))

	unavailable := func(cause error) error {
		return &domain.AssessmentUnavailableError{ItemID: item.ItemID(), Cause: cause}
	}
	switch {
	case err != nil:
		return nil, unavailable(err)
	case ctx.Err() != nil:
		// The assessor answered after its deadline.
		return nil, unavailable(ctx.Err())
	case a == nil:
		return nil, unavailable(fmt.Errorf("%w: empty assessment", domain.ErrInvalidAssessment))
	}
	if err := a.Validate(); err != nil {
		return nil, unavailable(err)
	}
	return a, nil
}

// gateInput combines the item's own facts with the assessor's measurements.
// A measurement the assessor left out stays missing and its gate fails.
func gateInput(item domain.Item, a *domain.Assessment) domain.GateInput {
	resources := append(append([]string(nil), item.Resources()...), a.Resources...)

	in := domain.GateInput{
		Kind:              item.Kind(),
		Measurements:      a.Measurements,
		HasExecutableCode: item.HasExecutableCode(),
		Resources:         resources,
	}
	if q, ok := item.(*domain.Question); ok {
		in.HasExplanation = q.Explanation != ""
		in.ExplanationCitations = a.ExplanationCitations
	}
	return in
}
