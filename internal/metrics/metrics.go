// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

const namespace = "qualitycheck"

// Item outcome label values.
const (
	OutcomePassed = "passed"
	OutcomeFailed = "failed"
	OutcomeError  = "error"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can be built without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	ItemsValidated     *prometheus.CounterVec
	OverallScore       *prometheus.HistogramVec
	GateFailures       *prometheus.CounterVec
	AssessmentDuration *prometheus.HistogramVec
	AssessorTokens     *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	Batches            *prometheus.CounterVec
	Idempotency        *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ItemsValidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_validated_total",
				Help:      "Items validated, by item type and outcome",
			},
			[]string{"item_type", "outcome"},
		),
		OverallScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "overall_score",
				Help:      "Overall rubric score of produced reports",
				Buckets:   []float64{50, 60, 70, 80, 85, 90, 95, 100},
			},
			[]string{"item_type"},
		),
		GateFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_failures_total",
				Help:      "Failed gate results, by gate",
			},
			[]string{"gate"},
		),
		AssessmentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assessment_duration_seconds",
				Help:      "Time spent waiting on the assessor",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"item_type"},
		),
		AssessorTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessor_tokens_total",
				Help:      "Tokens reported by the assessor",
			},
			[]string{"model"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Items per accepted batch",
				Buckets:   []float64{1, 5, 10, 25, 50, 100},
			},
		),
		Batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Batches processed, by strictness and outcome",
			},
			[]string{"strict", "outcome"},
		),
		Idempotency: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idempotency_total",
				Help:      "Idempotent requests, by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests, by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ItemsValidated,
		m.OverallScore,
		m.GateFailures,
		m.AssessmentDuration,
		m.AssessorTokens,
		m.BatchSize,
		m.Batches,
		m.Idempotency,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReport records a produced report.
func (m *Metrics) ObserveReport(r *domain.QualityReport) {
	if m == nil {
		return
	}
	outcome := OutcomeFailed
	if r.PassesQuality {
		outcome = OutcomePassed
	}
	m.ItemsValidated.WithLabelValues(string(r.ItemType), outcome).Inc()
	m.OverallScore.WithLabelValues(string(r.ItemType)).Observe(float64(r.OverallScore))
	for _, g := range r.Gates {
		if !g.Passed {
			m.GateFailures.WithLabelValues(string(g.Name)).Inc()
		}
	}
	if r.Telemetry.Tokens > 0 {
		m.AssessorTokens.WithLabelValues(r.Telemetry.Model).Add(float64(r.Telemetry.Tokens))
	}
}

// ObserveItemError records an item that produced no report.
func (m *Metrics) ObserveItemError(kind domain.ItemKind) {
	if m == nil {
		return
	}
	m.ItemsValidated.WithLabelValues(string(kind), OutcomeError).Inc()
}

// ObserveAssessment records assessor latency.
func (m *Metrics) ObserveAssessment(kind domain.ItemKind, d time.Duration) {
	if m == nil {
		return
	}
	m.AssessmentDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// ObserveBatch records a finished batch. outcome is "completed" or "aborted".
func (m *Metrics) ObserveBatch(size int, strict bool, outcome string) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
	m.Batches.WithLabelValues(strconv.FormatBool(strict), outcome).Inc()
}

// ObserveIdempotency records how an idempotent request was served.
func (m *Metrics) ObserveIdempotency(scope, outcome string) {
	if m == nil {
		return
	}
	m.Idempotency.WithLabelValues(scope, outcome).Inc()
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
