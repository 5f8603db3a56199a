// Package events provides the generic event infrastructure for domain event emission.
// It defines the Envelope type for wrapping domain events with consistent metadata,
// the EventSink interface for event storage/transmission, and a best-effort
// emission helper shared by the HTTP service and Temporal activities.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Envelope wraps domain events with consistent metadata for reliable event processing.
//
// The envelope pattern enables:
//   - Schema evolution through versioning
//   - Event deduplication via idempotency keys
//   - Correlation of all events emitted for one request.
type Envelope struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event for routing and processing.
	// Examples: "quality.report_produced", "quality.batch_completed"
	Type string `json:"type"`

	// Source identifies the component that emitted this event.
	Source string `json:"source"`

	// Version enables schema evolution. Follows semantic versioning.
	Version string `json:"version"`

	Timestamp time.Time `json:"timestamp"`

	// IdempotencyKey ensures exactly-once processing during retries.
	IdempotencyKey string `json:"idempotency_key"`

	// CorrelationID groups events belonging to one validation request.
	CorrelationID string `json:"correlation_id"`

	// WorkflowID and RunID are set when the event is emitted from a
	// Temporal activity.
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`

	// Payload contains the domain-specific event data as JSON.
	Payload json.RawMessage `json:"payload"`
}

// EventSink defines the interface for emitting events to downstream consumers.
// Implementations could include database outbox patterns, message queues,
// or simple log outputs.
type EventSink interface {
	// Append adds an event to the sink with best-effort delivery.
	// Implementations should treat duplicate idempotency keys as no-ops.
	//
	// Callers must not fail their primary operation due to sink failures.
	Append(ctx context.Context, envelope Envelope) error
}

// NoOpEventSink is a null implementation of EventSink for testing or when events are disabled.
type NoOpEventSink struct{}

// Append implements EventSink.Append with no-op behavior.
func (n *NoOpEventSink) Append(_ context.Context, _ Envelope) error {
	return nil
}

// NewNoOpEventSink creates a new no-op event sink.
func NewNoOpEventSink() EventSink {
	return &NoOpEventSink{}
}

// LogEventSink writes every event to a structured logger.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink returns a sink that logs events at info level.
func NewLogEventSink(logger *slog.Logger) *LogEventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger.With("component", "events")}
}

// Append implements EventSink.
func (l *LogEventSink) Append(ctx context.Context, e Envelope) error {
	l.logger.InfoContext(ctx, "event",
		"type", e.Type,
		"source", e.Source,
		"idempotency_key", e.IdempotencyKey,
		"correlation_id", e.CorrelationID,
		"payload", string(e.Payload))
	return nil
}

// Emission retry parameters for EmitSafe.
const (
	emitMaxAttempts = 2
	emitRetryDelay  = 200 * time.Millisecond
)

// EmitSafe appends the envelope with one retry and never returns an error.
// A nil sink is a no-op. Failures are logged on logger.
func EmitSafe(ctx context.Context, sink EventSink, envelope Envelope, logger *slog.Logger) {
	if sink == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt < emitMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(emitRetryDelay):
			case <-ctx.Done():
				logger.WarnContext(ctx, "event emission cancelled", "event_type", envelope.Type)
				return
			}
		}

		if err := sink.Append(ctx, envelope); err != nil {
			lastErr = err
			continue
		}
		return
	}

	logger.ErrorContext(ctx, "failed to emit event",
		"event_type", envelope.Type,
		"attempts", emitMaxAttempts,
		"error", lastErr)
}
