package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a domain event.
type EventType string

const (
	// EventTypeReportProduced is emitted once per quality report.
	EventTypeReportProduced EventType = "quality.report_produced"

	// EventTypeBatchCompleted is emitted once per completed batch.
	EventTypeBatchCompleted EventType = "quality.batch_completed"
)

// EventEnvelope wraps a domain event payload with the metadata consumers
// need for deduplication and correlation.
type EventEnvelope struct {
	// IdempotencyKey is derived from the correlation id and the event's
	// position so replays produce the same key.
	IdempotencyKey string    `json:"idempotency_key" validate:"required"`
	EventType      EventType `json:"event_type" validate:"required"`
	Version        int       `json:"version" validate:"required,min=1"`
	OccurredAt     time.Time `json:"occurred_at" validate:"required"`

	// CorrelationID ties together events emitted for the same request.
	CorrelationID string `json:"correlation_id" validate:"required"`

	Payload  json.RawMessage `json:"payload" validate:"required"`
	Producer string          `json:"producer" validate:"required"`
}

// Validate checks the envelope.
func (e *EventEnvelope) Validate() error {
	return validate.Struct(e)
}

// ReportProducedPayload summarises one report.
type ReportProducedPayload struct {
	ItemID           string     `json:"item_id" validate:"required"`
	ItemType         ItemKind   `json:"item_type" validate:"enum"`
	Index            int        `json:"index" validate:"min=0"`
	OverallScore     int        `json:"overall_score" validate:"min=0,max=100"`
	PassesQuality    bool       `json:"passes_quality"`
	FailedGates      []GateName `json:"failed_gates,omitempty"`
	ValidatorVersion string     `json:"validator_version" validate:"required"`
}

// BatchCompletedPayload summarises one batch.
type BatchCompletedPayload struct {
	Total   int            `json:"total_items" validate:"min=1,max=100"`
	Passed  int            `json:"passed" validate:"min=0"`
	Failed  int            `json:"failed" validate:"min=0"`
	Errored int            `json:"errored" validate:"min=0"`
	Mode    ValidationMode `json:"validation_type" validate:"enum"`
	Strict  bool           `json:"strict"`
}

// EventIdempotencyKey hashes the correlation id with an event-specific suffix.
func EventIdempotencyKey(correlationID, suffix string) string {
	sum := sha256.Sum256([]byte(correlationID + suffix))
	return hex.EncodeToString(sum[:])
}

// NewReportProducedEvent builds the event for report at position index.
func NewReportProducedEvent(
	correlationID string,
	index int,
	report *QualityReport,
	producer string,
	at time.Time,
) (EventEnvelope, error) {
	payload := ReportProducedPayload{
		ItemID:           report.ItemID,
		ItemType:         report.ItemType,
		Index:            index,
		OverallScore:     report.OverallScore,
		PassesQuality:    report.PassesQuality,
		FailedGates:      FailedCoreGates(report.Gates),
		ValidatorVersion: report.ValidatorVersion,
	}
	if err := validate.Struct(payload); err != nil {
		return EventEnvelope{}, fmt.Errorf("invalid report produced payload: %w", err)
	}
	return newEnvelope(EventTypeReportProduced, correlationID,
		fmt.Sprintf(":report:%d", index), payload, producer, at)
}

// NewBatchCompletedEvent builds the event for a finished batch.
func NewBatchCompletedEvent(
	correlationID string,
	result *BatchResult,
	producer string,
	at time.Time,
) (EventEnvelope, error) {
	payload := BatchCompletedPayload{
		Total:   result.Total,
		Passed:  result.Passed,
		Failed:  result.Failed,
		Errored: result.Errored,
		Mode:    result.Mode,
		Strict:  result.Strict,
	}
	if err := validate.Struct(payload); err != nil {
		return EventEnvelope{}, fmt.Errorf("invalid batch completed payload: %w", err)
	}
	return newEnvelope(EventTypeBatchCompleted, correlationID, ":batch", payload, producer, at)
}

func newEnvelope(
	eventType EventType,
	correlationID, suffix string,
	payload any,
	producer string,
	at time.Time,
) (EventEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	env := EventEnvelope{
		IdempotencyKey: EventIdempotencyKey(correlationID, suffix),
		EventType:      eventType,
		Version:        1,
		OccurredAt:     at.UTC(),
		CorrelationID:  correlationID,
		Payload:        body,
		Producer:       producer,
	}
	if err := env.Validate(); err != nil {
		return EventEnvelope{}, fmt.Errorf("invalid event envelope: %w", err)
	}
	return env, nil
}
