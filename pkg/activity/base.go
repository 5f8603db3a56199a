// Package activity provides common infrastructure for Temporal activity implementations:
// workflow context extraction, context-safe logging, heartbeats and event emission.
package activity

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/aethelgard/qualitycheck/pkg/events"
)

// WorkflowContext contains metadata extracted from the Temporal activity context.
type WorkflowContext struct {
	WorkflowID string
	RunID      string
	ActivityID string
	Attempt    int32
}

// BaseActivities provides event emission and context helpers shared by
// activity types. It works both inside Temporal and in plain unit tests.
type BaseActivities struct {
	eventSink events.EventSink
}

// NewBaseActivities creates a new BaseActivities instance with the provided event sink.
// The sink can be nil when event emission is not needed.
func NewBaseActivities(sink events.EventSink) BaseActivities {
	return BaseActivities{eventSink: sink}
}

// GetWorkflowContext extracts workflow execution details from ctx. Outside an
// activity (where activity.GetInfo panics) it returns generated test ids.
func (b *BaseActivities) GetWorkflowContext(ctx context.Context) WorkflowContext {
	var wfCtx WorkflowContext

	func() {
		defer func() {
			if r := recover(); r != nil {
				wfCtx = WorkflowContext{
					WorkflowID: "local-" + uuid.NewString(),
					RunID:      "local-run",
					ActivityID: "local-activity",
					Attempt:    1,
				}
			}
		}()

		info := activity.GetInfo(ctx)
		wfCtx.WorkflowID = info.WorkflowExecution.ID
		wfCtx.RunID = info.WorkflowExecution.RunID
		wfCtx.ActivityID = info.ActivityID
		wfCtx.Attempt = info.Attempt
	}()

	return wfCtx
}

// EmitEventSafe stamps the envelope with the workflow identity and emits it
// best-effort. Failures are logged, never returned.
func (b *BaseActivities) EmitEventSafe(ctx context.Context, envelope events.Envelope) {
	if b.eventSink == nil {
		return
	}
	wfCtx := b.GetWorkflowContext(ctx)
	if envelope.WorkflowID == "" {
		envelope.WorkflowID = wfCtx.WorkflowID
		envelope.RunID = wfCtx.RunID
	}
	events.EmitSafe(ctx, b.eventSink, envelope, slog.Default().With("component", "activity"))
}

// EventSink returns the configured sink, which may be nil.
func (b *BaseActivities) EventSink() events.EventSink { return b.eventSink }

// RecordHeartbeat safely records a heartbeat in the Temporal activity context.
func (b *BaseActivities) RecordHeartbeat(ctx context.Context, details ...any) {
	RecordHeartbeat(ctx, details...)
}

// SafeLog logs through the activity logger when running inside Temporal and
// through slog otherwise.
func SafeLog(ctx context.Context, msg string, keyvals ...any) {
	defer func() {
		if recover() != nil {
			slog.InfoContext(ctx, msg, keyvals...)
		}
	}()
	activity.GetLogger(ctx).Info(msg, keyvals...)
}

// SafeLogError is SafeLog at error level.
func SafeLogError(ctx context.Context, msg string, keyvals ...any) {
	defer func() {
		if recover() != nil {
			slog.ErrorContext(ctx, msg, keyvals...)
		}
	}()
	activity.GetLogger(ctx).Error(msg, keyvals...)
}

// RecordHeartbeat records activity heartbeat details. It is a no-op outside
// an activity context.
func RecordHeartbeat(ctx context.Context, details ...any) {
	defer func() {
		_ = recover()
	}()
	activity.RecordHeartbeat(ctx, details...)
}
