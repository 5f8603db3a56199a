package service

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/aethelgard/qualitycheck/internal/batch"
	"github.com/aethelgard/qualitycheck/internal/domain"
	pkgactivity "github.com/aethelgard/qualitycheck/pkg/activity"
)

// Temporal application error types set on failed activities so workflows
// can branch on them.
const (
	ErrorTypeCallerInput = "CallerInput"
	ErrorTypeUnavailable = "AssessmentUnavailable"
	ErrorTypeConsistency = "ConsistencyDefect"
)

// Activities exposes the service to Temporal workflows.
type Activities struct {
	pkgactivity.BaseActivities
	service *Service
}

// NewActivities wraps svc. Build svc with WithEmitter(base.EmitEventSafe)
// so events carry the workflow identity.
func NewActivities(base pkgactivity.BaseActivities, svc *Service) *Activities {
	return &Activities{BaseActivities: base, service: svc}
}

// ValidateBatch runs an idempotent batch validation. Caller-input errors and
// consistency defects are non-retryable; assessor unavailability is
// retryable so the workflow's retry policy can try again later. The batch
// itself never retries an assessor.
func (a *Activities) ValidateBatch(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	wfCtx := a.GetWorkflowContext(ctx)
	if req == nil {
		return nil, nonRetryable(ErrorTypeCallerInput,
			fmt.Errorf("%w: batch request is required", domain.ErrInvalidRequest), "invalid input")
	}
	pkgactivity.SafeLog(ctx, "Starting ValidateBatch activity",
		"workflow_id", wfCtx.WorkflowID,
		"activity_id", wfCtx.ActivityID,
		"attempt", wfCtx.Attempt,
		"items", len(req.Items),
		"strict", req.Strict)

	ctx = batch.ContextWithProgress(ctx, func(done, total int) {
		a.RecordHeartbeat(ctx, fmt.Sprintf("validated %d/%d", done, total))
	})

	result, err := a.service.ValidateBatch(ctx, req)
	if err != nil {
		pkgactivity.SafeLogError(ctx, "ValidateBatch failed",
			"workflow_id", wfCtx.WorkflowID,
			"code", domain.CodeOf(err),
			"error", err)
		return nil, classify("ValidateBatch", err)
	}

	pkgactivity.SafeLog(ctx, "ValidateBatch completed",
		"workflow_id", wfCtx.WorkflowID,
		"passed", result.Passed,
		"failed", result.Failed,
		"errored", result.Errored)
	return result, nil
}

// classify converts a service error into a Temporal application error.
func classify(tag string, err error) error {
	switch {
	case domain.IsCallerError(err):
		return nonRetryable(ErrorTypeCallerInput, err, fmt.Sprintf("%s: %s", tag, domain.CodeOf(err)))
	case domain.IsRetryable(err):
		return retryable(ErrorTypeUnavailable, err, tag+": assessment unavailable")
	case domain.CodeOf(err) != domain.CodeInternal:
		return nonRetryable(ErrorTypeConsistency, err, fmt.Sprintf("%s: %s", tag, domain.CodeOf(err)))
	default:
		return retryable(ErrorTypeUnavailable, err, tag+": unexpected failure")
	}
}

// nonRetryable wraps an error as a Temporal non-retryable application error.
func nonRetryable(errType string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, errType, cause)
}

// retryable wraps an error as a retryable Temporal application error.
func retryable(errType string, cause error, msg string) error {
	return temporal.NewApplicationError(msg, errType, cause)
}
