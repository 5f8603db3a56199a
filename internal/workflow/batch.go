package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/idempotency"
	"github.com/aethelgard/qualitycheck/internal/service"
)

// Activity timing and retry settings.
const (
	BatchStartToCloseTimeout = 15 * time.Minute
	BatchHeartbeatTimeout    = time.Minute
	RetryInitialInterval     = 5 * time.Second
	RetryMaximumInterval     = 2 * time.Minute
	RetryMaximumAttempts     = 5
)

// ErrorTypeValidation marks requests rejected before any activity ran.
const ErrorTypeValidation = "Validation"

// BatchValidationWorkflow validates a batch durably. The bounds check runs
// in the workflow so oversized or empty batches fail without scheduling an
// activity. Assessor unavailability is retried by the activity retry
// policy; caller-input errors and consistency defects are not. Requests
// without an idempotency key get one derived from the workflow id, so a
// retried activity returns the stored result of an earlier attempt that
// completed after its heartbeat timed out.
func BatchValidationWorkflow(ctx workflow.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "batch-validation.v", workflow.DefaultVersion, currentVersion)

	if req == nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid batch request", ErrorTypeValidation,
			fmt.Errorf("%w: batch request is required", domain.ErrInvalidRequest))
	}
	if err := req.CheckBounds(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid batch request", ErrorTypeValidation, err)
	}

	in := *req
	if in.IdempotencyKey == "" {
		key := "workflow:" + workflow.GetInfo(ctx).WorkflowExecution.ID
		if idempotency.ValidateKey(key) == nil {
			in.IdempotencyKey = key
		}
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: BatchStartToCloseTimeout,
		HeartbeatTimeout:    BatchHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    RetryInitialInterval,
			BackoffCoefficient: 2.0,
			MaximumInterval:    RetryMaximumInterval,
			MaximumAttempts:    RetryMaximumAttempts,
			NonRetryableErrorTypes: []string{
				service.ErrorTypeCallerInput,
				service.ErrorTypeConsistency,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Batch validation started", "items", len(in.Items), "strict", in.Strict, "mode", in.Mode)

	var acts *service.Activities
	var result domain.BatchResult
	if err := workflow.ExecuteActivity(ctx, acts.ValidateBatch, &in).Get(ctx, &result); err != nil {
		logger.Error("Batch validation failed", "error", err)
		return nil, err
	}

	logger.Info("Batch validation completed",
		"passed", result.Passed, "failed", result.Failed, "errored", result.Errored)
	return &result, nil
}
