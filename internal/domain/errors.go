package domain

import (
	"errors"
	"fmt"
)

// Caller-input errors. These are terminal: resubmitting the same input fails
// the same way.
var (
	// ErrMalformedItem indicates an item failed structural preconditions.
	ErrMalformedItem = errors.New("malformed item")

	// ErrEmptyBatch indicates a batch request with no items.
	ErrEmptyBatch = errors.New("batch contains no items")

	// ErrBatchTooLarge indicates a batch request above MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrInvalidRequest indicates a request whose envelope (not its items) is invalid.
	ErrInvalidRequest = errors.New("invalid validation request")

	// ErrIdempotencyConflict indicates an idempotency key was reused with a
	// different request payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")

	// ErrInvalidIdempotencyKey indicates a key that cannot be used for deduplication.
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

	// ErrUnauthorized is raised by the transport layer for bad credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Dependency errors. The caller may retry these.
var (
	// ErrAssessmentUnavailable indicates the assessor failed or timed out.
	ErrAssessmentUnavailable = errors.New("assessment unavailable")

	// ErrInvalidAssessment indicates the assessor answered with unusable data.
	ErrInvalidAssessment = errors.New("invalid assessment")
)

// Internal consistency defects. These are never repaired silently.
var (
	// ErrRubricInconsistency indicates a criterion score outside its bounds or
	// an overall score that does not equal the criterion sum.
	ErrRubricInconsistency = errors.New("rubric inconsistency")

	// ErrVerdictInconsistency indicates a supplied pass/fail verdict that
	// disagrees with the verdict formula.
	ErrVerdictInconsistency = errors.New("verdict inconsistency")

	// ErrInvalidReport indicates a report violating a structural invariant
	// other than score or verdict consistency.
	ErrInvalidReport = errors.New("invalid quality report")
)

// MalformedItemError names the first structural violation found on an item.
type MalformedItemError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *MalformedItemError) Error() string {
	return fmt.Sprintf("malformed item: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedItem) hold.
func (e *MalformedItemError) Is(target error) bool { return target == ErrMalformedItem }

// AssessmentUnavailableError wraps the assessor failure for one item.
type AssessmentUnavailableError struct {
	ItemID string
	Cause  error
}

func (e *AssessmentUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("assessment unavailable for item %q", e.ItemID)
	}
	return fmt.Sprintf("assessment unavailable for item %q: %v", e.ItemID, e.Cause)
}

// Is makes errors.Is(err, ErrAssessmentUnavailable) hold.
func (e *AssessmentUnavailableError) Is(target error) bool {
	return target == ErrAssessmentUnavailable
}

func (e *AssessmentUnavailableError) Unwrap() error { return e.Cause }

// RubricInconsistencyError describes either an out-of-range criterion score
// (Criterion set) or an overall score that does not match the criterion sum.
type RubricInconsistencyError struct {
	Criterion Criterion
	Score     int
	Max       int

	Claimed  int
	Computed int
}

func (e *RubricInconsistencyError) Error() string {
	if e.Criterion != "" {
		return fmt.Sprintf("rubric inconsistency: %s=%d outside [0,%d]", e.Criterion, e.Score, e.Max)
	}
	return fmt.Sprintf("rubric inconsistency: overall_score %d != criterion sum %d", e.Claimed, e.Computed)
}

// Is makes errors.Is(err, ErrRubricInconsistency) hold.
func (e *RubricInconsistencyError) Is(target error) bool { return target == ErrRubricInconsistency }

// VerdictInconsistencyError reports a supplied verdict that disagrees with
// the recomputed one.
type VerdictInconsistencyError struct {
	OverallScore int
	Supplied     bool
	Computed     bool
}

func (e *VerdictInconsistencyError) Error() string {
	return fmt.Sprintf("verdict inconsistency: passes_quality=%t but score %d and gates give %t",
		e.Supplied, e.OverallScore, e.Computed)
}

// Is makes errors.Is(err, ErrVerdictInconsistency) hold.
func (e *VerdictInconsistencyError) Is(target error) bool { return target == ErrVerdictInconsistency }

// BatchTooLargeError carries the enforced maximum.
type BatchTooLargeError struct {
	Max  int
	Size int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch too large: %d items, max %d", e.Size, e.Max)
}

// Is makes errors.Is(err, ErrBatchTooLarge) hold.
func (e *BatchTooLargeError) Is(target error) bool { return target == ErrBatchTooLarge }

// StrictAbortError is returned when a strict batch stops at a failing item.
// It unwraps to the item's own error, which is the only error surfaced.
type StrictAbortError struct {
	Index  int
	ItemID string
	Cause  error
}

func (e *StrictAbortError) Error() string {
	return fmt.Sprintf("strict batch aborted at item %d (%s): %v", e.Index, e.ItemID, e.Cause)
}

func (e *StrictAbortError) Unwrap() error { return e.Cause }

// ErrorCode is the stable machine-readable name of an error class.
type ErrorCode string

// ErrorCode values.
const (
	CodeMalformedItem         ErrorCode = "malformed_item"
	CodeAssessmentUnavailable ErrorCode = "assessment_unavailable"
	CodeRubricInconsistency   ErrorCode = "rubric_inconsistency"
	CodeVerdictInconsistency  ErrorCode = "verdict_inconsistency"
	CodeInvalidReport         ErrorCode = "invalid_report"
	CodeEmptyBatch            ErrorCode = "empty_batch"
	CodeBatchTooLarge         ErrorCode = "batch_too_large"
	CodeInvalidRequest        ErrorCode = "invalid_request"
	CodeIdempotencyConflict   ErrorCode = "idempotency_conflict"
	CodeInvalidIdempotencyKey ErrorCode = "invalid_idempotency_key"
	CodeUnauthorized          ErrorCode = "unauthorized"
	CodeInternal              ErrorCode = "internal_error"
)

// CodeOf classifies err into an ErrorCode. Unknown errors map to CodeInternal.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedItem):
		return CodeMalformedItem
	case errors.Is(err, ErrAssessmentUnavailable):
		return CodeAssessmentUnavailable
	case errors.Is(err, ErrRubricInconsistency):
		return CodeRubricInconsistency
	case errors.Is(err, ErrVerdictInconsistency):
		return CodeVerdictInconsistency
	case errors.Is(err, ErrInvalidReport):
		return CodeInvalidReport
	case errors.Is(err, ErrEmptyBatch):
		return CodeEmptyBatch
	case errors.Is(err, ErrBatchTooLarge):
		return CodeBatchTooLarge
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrIdempotencyConflict):
		return CodeIdempotencyConflict
	case errors.Is(err, ErrInvalidIdempotencyKey):
		return CodeInvalidIdempotencyKey
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// IsRetryable reports whether the caller may usefully resubmit after err.
// Only dependency failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAssessmentUnavailable)
}

// IsCallerError reports whether err was caused by the request itself.
func IsCallerError(err error) bool {
	switch CodeOf(err) {
	case CodeMalformedItem, CodeEmptyBatch, CodeBatchTooLarge, CodeInvalidRequest,
		CodeIdempotencyConflict, CodeInvalidIdempotencyKey, CodeUnauthorized:
		return true
	default:
		return false
	}
}
