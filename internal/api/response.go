package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// Response statuses.
const (
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusError          = "error"
)

// SuccessResponse wraps every successful payload.
type SuccessResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every error reply. Code repeats the HTTP
// status; ErrorCode is the stable machine-readable class.
type ErrorResponse struct {
	Status    string           `json:"status"`
	Error     string           `json:"error"`
	Details   string           `json:"details"`
	Code      int              `json:"code"`
	ErrorCode domain.ErrorCode `json:"error_code"`
	Field     string           `json:"field,omitempty"`
	Index     *int             `json:"index,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to write response", "component", "api", "error", err)
	}
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, msg string, data any) {
	state := StatusSuccess
	if status == http.StatusMultiStatus {
		state = StatusPartialSuccess
	}
	writeJSON(w, status, SuccessResponse{
		Status:    state,
		Message:   msg,
		Data:      data,
		Timestamp: s.now().UTC(),
	})
}

// writeError maps err to its status and envelope. Unavailability replies
// carry Retry-After.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := classify(err)
	resp := ErrorResponse{
		Status:    StatusError,
		Error:     title,
		Details:   err.Error(),
		Code:      status,
		ErrorCode: domain.CodeOf(err),
		Timestamp: s.now().UTC(),
	}

	var malformed *domain.MalformedItemError
	if errors.As(err, &malformed) {
		resp.Field = malformed.Field
	}
	var abort *domain.StrictAbortError
	if errors.As(err, &abort) {
		idx := abort.Index
		resp.Index = &idx
	}

	switch {
	case status == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", strconv.Itoa(s.retryAfterSeconds()))
	case status == http.StatusInternalServerError && resp.ErrorCode == domain.CodeInternal:
		resp.Details = "unexpected server error"
	}
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "code", resp.ErrorCode, "error", err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, errUnauthorized)
}

func (s *Server) writeRateLimited(w http.ResponseWriter, _ *http.Request, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Status:    StatusError,
		Error:     "Rate limit exceeded",
		Details:   "too many requests for this API key; retry after " + strconv.Itoa(retryAfter) + "s",
		Code:      http.StatusTooManyRequests,
		ErrorCode: "rate_limited",
		Timestamp: s.now().UTC(),
	})
}

// classify returns the HTTP status and short title for err.
func classify(err error) (int, string) {
	switch domain.CodeOf(err) {
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized, "Unauthorized"
	case domain.CodeIdempotencyConflict:
		return http.StatusConflict, "Idempotency key conflict"
	case domain.CodeMalformedItem:
		return http.StatusBadRequest, "Invalid item format"
	case domain.CodeEmptyBatch:
		return http.StatusBadRequest, "Invalid batch"
	case domain.CodeBatchTooLarge:
		return http.StatusBadRequest, "Batch too large"
	case domain.CodeInvalidRequest, domain.CodeInvalidIdempotencyKey:
		return http.StatusBadRequest, "Invalid request"
	case domain.CodeAssessmentUnavailable:
		return http.StatusServiceUnavailable, "Assessment unavailable"
	case domain.CodeRubricInconsistency, domain.CodeVerdictInconsistency, domain.CodeInvalidReport:
		return http.StatusInternalServerError, "Internal consistency error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "Request timed out"
	}
	return http.StatusInternalServerError, "Internal error"
}
