package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aethelgard/qualitycheck/internal/archive"
	"github.com/aethelgard/qualitycheck/internal/domain"
)

// IdempotencyHeader carries the caller's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Report listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func (s *Server) validateItem(kind domain.ItemKind) http.HandlerFunc {
	msg := "Content validated successfully"
	if kind == domain.ItemKindQuestion {
		msg = "Question validated successfully"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		mode := domain.ValidationMode(r.URL.Query().Get("validation_type"))
		if mode != "" && !mode.IsValid() {
			s.writeError(w, r, fmt.Errorf("%w: unknown validation_type %q", domain.ErrInvalidRequest, mode))
			return
		}

		body, err := s.readBody(w, r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		item, err := domain.DecodeItemAs(body, kind)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		report, err := s.validator.ValidateItem(r.Context(), item, mode, r.Header.Get(IdempotencyHeader))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, http.StatusOK, msg, report)
	}
}

// validateBatch answers 200 when every item produced a report and 207 when
// some items errored.
func (s *Server) validateBatch(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req domain.BatchRequest
	if err := req.UnmarshalJSON(body); err != nil {
		s.writeError(w, r, err)
		return
	}

	if header := r.Header.Get(IdempotencyHeader); header != "" {
		if req.IdempotencyKey != "" && req.IdempotencyKey != header {
			s.writeError(w, r, fmt.Errorf("%w: Idempotency-Key header and body idempotency_key differ",
				domain.ErrInvalidRequest))
			return
		}
		req.IdempotencyKey = header
	}

	result, err := s.validator.ValidateBatch(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if result.Errored > 0 {
		s.writeSuccess(w, http.StatusMultiStatus, "Batch validation completed with errors", result)
		return
	}
	s.writeSuccess(w, http.StatusOK, "Batch validation completed", result)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, http.StatusNotFound, s.notFound("report archive is disabled"))
		return
	}
	id := chi.URLParam(r, "itemID")
	report, err := s.reports.Get(r.Context(), id)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeJSON(w, http.StatusNotFound, s.notFound(fmt.Sprintf("no publishable report for %q", id)))
	case err != nil:
		s.writeError(w, r, err)
	default:
		s.writeSuccess(w, http.StatusOK, "Report found", report)
	}
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, http.StatusNotFound, s.notFound("report archive is disabled"))
		return
	}
	minScore, err := intParam(r, "min_score", domain.PassThreshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", DefaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit = min(max(limit, 1), MaxListLimit)

	reports, err := s.reports.ListPublishable(r.Context(), minScore, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeSuccess(w, http.StatusOK, "Publishable reports", map[string]any{
		"total":   len(reports),
		"reports": reports,
	})
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// health answers 503 when any dependency check fails.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthStatus{Status: "healthy", Checks: make(map[string]string, len(s.checks))}
	status := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":           "qualitycheck",
		"version":           s.cfg.Version,
		"validator_version": s.cfg.ValidatorVersion,
		"pass_threshold":    domain.PassThreshold,
		"core_gates":        domain.CoreGates(),
	})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidRequest, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: failed to read body: %w", domain.ErrInvalidRequest, err)
	}
	return body, nil
}

func (s *Server) notFound(details string) ErrorResponse {
	return ErrorResponse{
		Status:    StatusError,
		Error:     "Not found",
		Details:   details,
		Code:      http.StatusNotFound,
		ErrorCode: "not_found",
		Timestamp: s.now().UTC(),
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidRequest, name)
	}
	return v, nil
}
