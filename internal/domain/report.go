package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// DefaultValidatorVersion is stamped on reports when no version is configured.
const DefaultValidatorVersion = "2.0"

// Telemetry describes how an assessment was produced. It is descriptive
// only and never feeds the verdict directly.
type Telemetry struct {
	RunID           string  `json:"run_id" validate:"required"`
	TraceURL        string  `json:"trace_url,omitempty" validate:"omitempty,url"`
	Model           string  `json:"model"`
	Provider        string  `json:"provider"`
	PromptVersion   string  `json:"prompt_version"`
	GraphVersion    string  `json:"graph_version"`
	CoverageScore   float64 `json:"coverage_score" validate:"gte=0,lte=1"`
	CitationDensity float64 `json:"citation_density" validate:"gte=0"`
	UniqueSources   int     `json:"unique_sources" validate:"gte=0"`
	ModeRatio       float64 `json:"mode_ratio" validate:"gte=0,lte=1"`
	ScaffoldDepth   int     `json:"scaffold_depth" validate:"gte=0"`
	ExecOK          bool    `json:"exec_ok"`
	LatencyMS       int64   `json:"latency_ms" validate:"gte=0"`
	Tokens          int64   `json:"tokens" validate:"gte=0"`
}

// Validate checks telemetry bounds.
func (t Telemetry) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid telemetry: %w", err)
	}
	return nil
}

// ValidationIssue is a finding reported by the assessor.
type ValidationIssue struct {
	Severity   Severity `json:"severity" validate:"enum"`
	Category   string   `json:"category" validate:"required"`
	Message    string   `json:"message" validate:"required"`
	Suggestion string   `json:"suggestion,omitempty"`
	Location   string   `json:"location,omitempty"`
}

// QualityReport is the immutable outcome of validating one item.
// OverallScore and PassesQuality are always derived, never accepted as given:
// construction goes through NewQualityReport and decoding re-checks both.
type QualityReport struct {
	ItemID   string   `json:"item_id"`
	ItemType ItemKind `json:"item_type"`

	CriterionScores

	OverallScore  int               `json:"overall_score"`
	Gates         []GateResult      `json:"gates"`
	Telemetry     Telemetry         `json:"telemetry"`
	Issues        []ValidationIssue `json:"issues"`
	Strengths     []string          `json:"strengths"`
	Suggestions   []string          `json:"suggestions"`
	PassesQuality bool              `json:"passes_quality"`

	ValidatedAt      time.Time `json:"validated_at"`
	ValidatorVersion string    `json:"validator_version"`
}

// ReportDraft holds the inputs of a report before derived fields are computed.
type ReportDraft struct {
	ItemID           string
	ItemType         ItemKind
	Scores           CriterionScores
	Gates            []GateResult
	Telemetry        Telemetry
	Issues           []ValidationIssue
	Strengths        []string
	Suggestions      []string
	ValidatedAt      time.Time
	ValidatorVersion string
}

// NewQualityReport computes the overall score and verdict from the draft and
// returns a validated report. Slices are copied so later changes to the
// draft do not leak into the report.
func NewQualityReport(d ReportDraft) (*QualityReport, error) {
	total, err := d.Scores.Total()
	if err != nil {
		return nil, err
	}

	version := d.ValidatorVersion
	if version == "" {
		version = DefaultValidatorVersion
	}

	r := &QualityReport{
		ItemID:           d.ItemID,
		ItemType:         d.ItemType,
		CriterionScores:  d.Scores,
		OverallScore:     total,
		Gates:            cloneSlice(d.Gates),
		Telemetry:        d.Telemetry,
		Issues:           cloneSlice(d.Issues),
		Strengths:        cloneSlice(d.Strengths),
		Suggestions:      cloneSlice(d.Suggestions),
		PassesQuality:    DecideVerdict(total, d.Gates),
		ValidatedAt:      d.ValidatedAt.UTC(),
		ValidatorVersion: version,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks every report invariant: identity, criterion bounds,
// overall score equal to the criterion sum, unique gate names, issue shape
// and the verdict formula.
func (r *QualityReport) Validate() error {
	if r.ItemID == "" {
		return fmt.Errorf("%w: item_id is required", ErrInvalidReport)
	}
	if !r.ItemType.IsValid() {
		return fmt.Errorf("%w: unknown item_type %q", ErrInvalidReport, r.ItemType)
	}
	if r.ValidatorVersion == "" {
		return fmt.Errorf("%w: validator_version is required", ErrInvalidReport)
	}

	total, err := r.CriterionScores.Total()
	if err != nil {
		return err
	}
	if total != r.OverallScore {
		return &RubricInconsistencyError{Claimed: r.OverallScore, Computed: total}
	}

	seen := make(map[GateName]struct{}, len(r.Gates))
	for _, g := range r.Gates {
		if g.Name == "" {
			return fmt.Errorf("%w: gate with empty name", ErrInvalidReport)
		}
		if _, dup := seen[g.Name]; dup {
			return fmt.Errorf("%w: duplicate gate %q", ErrInvalidReport, g.Name)
		}
		seen[g.Name] = struct{}{}
	}

	if err := r.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	for i, issue := range r.Issues {
		if err := validate.Struct(issue); err != nil {
			return fmt.Errorf("%w: issues[%d]: %w", ErrInvalidReport, i, err)
		}
	}

	return CheckVerdict(r.OverallScore, r.Gates, r.PassesQuality)
}

// UnmarshalJSON decodes a report and re-checks all invariants, so a report
// whose score or verdict was tampered with cannot be decoded.
func (r *QualityReport) UnmarshalJSON(data []byte) error {
	type plain QualityReport
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	candidate := QualityReport(decoded)
	if err := candidate.Validate(); err != nil {
		return err
	}
	*r = candidate
	return nil
}

// Publishable reports whether downstream storage may persist the report.
func (r *QualityReport) Publishable() bool {
	return r.PassesQuality && r.OverallScore >= PassThreshold
}

// Gate returns the result for name.
func (r *QualityReport) Gate(name GateName) (GateResult, bool) {
	for _, g := range r.Gates {
		if g.Name == name {
			return g, true
		}
	}
	return GateResult{}, false
}

// Clone returns a deep copy.
func (r *QualityReport) Clone() *QualityReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Gates = cloneSlice(r.Gates)
	c.Issues = cloneSlice(r.Issues)
	c.Strengths = cloneSlice(r.Strengths)
	c.Suggestions = cloneSlice(r.Suggestions)
	return &c
}

// cloneSlice copies s, keeping nil as nil.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
