package domain

import (
	"context"
	"fmt"
)

// Assessment is what an assessor reports for one item: the ten criterion
// scores, telemetry and the raw gate measurements. How the numbers are
// produced is the assessor's business.
type Assessment struct {
	Scores       CriterionScores          `json:"scores"`
	Telemetry    Telemetry                `json:"telemetry"`
	Measurements map[GateName]Measurement `json:"measurements,omitempty"`

	// Resources lists libraries or external resources detected in the item
	// in addition to those it declares.
	Resources []string `json:"resources,omitempty"`

	// ExplanationCitations are citations found in a question's explanation.
	ExplanationCitations []Citation `json:"explanation_citations,omitempty"`

	Issues      []ValidationIssue `json:"issues,omitempty"`
	Strengths   []string          `json:"strengths,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

// Validate checks the parts of an assessment the validator relies on.
// Criterion bounds are left to the rubric so that an out-of-range score
// surfaces as a rubric inconsistency.
func (a *Assessment) Validate() error {
	if err := a.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAssessment, err)
	}
	for i, issue := range a.Issues {
		if err := validate.Struct(issue); err != nil {
			return fmt.Errorf("%w: issues[%d]: %w", ErrInvalidAssessment, i, err)
		}
	}
	return nil
}

// Assessor judges content quality. Implementations must be safe for
// concurrent use; the batch orchestrator calls Assess from several
// goroutines at once.
type Assessor interface {
	Assess(ctx context.Context, item Item, mode ValidationMode) (*Assessment, error)
}

// AssessorFunc adapts a function to the Assessor interface.
type AssessorFunc func(ctx context.Context, item Item, mode ValidationMode) (*Assessment, error)

// Assess implements Assessor.
func (f AssessorFunc) Assess(ctx context.Context, item Item, mode ValidationMode) (*Assessment, error) {
	return f(ctx, item, mode)
}
