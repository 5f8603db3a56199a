// Package domaintest provides builders for valid domain values in tests.
package domaintest

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// Concept returns a structurally valid concept with the given id.
func Concept(id string) *domain.Concept {
	return &domain.Concept{
		ConceptID: id,
		Title:     "Filtering rows in pandas",
		Problem:   strings.Repeat("Learners struggle to select rows by condition. ", 2),
		System:    strings.Repeat("Boolean masks combine column comparisons into a filter you index with. ", 2),
		Win:       strings.Repeat("You can slice any dataset by rule in one line. ", 2),
		CodeExamples: []domain.CodeExample{{
			Code:           "df[df['age'] > 30]",
			ExpectedOutput: "rows where age > 30",
		}},
		ProvisionalCitations: []domain.Citation{{
			Source:  domain.CitationSourceVector,
			Title:   "pandas indexing guide",
			Locator: "indexing#boolean",
		}},
		Mode:       domain.ModeCoach,
		Bloom:      domain.BloomsApply,
		Difficulty: domain.DifficultyBeginner,
		Libraries:  []domain.Library{domain.LibraryPandas},
	}
}

// Question returns a structurally valid multiple choice question.
func Question(id string) *domain.Question {
	return &domain.Question{
		QuestionID:    id,
		ConceptID:     "pandas-filtering",
		QuestionText:  "Which expression keeps rows where age exceeds 30?",
		QuestionType:  domain.QuestionMultipleChoice,
		Options:       []string{"df[df.age > 30]", "df.age > 30", "df.filter(30)"},
		CorrectAnswer: "df[df.age > 30]",
		Difficulty:    domain.DifficultyBeginner,
		BloomsLevel:   domain.BloomsApply,
	}
}

// PerfectScores returns every criterion at its maximum (total 100).
func PerfectScores() domain.CriterionScores {
	return domain.CriterionScores{
		GroundednessCitation: 20,
		TechnicalCorrectness: 15,
		PeopleFirstPedagogy:  15,
		PSWActionability:     10,
		ModeFidelity:         10,
		SelfPacedScaffolding: 10,
		RetrievalQuality:     10,
		Clarity:              5,
		BloomAlignment:       3,
		PeopleFirstLanguage:  2,
	}
}

// ScoresTotalling returns valid scores summing to total (0..100), taking
// points away from the largest criteria first.
func ScoresTotalling(total int) domain.CriterionScores {
	s := PerfectScores()
	deficit := domain.MaxOverallScore - total
	fields := []*int{
		&s.GroundednessCitation, &s.TechnicalCorrectness, &s.PeopleFirstPedagogy,
		&s.PSWActionability, &s.ModeFidelity, &s.SelfPacedScaffolding,
		&s.RetrievalQuality, &s.Clarity, &s.BloomAlignment, &s.PeopleFirstLanguage,
	}
	for _, f := range fields {
		if deficit <= 0 {
			break
		}
		take := min(*f, deficit)
		*f -= take
		deficit -= take
	}
	return s
}

// PassingGates returns the four core gates, all passed.
func PassingGates() []domain.GateResult {
	gates := make([]domain.GateResult, 0, 4)
	for _, name := range domain.CoreGates() {
		gates = append(gates, domain.GateResult{Name: name, Passed: true})
	}
	return gates
}

// Telemetry returns valid telemetry with healthy gate inputs.
func Telemetry() domain.Telemetry {
	return domain.Telemetry{
		RunID:           "run-0001",
		Model:           "gpt-4o-mini",
		Provider:        "openai",
		PromptVersion:   "p1",
		GraphVersion:    "g1",
		CoverageScore:   0.8,
		CitationDensity: 1.5,
		UniqueSources:   3,
		ModeRatio:       0.9,
		ScaffoldDepth:   2,
		ExecOK:          true,
		LatencyMS:       120,
		Tokens:          900,
	}
}

// Assessment returns an assessment with the given total and healthy gates.
func Assessment(total int) *domain.Assessment {
	return &domain.Assessment{
		Scores:    ScoresTotalling(total),
		Telemetry: Telemetry(),
		Measurements: map[domain.GateName]domain.Measurement{
			domain.GateCoverage:        domain.Numeric(0.8),
			domain.GateCitationDensity: domain.Numeric(1.5),
			domain.GateExecOK:          domain.Boolean(true),
		},
		Strengths: []string{"clear problem statement"},
	}
}

// StaticAssessor answers every call with a copy of the same assessment and
// counts calls.
type StaticAssessor struct {
	Result *domain.Assessment
	Err    error
	calls  atomic.Int64
}

// Assess implements domain.Assessor.
func (s *StaticAssessor) Assess(ctx context.Context, _ domain.Item, _ domain.ValidationMode) (*domain.Assessment, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	a := *s.Result
	return &a, nil
}

// Calls returns how many times Assess ran.
func (s *StaticAssessor) Calls() int { return int(s.calls.Load()) }
