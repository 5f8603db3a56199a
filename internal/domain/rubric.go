package domain

import "fmt"

// Criterion names one of the ten rubric criteria. The string value is the
// JSON field name used in quality reports.
type Criterion string

// Rubric criteria in canonical order.
const (
	CriterionGroundednessCitation Criterion = "groundedness_citation_score"
	CriterionTechnicalCorrectness Criterion = "technical_correctness_score"
	CriterionPeopleFirstPedagogy  Criterion = "people_first_pedagogy_score"
	CriterionPSWActionability     Criterion = "psw_actionability_score"
	CriterionModeFidelity         Criterion = "mode_fidelity_score"
	CriterionSelfPacedScaffolding Criterion = "self_paced_scaffolding_score"
	CriterionRetrievalQuality     Criterion = "retrieval_quality_score"
	CriterionClarity              Criterion = "clarity_score"
	CriterionBloomAlignment       Criterion = "bloom_alignment_score"
	CriterionPeopleFirstLanguage  Criterion = "people_first_language_score"
)

// CriterionCount is the number of rubric criteria.
const CriterionCount = 10

// MaxOverallScore is the sum of all criterion maxima.
const MaxOverallScore = 100

// CriterionDef is one row of the rubric table.
type CriterionDef struct {
	Name        Criterion `json:"name"`
	Max         int       `json:"max"`
	Description string    `json:"description"`
}

// rubric is shared by content and question items. Maxima sum to MaxOverallScore.
var rubric = [CriterionCount]CriterionDef{
	{CriterionGroundednessCitation, 20, "claims are grounded in and cite retrieved sources"},
	{CriterionTechnicalCorrectness, 15, "code and explanations are technically correct"},
	{CriterionPeopleFirstPedagogy, 15, "teaching centres the learner and builds understanding"},
	{CriterionPSWActionability, 10, "problem, system and win are concrete and actionable"},
	{CriterionModeFidelity, 10, "the requested teaching mode is followed"},
	{CriterionSelfPacedScaffolding, 10, "material scaffolds self-paced progress"},
	{CriterionRetrievalQuality, 10, "retrieved context is relevant and diverse"},
	{CriterionClarity, 5, "writing is clear and concise"},
	{CriterionBloomAlignment, 3, "activity matches the targeted Bloom's level"},
	{CriterionPeopleFirstLanguage, 2, "language is inclusive and people-first"},
}

// Rubric returns a copy of the rubric table in canonical order.
func Rubric() []CriterionDef {
	out := make([]CriterionDef, CriterionCount)
	copy(out, rubric[:])
	return out
}

// MaxFor returns the maximum score of c and whether c is a known criterion.
func MaxFor(c Criterion) (int, bool) {
	for _, def := range rubric {
		if def.Name == c {
			return def.Max, true
		}
	}
	return 0, false
}

// CriterionScores holds one integer score per rubric criterion. It is
// embedded in QualityReport so the scores serialize as flat fields.
type CriterionScores struct {
	GroundednessCitation int `json:"groundedness_citation_score"`
	TechnicalCorrectness int `json:"technical_correctness_score"`
	PeopleFirstPedagogy  int `json:"people_first_pedagogy_score"`
	PSWActionability     int `json:"psw_actionability_score"`
	ModeFidelity         int `json:"mode_fidelity_score"`
	SelfPacedScaffolding int `json:"self_paced_scaffolding_score"`
	RetrievalQuality     int `json:"retrieval_quality_score"`
	Clarity              int `json:"clarity_score"`
	BloomAlignment       int `json:"bloom_alignment_score"`
	PeopleFirstLanguage  int `json:"people_first_language_score"`
}

// Values returns the scores in canonical rubric order.
func (s CriterionScores) Values() [CriterionCount]int {
	return [CriterionCount]int{
		s.GroundednessCitation,
		s.TechnicalCorrectness,
		s.PeopleFirstPedagogy,
		s.PSWActionability,
		s.ModeFidelity,
		s.SelfPacedScaffolding,
		s.RetrievalQuality,
		s.Clarity,
		s.BloomAlignment,
		s.PeopleFirstLanguage,
	}
}

// Get returns the score recorded for c.
func (s CriterionScores) Get(c Criterion) (int, bool) {
	for i, def := range rubric {
		if def.Name == c {
			return s.Values()[i], true
		}
	}
	return 0, false
}

// Validate checks every score against its bound and returns the first
// violation in canonical order.
func (s CriterionScores) Validate() error {
	values := s.Values()
	for i, def := range rubric {
		if v := values[i]; v < 0 || v > def.Max {
			return &RubricInconsistencyError{Criterion: def.Name, Score: v, Max: def.Max}
		}
	}
	return nil
}

// Total returns the overall score, the plain sum of all criteria.
func (s CriterionScores) Total() (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	sum := 0
	for _, v := range s.Values() {
		sum += v
	}
	return sum, nil
}

// ScoresFromMap builds CriterionScores from a name-keyed map, as produced
// by assessors. Every criterion must be present exactly once and no unknown
// names are allowed. Bounds are not checked here; see Validate.
func ScoresFromMap(m map[Criterion]int) (CriterionScores, error) {
	var s CriterionScores
	for name := range m {
		if _, ok := MaxFor(name); !ok {
			return CriterionScores{}, fmt.Errorf("%w: unknown criterion %q", ErrInvalidAssessment, name)
		}
	}
	dst := [CriterionCount]*int{
		&s.GroundednessCitation,
		&s.TechnicalCorrectness,
		&s.PeopleFirstPedagogy,
		&s.PSWActionability,
		&s.ModeFidelity,
		&s.SelfPacedScaffolding,
		&s.RetrievalQuality,
		&s.Clarity,
		&s.BloomAlignment,
		&s.PeopleFirstLanguage,
	}
	for i, def := range rubric {
		v, ok := m[def.Name]
		if !ok {
			return CriterionScores{}, fmt.Errorf("%w: missing criterion %q", ErrInvalidAssessment, def.Name)
		}
		*dst[i] = v
	}
	return s, nil
}
