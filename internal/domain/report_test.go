package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/domain/domaintest"
)

func draft(total int) domain.ReportDraft {
	return domain.ReportDraft{
		ItemID:      "pandas-filtering",
		ItemType:    domain.ItemKindContent,
		Scores:      domaintest.ScoresTotalling(total),
		Gates:       domaintest.PassingGates(),
		Telemetry:   domaintest.Telemetry(),
		Strengths:   []string{"clear"},
		ValidatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewQualityReport(t *testing.T) {
	r, err := domain.NewQualityReport(draft(90))
	require.NoError(t, err)
	assert.Equal(t, 90, r.OverallScore)
	assert.True(t, r.PassesQuality)
	assert.True(t, r.Publishable())
	assert.Equal(t, domain.DefaultValidatorVersion, r.ValidatorVersion)

	r, err = domain.NewQualityReport(draft(84))
	require.NoError(t, err)
	assert.False(t, r.PassesQuality)
	assert.False(t, r.Publishable())
}

func TestNewQualityReport_HighScoreFailedGate(t *testing.T) {
	d := draft(100)
	d.Gates[0].Passed = false

	r, err := domain.NewQualityReport(d)
	require.NoError(t, err)
	assert.Equal(t, 100, r.OverallScore)
	assert.False(t, r.PassesQuality)
}

func TestNewQualityReport_RejectsOutOfRangeScore(t *testing.T) {
	d := draft(90)
	d.Scores.GroundednessCitation = 21

	_, err := domain.NewQualityReport(d)
	require.ErrorIs(t, err, domain.ErrRubricInconsistency)
}

func TestNewQualityReport_RejectsDuplicateGates(t *testing.T) {
	d := draft(90)
	d.Gates = append(d.Gates, domain.GateResult{Name: domain.GateCoverage, Passed: true})

	_, err := domain.NewQualityReport(d)
	require.ErrorIs(t, err, domain.ErrInvalidReport)
}

func TestNewQualityReport_CopiesInputs(t *testing.T) {
	d := draft(90)
	r, err := domain.NewQualityReport(d)
	require.NoError(t, err)

	d.Gates[0].Passed = false
	d.Strengths[0] = "changed"

	assert.True(t, r.Gates[0].Passed)
	assert.Equal(t, "clear", r.Strengths[0])

	c := r.Clone()
	c.Gates[0].Passed = false
	assert.True(t, r.Gates[0].Passed)
}

func TestQualityReport_JSONShape(t *testing.T) {
	r, err := domain.NewQualityReport(draft(90))
	require.NoError(t, err)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, spec := range domain.Rubric() {
		assert.Contains(t, fields, string(spec.Name))
	}
	for _, key := range []string{
		"item_id", "item_type", "overall_score", "gates", "telemetry",
		"passes_quality", "validated_at", "validator_version",
	} {
		assert.Contains(t, fields, key)
	}
}

func TestQualityReport_UnmarshalRejectsTampering(t *testing.T) {
	r, err := domain.NewQualityReport(draft(84))
	require.NoError(t, err)

	t.Run("intact report decodes", func(t *testing.T) {
		data, err := json.Marshal(r)
		require.NoError(t, err)
		var back domain.QualityReport
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, *r, back)
	})

	t.Run("flipped verdict", func(t *testing.T) {
		tampered := *r
		tampered.PassesQuality = true
		data, err := json.Marshal(tampered)
		require.NoError(t, err)

		var back domain.QualityReport
		err = json.Unmarshal(data, &back)
		require.ErrorIs(t, err, domain.ErrVerdictInconsistency)
	})

	t.Run("inflated overall score", func(t *testing.T) {
		tampered := *r
		tampered.OverallScore = 90
		data, err := json.Marshal(tampered)
		require.NoError(t, err)

		var back domain.QualityReport
		err = json.Unmarshal(data, &back)
		require.ErrorIs(t, err, domain.ErrRubricInconsistency)

		var rubricErr *domain.RubricInconsistencyError
		require.ErrorAs(t, err, &rubricErr)
		assert.Equal(t, 90, rubricErr.Claimed)
		assert.Equal(t, 84, rubricErr.Computed)
	})
}

func TestQualityReport_Gate(t *testing.T) {
	r, err := domain.NewQualityReport(draft(90))
	require.NoError(t, err)

	g, ok := r.Gate(domain.GateExecOK)
	require.True(t, ok)
	assert.True(t, g.Passed)

	_, ok = r.Gate("nope")
	assert.False(t, ok)
}

func TestTelemetry_Validate(t *testing.T) {
	tel := domaintest.Telemetry()
	require.NoError(t, tel.Validate())

	tel.CoverageScore = 1.2
	require.Error(t, tel.Validate())

	tel = domaintest.Telemetry()
	tel.RunID = ""
	require.Error(t, tel.Validate())
}
