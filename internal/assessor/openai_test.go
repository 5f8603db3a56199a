package assessor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethelgard/qualitycheck/internal/assessor"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/domain/domaintest"
)

const goodReply = "```json\n" + `{
  "scores": {
    "groundedness_citation_score": 18,
    "technical_correctness_score": 14,
    "people_first_pedagogy_score": 13,
    "psw_actionability_score": 9,
    "mode_fidelity_score": 9,
    "self_paced_scaffolding_score": 9,
    "retrieval_quality_score": 9,
    "clarity_score": 5,
    "bloom_alignment_score": 3,
    "people_first_language_score": 2,
  },
  "coverage_score": 0.82,
  "citation_density": 1.4,
  "unique_sources": 3,
  "mode_ratio": 0.9,
  "scaffold_depth": 2,
  "exec_ok": true,
  "detected_resources": ["pandas"],
  "issues": [{"severity": "low", "category": "clarity", "message": "long sentence"}],
  "strengths": ["concrete example"]
}` + "\n```"

// fakeOpenAI serves chat completions with a fixed status and content.
type fakeOpenAI struct {
	status   int
	content  string
	requests atomic.Int32
	lastBody atomic.Value
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	body, _ := io.ReadAll(r.Body)
	f.lastBody.Store(string(body))

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream failure","type":"server_error"}}`)
		return
	}
	content, _ := json.Marshal(f.content)
	_, _ = fmt.Fprintf(w, `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": %s}}],
  "usage": {"prompt_tokens": 700, "completion_tokens": 200, "total_tokens": 900}
}`, content)
}

func newAssessor(t *testing.T, fake *fakeOpenAI, breaker assessor.BreakerConfig) *assessor.OpenAI {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := assessor.DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL + "/"
	cfg.Breaker = breaker
	a, err := assessor.New(cfg)
	require.NoError(t, err)
	return a
}

func TestOpenAI_Assess(t *testing.T) {
	fake := &fakeOpenAI{content: goodReply}
	a := newAssessor(t, fake, assessor.DefaultBreakerConfig())

	got, err := a.Assess(context.Background(), domaintest.Concept("pandas-filtering"), domain.ValidationModeFull)
	require.NoError(t, err)

	total, err := got.Scores.Total()
	require.NoError(t, err)
	assert.Equal(t, 91, total)

	assert.Equal(t, domain.Numeric(0.82), got.Measurements[domain.GateCoverage])
	assert.Equal(t, domain.Numeric(1.4), got.Measurements[domain.GateCitationDensity])
	assert.Equal(t, domain.Boolean(true), got.Measurements[domain.GateExecOK])
	assert.Equal(t, []string{"pandas"}, got.Resources)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, domain.SeverityLow, got.Issues[0].Severity)

	assert.Equal(t, "openai", got.Telemetry.Provider)
	assert.Equal(t, int64(900), got.Telemetry.Tokens)
	assert.Equal(t, assessor.DefaultPromptVersion, got.Telemetry.PromptVersion)
	assert.NotEmpty(t, got.Telemetry.RunID)
	assert.InDelta(t, 0.82, got.Telemetry.CoverageScore, 1e-9)

	body := fake.lastBody.Load().(string)
	assert.Contains(t, body, "groundedness_citation_score (max 20)")
	assert.Contains(t, body, "pandas-filtering")
	assert.Contains(t, body, "Requested teaching mode: coach")
}

func TestOpenAI_QuickModePrompt(t *testing.T) {
	fake := &fakeOpenAI{content: goodReply}
	a := newAssessor(t, fake, assessor.DefaultBreakerConfig())

	_, err := a.Assess(context.Background(), domaintest.Question("q-filter-1"), domain.ValidationModeQuick)
	require.NoError(t, err)

	body := fake.lastBody.Load().(string)
	assert.Contains(t, body, "fast first-pass review")
	assert.Contains(t, body, "Item type: question")
}

func TestOpenAI_MissingMeasurementStaysMissing(t *testing.T) {
	reply := strings.Replace(goodReply, `"coverage_score": 0.82,`, "", 1)
	a := newAssessor(t, &fakeOpenAI{content: reply}, assessor.DefaultBreakerConfig())

	got, err := a.Assess(context.Background(), domaintest.Concept("pandas-filtering"), domain.ValidationModeFull)
	require.NoError(t, err)

	_, ok := got.Measurements[domain.GateCoverage]
	assert.False(t, ok)
}

func TestOpenAI_UnusableReplies(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"prose", "I cannot grade this item."},
		{"missing criterion", `{"scores": {"clarity_score": 5}}`},
		{"unknown criterion", strings.Replace(goodReply, "clarity_score", "style_score", 1)},
		{"bad severity", strings.Replace(goodReply, `"severity": "low"`, `"severity": "minor"`, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssessor(t, &fakeOpenAI{content: tt.content}, assessor.DefaultBreakerConfig())
			_, err := a.Assess(context.Background(), domaintest.Concept("pandas-filtering"), domain.ValidationModeFull)
			require.ErrorIs(t, err, domain.ErrInvalidAssessment)
		})
	}
}

func TestOpenAI_OutOfRangeScoreIsPassedThrough(t *testing.T) {
	reply := strings.Replace(goodReply, `"clarity_score": 5`, `"clarity_score": 9`, 1)
	a := newAssessor(t, &fakeOpenAI{content: reply}, assessor.DefaultBreakerConfig())

	got, err := a.Assess(context.Background(), domaintest.Concept("pandas-filtering"), domain.ValidationModeFull)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Scores.Clarity)

	_, err = got.Scores.Total()
	require.ErrorIs(t, err, domain.ErrRubricInconsistency)
}

func TestOpenAI_BreakerOpensOnServerErrors(t *testing.T) {
	fake := &fakeOpenAI{status: http.StatusServiceUnavailable}
	a := newAssessor(t, fake, assessor.BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
		HalfOpenProbes:   1,
	})
	ctx := context.Background()
	item := domaintest.Concept("pandas-filtering")

	for range 2 {
		_, err := a.Assess(ctx, item, domain.ValidationModeFull)
		require.Error(t, err)
	}
	assert.Equal(t, assessor.StateOpen, a.Breaker().State())

	_, err := a.Assess(ctx, item, domain.ValidationModeFull)
	require.ErrorIs(t, err, assessor.ErrCircuitOpen)
	assert.Equal(t, int32(2), fake.requests.Load(), "open breaker must not reach the provider")
}

func TestOpenAI_ClientErrorsDoNotTripBreaker(t *testing.T) {
	fake := &fakeOpenAI{status: http.StatusBadRequest}
	a := newAssessor(t, fake, assessor.BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenTimeout:      time.Hour,
		HalfOpenProbes:   1,
	})

	_, err := a.Assess(context.Background(), domaintest.Concept("pandas-filtering"), domain.ValidationModeFull)
	require.Error(t, err)
	assert.Equal(t, assessor.StateClosed, a.Breaker().State())
}

func TestNew_RequiresKeyAndModel(t *testing.T) {
	cfg := assessor.DefaultConfig()
	_, err := assessor.New(cfg)
	require.Error(t, err)

	cfg.APIKey = "sk-test"
	cfg.Model = ""
	_, err = assessor.New(cfg)
	require.Error(t, err)
}
