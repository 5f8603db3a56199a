package assessor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

var (
	fencedJSON     = regexp.MustCompile("(?s)```(?:json)?\\s*\n(.*?)\n\\s*```")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
)

// modelReply is the JSON object the model is asked to return.
type modelReply struct {
	Scores               map[domain.Criterion]int `json:"scores"`
	CoverageScore        *float64                 `json:"coverage_score"`
	CitationDensity      *float64                 `json:"citation_density"`
	UniqueSources        int                      `json:"unique_sources"`
	ModeRatio            float64                  `json:"mode_ratio"`
	ScaffoldDepth        int                      `json:"scaffold_depth"`
	ExecOK               *bool                    `json:"exec_ok"`
	DetectedResources    []string                 `json:"detected_resources"`
	ExplanationCitations []domain.Citation        `json:"explanation_citations"`
	Issues               []domain.ValidationIssue `json:"issues"`
	Strengths            []string                 `json:"strengths"`
	Suggestions          []string                 `json:"suggestions"`
}

// extractJSON pulls the JSON object out of a reply that may wrap it in a
// markdown fence or surrounding prose.
func extractJSON(content string) string {
	content = strings.TrimPrefix(strings.TrimSpace(content), "\ufeff")
	if m := fencedJSON.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		content = content[start : end+1]
	}
	return trailingCommas.ReplaceAllString(content, "$1")
}

// parseReply converts model output into an Assessment. Scores are passed
// through unchanged; bounds are the rubric's job. Missing gate measurements
// stay missing so the gate fails closed.
func parseReply(content string, tel domain.Telemetry) (*domain.Assessment, error) {
	var reply modelReply
	if err := json.Unmarshal([]byte(extractJSON(content)), &reply); err != nil {
		return nil, fmt.Errorf("%w: reply is not valid JSON: %w", domain.ErrInvalidAssessment, err)
	}

	scores, err := domain.ScoresFromMap(reply.Scores)
	if err != nil {
		return nil, err
	}

	measurements := make(map[domain.GateName]domain.Measurement, 3)
	if reply.CoverageScore != nil {
		tel.CoverageScore = *reply.CoverageScore
		measurements[domain.GateCoverage] = domain.Numeric(*reply.CoverageScore)
	}
	if reply.CitationDensity != nil {
		tel.CitationDensity = *reply.CitationDensity
		measurements[domain.GateCitationDensity] = domain.Numeric(*reply.CitationDensity)
	}
	if reply.ExecOK != nil {
		tel.ExecOK = *reply.ExecOK
		measurements[domain.GateExecOK] = domain.Boolean(*reply.ExecOK)
	}
	tel.UniqueSources = reply.UniqueSources
	tel.ModeRatio = reply.ModeRatio
	tel.ScaffoldDepth = reply.ScaffoldDepth

	a := &domain.Assessment{
		Scores:               scores,
		Telemetry:            tel,
		Measurements:         measurements,
		Resources:            reply.DetectedResources,
		ExplanationCitations: reply.ExplanationCitations,
		Issues:               reply.Issues,
		Strengths:            reply.Strengths,
		Suggestions:          reply.Suggestions,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
