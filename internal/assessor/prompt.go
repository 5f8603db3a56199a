package assessor

import (
	"fmt"
	"strings"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// DefaultPromptVersion identifies the prompt below in telemetry.
const DefaultPromptVersion = "qc-rubric-v2"

// systemPrompt renders the grading instructions from the rubric table so the
// criterion names and maxima can never drift from the domain.
func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a strict reviewer of self-paced Python data science lessons and quiz questions.\n")
	b.WriteString("Score the item on every criterion below. Each score is an integer from 0 to the maximum shown.\n\n")
	for _, c := range domain.Rubric() {
		fmt.Fprintf(&b, "- %s (max %d): %s\n", c.Name, c.Max, c.Description)
	}
	b.WriteString(`
Also measure:
- coverage_score: fraction 0..1 of claims supported by the item's citations or well-known library documentation.
- citation_density: citations per major claim (0 or more).
- unique_sources: number of distinct sources cited.
- mode_ratio: fraction 0..1 of the text that follows the requested teaching mode.
- scaffold_depth: number of distinct scaffolding steps.
- exec_ok: true when every runnable code example would execute and print its expected output.
- detected_resources: libraries or external services the item relies on, lower case.
- explanation_citations: for questions, citations found in the explanation.

Reply with a single JSON object and nothing else:
{"scores":{"<criterion>":0,...},"coverage_score":0.0,"citation_density":0.0,"unique_sources":0,
"mode_ratio":0.0,"scaffold_depth":0,"exec_ok":true,"detected_resources":[],
"explanation_citations":[{"source":"vector|web","title":"","locator":""}],
"issues":[{"severity":"low|medium|high|critical","category":"","message":"","suggestion":"","location":""}],
"strengths":[],"suggestions":[]}
`)
	return b.String()
}

// userPrompt embeds the item as JSON.
func userPrompt(item domain.Item, mode domain.ValidationMode) (string, error) {
	body, err := domain.EncodeItem(item)
	if err != nil {
		return "", fmt.Errorf("failed to encode item: %w", err)
	}

	depth := "Review every criterion carefully, including running the code examples in your head."
	if mode == domain.ValidationModeQuick {
		depth = "Give a fast first-pass review; do not trace code execution in detail."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Item type: %s\n", item.Kind())
	if c, ok := item.(*domain.Concept); ok {
		fmt.Fprintf(&b, "Requested teaching mode: %s\n", c.EffectiveMode())
	}
	fmt.Fprintf(&b, "%s\n\nItem:\n%s\n", depth, body)
	return b.String(), nil
}
