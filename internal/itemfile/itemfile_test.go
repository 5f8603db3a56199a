package itemfile_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/itemfile"
)

const yamlBatch = `
validation_type: quick
strict: false
idempotency_key: nightly-run-0001
items:
  - concept_id: pandas-filtering
    title: Filtering rows in pandas
    difficulty: beginner
    code_examples:
      - code: "df[df['age'] > 30]"
        runnable: false
    created_at: 2026-01-02T03:04:05Z
  - question_id: q-filter-1
    concept_id: pandas-filtering
    question_type: true_false
    options: ["True", "False"]
    correct_answer: "True"
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	req, err := itemfile.Load(write(t, "batch.yaml", yamlBatch))
	require.NoError(t, err)

	assert.Equal(t, domain.ValidationModeQuick, req.Mode)
	assert.False(t, req.Strict)
	assert.Equal(t, "nightly-run-0001", req.IdempotencyKey)
	require.Len(t, req.Items, 2)

	c, ok := req.Items[0].(*domain.Concept)
	require.True(t, ok)
	assert.Equal(t, "pandas-filtering", c.ConceptID)
	require.NotNil(t, c.CreatedAt)
	assert.Equal(t, 2026, c.CreatedAt.Year())
	assert.False(t, c.CodeExamples[0].IsRunnable())

	q, ok := req.Items[1].(*domain.Question)
	require.True(t, ok)
	assert.Equal(t, domain.QuestionTrueFalse, q.QuestionType)
}

func TestLoad_JSONListGetsWireDefaults(t *testing.T) {
	req, err := itemfile.Load(write(t, "batch.json", `[{"concept_id":"pandas-filtering"}]`))
	require.NoError(t, err)
	assert.Equal(t, domain.ValidationModeFull, req.Mode)
	assert.True(t, req.Strict)
	require.Len(t, req.Items, 1)
}

func TestLoad_YAMLListOfItems(t *testing.T) {
	req, err := itemfile.Load(write(t, "batch.yml", "- concept_id: a-concept\n- question_id: a-question\n"))
	require.NoError(t, err)
	require.Len(t, req.Items, 2)
	assert.Equal(t, domain.ItemKindQuestion, req.Items[1].Kind())
}

func TestLoad_UndecodableItemKeepsItsSlot(t *testing.T) {
	req, err := itemfile.Load(write(t, "batch.yaml", "items:\n  - concept_id: ok-item\n  - title: [not, a, string]\n"))
	require.NoError(t, err)
	require.Len(t, req.Items, 2)
	require.ErrorIs(t, req.Items[1].Validate(), domain.ErrMalformedItem)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"multiple documents", "batch.yaml", "items: []\n---\nitems: []\n"},
		{"empty yaml", "batch.yaml", ""},
		{"broken yaml", "batch.yaml", "items: [\n"},
		{"broken json", "batch.json", `{"items": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := itemfile.Load(write(t, tt.file, tt.body))
			require.Error(t, err)
		})
	}

	_, err := itemfile.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestWrite(t *testing.T) {
	v := map[string]any{"total_items": 2, "passed": 1}

	var js bytes.Buffer
	require.NoError(t, itemfile.Write(&js, v, itemfile.FormatJSON))
	assert.JSONEq(t, `{"total_items":2,"passed":1}`, js.String())

	var ym bytes.Buffer
	require.NoError(t, itemfile.Write(&ym, v, itemfile.FormatYAML))
	assert.Contains(t, ym.String(), "total_items: 2")
	assert.Contains(t, ym.String(), "passed: 1")

	require.Error(t, itemfile.Write(&js, v, "xml"))
}
