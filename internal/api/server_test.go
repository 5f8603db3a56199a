package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethelgard/qualitycheck/internal/api"
	"github.com/aethelgard/qualitycheck/internal/archive"
	"github.com/aethelgard/qualitycheck/internal/batch"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/domain/domaintest"
	"github.com/aethelgard/qualitycheck/internal/idempotency"
	"github.com/aethelgard/qualitycheck/internal/metrics"
	"github.com/aethelgard/qualitycheck/internal/service"
	"github.com/aethelgard/qualitycheck/internal/validation"
)

const testKey = "test-api-key"

var fixedNow = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

type fakeReports struct {
	reports map[string]*domain.QualityReport
	lastMin int
	lastLim int
}

func (f *fakeReports) Get(_ context.Context, id string) (*domain.QualityReport, error) {
	r, ok := f.reports[id]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return r, nil
}

func (f *fakeReports) ListPublishable(_ context.Context, minScore, limit int) ([]*domain.QualityReport, error) {
	f.lastMin, f.lastLim = minScore, limit
	out := make([]*domain.QualityReport, 0, len(f.reports))
	for _, r := range f.reports {
		out = append(out, r)
	}
	return out, nil
}

type harness struct {
	handler  http.Handler
	assessor *domaintest.StaticAssessor
	reports  *fakeReports
}

func newHarness(t *testing.T, total int, mutate func(*api.Config)) *harness {
	t.Helper()
	h := &harness{
		assessor: &domaintest.StaticAssessor{Result: domaintest.Assessment(total)},
		reports:  &fakeReports{reports: map[string]*domain.QualityReport{}},
	}
	v, err := validation.New(h.assessor, validation.DefaultConfig())
	require.NoError(t, err)
	svc := service.New(v, batch.New(v, batch.Config{}),
		service.WithStore(idempotency.NewMemoryStore(0)))

	cfg := api.Config{
		APIKeys:           []string{testKey},
		RateLimitEnabled:  true,
		RequestsPerSecond: 100,
		Burst:             100,
		Version:           "1.4.0",
		ValidatorVersion:  domain.DefaultValidatorVersion,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := api.NewServer(svc, cfg,
		api.WithReports(h.reports),
		api.WithMetrics(metrics.New()),
		api.WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testKey)
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Details   string          `json:"details"`
	Code      int             `json:"code"`
	ErrorCode string          `json:"error_code"`
	Field     string          `json:"field"`
	Index     *int            `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestValidateContent_Success(t *testing.T) {
	h := newHarness(t, 91, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decode(t, rec)
	assert.Equal(t, api.StatusSuccess, env.Status)
	assert.Equal(t, fixedNow, env.Timestamp)

	var report domain.QualityReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "pandas-filtering", report.ItemID)
	assert.Equal(t, 91, report.OverallScore)
	assert.True(t, report.PassesQuality)
}

func TestValidateQuestion_FailingVerdictIsNotAnError(t *testing.T) {
	h := newHarness(t, 70, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/questions/validate?validation_type=quick", domaintest.Question("q-filter-1"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report domain.QualityReport
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &report))
	assert.Equal(t, domain.ItemKindQuestion, report.ItemType)
	assert.False(t, report.PassesQuality)
}

func TestValidateContent_MalformedItem(t *testing.T) {
	h := newHarness(t, 91, nil)
	c := domaintest.Concept("pandas-filtering")
	c.Problem = "Too short"

	rec := h.do(t, http.MethodPost, "/api/v1/content/validate", c, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, api.StatusError, env.Status)
	assert.Equal(t, "malformed_item", env.ErrorCode)
	assert.Equal(t, "problem", env.Field)
	assert.Equal(t, http.StatusBadRequest, env.Code)
	assert.Zero(t, h.assessor.Calls())
}

func TestValidateContent_BadRequests(t *testing.T) {
	h := newHarness(t, 91, nil)

	tests := []struct {
		name string
		path string
		body string
		code string
	}{
		{"not json", "/api/v1/content/validate", "{", "malformed_item"},
		{"wrong field type", "/api/v1/content/validate", `{"title": 5}`, "malformed_item"},
		{"unknown mode", "/api/v1/content/validate?validation_type=deep", "{}", "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tt.path, tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec).ErrorCode)
		})
	}
}

func TestValidateContent_BodyLimit(t *testing.T) {
	h := newHarness(t, 91, func(c *api.Config) { c.MaxBodyBytes = 64 })

	rec := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode(t, rec).ErrorCode)
}

func TestAuth(t *testing.T) {
	h := newHarness(t, 91, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"),
		map[string]string{"Authorization": ""})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec).ErrorCode)

	rec = h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"),
		map[string]string{"Authorization": "", "X-API-Key": testKey})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/health", nil, map[string]string{"Authorization": ""})
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")
}

func TestNewServer_RequiresKeys(t *testing.T) {
	v, err := validation.New(&domaintest.StaticAssessor{}, validation.DefaultConfig())
	require.NoError(t, err)
	svc := service.New(v, batch.New(v, batch.Config{}))

	_, err = api.NewServer(svc, api.Config{})
	require.Error(t, err)

	_, err = api.NewServer(svc, api.Config{AuthDisabled: true})
	require.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, 91, func(c *api.Config) {
		c.RequestsPerSecond = 0.001
		c.Burst = 1
	})

	rec := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	env := decode(t, rec)
	assert.Equal(t, "Rate limit exceeded", env.Error)
	assert.Equal(t, http.StatusTooManyRequests, env.Code)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	h := newHarness(t, 91, nil)
	headers := map[string]string{api.IdempotencyHeader: "4f9d2a4e-0f60-4a51-9e43-1f1c4d1b0c11"}

	first := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), headers)
	second := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), headers)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, string(decode(t, first).Data), string(decode(t, second).Data))
	assert.Equal(t, 1, h.assessor.Calls())

	conflict := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("numpy-broadcasting"), headers)
	require.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, "idempotency_conflict", decode(t, conflict).ErrorCode)

	bad := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"),
		map[string]string{api.IdempotencyHeader: "short"})
	require.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, "invalid_idempotency_key", decode(t, bad).ErrorCode)
}

func TestAssessorUnavailable(t *testing.T) {
	h := newHarness(t, 91, func(c *api.Config) { c.RetryAfter = 45 * time.Second })
	h.assessor.Err = errors.New("provider down")

	rec := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))
	assert.Equal(t, "assessment_unavailable", decode(t, rec).ErrorCode)
}

func TestRubricInconsistencyIs500(t *testing.T) {
	h := newHarness(t, 91, nil)
	broken := domaintest.Assessment(91)
	broken.Scores.Clarity = 9
	h.assessor.Result = broken

	rec := h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "rubric_inconsistency", decode(t, rec).ErrorCode)
}

func batchBody(strict *bool, items ...domain.Item) map[string]any {
	raw := make([]json.RawMessage, len(items))
	for i, it := range items {
		b, err := domain.EncodeItem(it)
		if err != nil {
			panic(err)
		}
		raw[i] = b
	}
	body := map[string]any{"items": raw}
	if strict != nil {
		body["strict"] = *strict
	}
	return body
}

func TestValidateBatch_DefaultsToStrict(t *testing.T) {
	h := newHarness(t, 91, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/batch/validate",
		batchBody(nil, domaintest.Concept("pandas-filtering"), domaintest.Concept("Bad Id")), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	env := decode(t, rec)
	assert.Equal(t, "malformed_item", env.ErrorCode)
	require.NotNil(t, env.Index)
	assert.Equal(t, 1, *env.Index)
	assert.Zero(t, h.assessor.Calls())
}

func TestValidateBatch_PartialSuccessIs207(t *testing.T) {
	h := newHarness(t, 91, nil)
	strict := false

	rec := h.do(t, http.MethodPost, "/api/v1/content/batch-validate",
		batchBody(&strict, domaintest.Concept("pandas-filtering"), domaintest.Concept("Bad Id"), domaintest.Question("q-filter-1")), nil)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	env := decode(t, rec)
	assert.Equal(t, api.StatusPartialSuccess, env.Status)
	var res domain.BatchResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Errored)
	require.NotNil(t, res.Results[1].Error)
	assert.Equal(t, 1, res.Results[1].Error.Index)
}

func TestValidateBatch_AllReportsIs200(t *testing.T) {
	h := newHarness(t, 80, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/batch/validate",
		batchBody(nil, domaintest.Concept("pandas-filtering"), domaintest.Question("q-filter-1")), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res domain.BatchResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, domain.ValidationModeFull, res.Mode)
	assert.True(t, res.Strict)
}

func TestValidateBatch_Bounds(t *testing.T) {
	h := newHarness(t, 91, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/batch/validate", `{"items":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty_batch", decode(t, rec).ErrorCode)

	items := make([]domain.Item, domain.MaxBatchSize+1)
	for i := range items {
		items[i] = domaintest.Concept("pandas-filtering")
	}
	rec = h.do(t, http.MethodPost, "/api/v1/batch/validate", batchBody(nil, items...), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "batch_too_large", env.ErrorCode)
	assert.Equal(t, "Batch too large", env.Error)
	assert.Zero(t, h.assessor.Calls())
}

func TestValidateBatch_IdempotencyKeySources(t *testing.T) {
	h := newHarness(t, 91, nil)
	body := batchBody(nil, domaintest.Concept("pandas-filtering"))
	body["idempotency_key"] = "batch-body-key-1"

	rec := h.do(t, http.MethodPost, "/api/v1/batch/validate", body,
		map[string]string{api.IdempotencyHeader: "batch-header-key"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec).Details, "differ")

	for range 2 {
		rec = h.do(t, http.MethodPost, "/api/v1/batch/validate", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, h.assessor.Calls())
}

func TestReports(t *testing.T) {
	h := newHarness(t, 91, nil)
	r, err := domain.NewQualityReport(domain.ReportDraft{
		ItemID:      "pandas-filtering",
		ItemType:    domain.ItemKindContent,
		Scores:      domaintest.PerfectScores(),
		Gates:       domaintest.PassingGates(),
		Telemetry:   domaintest.Telemetry(),
		ValidatedAt: fixedNow,
	})
	require.NoError(t, err)
	h.reports.reports[r.ItemID] = r

	rec := h.do(t, http.MethodGet, "/api/v1/reports/pandas-filtering", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/reports/unknown-item", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec).ErrorCode)

	rec = h.do(t, http.MethodGet, "/api/v1/reports?min_score=90&limit=9999", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, h.reports.lastMin)
	assert.Equal(t, api.MaxListLimit, h.reports.lastLim)

	rec = h.do(t, http.MethodGet, "/api/v1/reports?limit=ten", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthVersionMetrics(t *testing.T) {
	h := newHarness(t, 91, nil)

	rec := h.do(t, http.MethodGet, "/version", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"1.4.0"`)
	assert.Contains(t, rec.Body.String(), `"pass_threshold":85`)

	h.do(t, http.MethodPost, "/api/v1/content/validate", domaintest.Concept("pandas-filtering"), nil)
	rec = h.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "qualitycheck_http_requests_total"))
}

func TestHealth_Degraded(t *testing.T) {
	v, err := validation.New(&domaintest.StaticAssessor{}, validation.DefaultConfig())
	require.NoError(t, err)
	svc := service.New(v, batch.New(v, batch.Config{}))
	srv, err := api.NewServer(svc, api.Config{AuthDisabled: true},
		api.WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
		api.WithHealthCheck("archive", func(context.Context) error { return nil }),
	)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"connection refused"`)
	assert.Contains(t, rec.Body.String(), `"archive":"ok"`)
}
