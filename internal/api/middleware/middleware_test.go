package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethelgard/qualitycheck/internal/metrics"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(APIKeyFrom(r.Context())))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuth(t *testing.T) {
	auth := NewAPIKeyAuth([]string{"key-one", " key-two ", ""}, false, nil)
	h := auth.Middleware(ok)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer", "Authorization", "Bearer key-one", http.StatusOK},
		{"x-api-key", "X-API-Key", "key-two", http.StatusOK},
		{"wrong key", "Authorization", "Bearer key-three", http.StatusUnauthorized},
		{"prefix of a key", "X-API-Key", "key", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic a2V5LW9uZQ==", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/content/validate", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := serve(h, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "key-two")
	assert.Equal(t, "key-two", serve(h, req).Body.String(), "key is stored on the context")
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := NewAPIKeyAuth(nil, true, nil).Middleware(ok)
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_PerKeyBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var gotRetry int
	rl := NewRateLimiter(1, 2, func(w http.ResponseWriter, _ *http.Request, retryAfter int) {
		gotRetry = retryAfter
		w.WriteHeader(http.StatusTooManyRequests)
	})
	rl.now = func() time.Time { return now }
	h := NewAPIKeyAuth([]string{"a-key", "b-key"}, false, nil).Middleware(rl.Middleware(ok))

	call := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-API-Key", key)
		return serve(h, req).Code
	}

	assert.Equal(t, http.StatusOK, call("a-key"))
	assert.Equal(t, http.StatusOK, call("a-key"))
	assert.Equal(t, http.StatusTooManyRequests, call("a-key"))
	assert.Equal(t, 1, gotRetry)
	assert.Equal(t, http.StatusOK, call("b-key"), "keys do not share a bucket")

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("a-key"), "bucket refills")
}

func TestRateLimiter_RetryAfterRoundsUp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(0.5, 1, nil)
	rl.now = func() time.Time { return now }

	allowed, _ := rl.Allow("k")
	require.True(t, allowed)
	allowed, retryAfter := rl.Allow("k")
	require.False(t, allowed)
	assert.Equal(t, 2, retryAfter)

	allowed, retryAfter = rl.Allow("k")
	require.False(t, allowed)
	assert.Equal(t, 2, retryAfter, "a rejected request consumes no token")
}

func TestRateLimiter_Prune(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, 1, nil)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(2 * time.Hour)
	rl.Allow("fresh")

	assert.Equal(t, 1, rl.Prune(time.Hour))
}

func TestLogger_LevelsByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"status":503`)
	assert.Contains(t, buf.String(), `"path":"/health"`)
}

func TestTelemetry_RecordsRoutePattern(t *testing.T) {
	m := metrics.New()
	r := chi.NewRouter()
	r.Use(Telemetry(m))
	r.Get("/api/v1/reports/{itemID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/reports/pandas-filtering", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/api/v1/reports/numpy-basics", nil))

	assert.InDelta(t, 2, testutil.ToFloat64(
		m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/reports/{itemID}", "404")), 0)
}
