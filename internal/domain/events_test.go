package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

func TestNewReportProducedEvent(t *testing.T) {
	d := draft(88)
	d.Gates[3].Passed = false
	report, err := domain.NewQualityReport(d)
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	env, err := domain.NewReportProducedEvent("batch-1", 2, report, "service", at)
	require.NoError(t, err)

	assert.Equal(t, domain.EventTypeReportProduced, env.EventType)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, "batch-1", env.CorrelationID)
	assert.Equal(t, domain.EventIdempotencyKey("batch-1", ":report:2"), env.IdempotencyKey)

	var payload domain.ReportProducedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, 2, payload.Index)
	assert.Equal(t, 88, payload.OverallScore)
	assert.False(t, payload.PassesQuality)
	assert.Equal(t, []domain.GateName{domain.GateScopeOK}, payload.FailedGates)
}

func TestEventIdempotencyKey_Deterministic(t *testing.T) {
	a := domain.EventIdempotencyKey("k", ":batch")
	b := domain.EventIdempotencyKey("k", ":batch")
	c := domain.EventIdempotencyKey("k", ":report:0")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestNewBatchCompletedEvent(t *testing.T) {
	report, err := domain.NewQualityReport(draft(95))
	require.NoError(t, err)
	result, err := domain.NewBatchResult(domain.ValidationModeQuick, true,
		[]domain.ItemResult{{Index: 0, Report: report}}, time.Now())
	require.NoError(t, err)

	env, err := domain.NewBatchCompletedEvent("batch-7", result, "service", time.Now())
	require.NoError(t, err)

	var payload domain.BatchCompletedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, 1, payload.Total)
	assert.Equal(t, 1, payload.Passed)
	assert.True(t, payload.Strict)
	assert.Equal(t, domain.ValidationModeQuick, payload.Mode)
}

func TestEventEnvelope_ValidateRequiresCorrelation(t *testing.T) {
	report, err := domain.NewQualityReport(draft(95))
	require.NoError(t, err)
	_, err = domain.NewReportProducedEvent("", 0, report, "service", time.Now())
	require.Error(t, err)
}
