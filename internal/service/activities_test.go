package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/aethelgard/qualitycheck/internal/batch"
	"github.com/aethelgard/qualitycheck/internal/domain"
	"github.com/aethelgard/qualitycheck/internal/domain/domaintest"
	"github.com/aethelgard/qualitycheck/internal/service"
	"github.com/aethelgard/qualitycheck/internal/validation"
	pkgactivity "github.com/aethelgard/qualitycheck/pkg/activity"
)

func newActivities(t *testing.T, assessor domain.Assessor, sink *recordingSink) *service.Activities {
	t.Helper()
	v, err := validation.New(assessor, validation.DefaultConfig())
	require.NoError(t, err)
	base := pkgactivity.NewBaseActivities(sink)
	svc := service.New(v, batch.New(v, batch.Config{}), service.WithEmitter(base.EmitEventSafe))
	return service.NewActivities(base, svc)
}

func applicationError(t *testing.T, err error) *temporal.ApplicationError {
	t.Helper()
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	return appErr
}

func TestActivities_ValidateBatchSucceeds(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	sink := &recordingSink{}
	acts := newActivities(t, &domaintest.StaticAssessor{Result: domaintest.Assessment(95)}, sink)
	env.RegisterActivity(acts.ValidateBatch)

	req := &domain.BatchRequest{
		Items:  []domain.Item{domaintest.Concept("pandas-filtering"), domaintest.Question("q-filter-1")},
		Mode:   domain.ValidationModeFull,
		Strict: true,
	}
	val, err := env.ExecuteActivity(acts.ValidateBatch, req)
	require.NoError(t, err)

	var res domain.BatchResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, "q-filter-1", res.Results[1].Report.ItemID)

	require.Len(t, sink.events, 3)
	for _, e := range sink.events {
		assert.NotEmpty(t, e.WorkflowID, "events carry the workflow identity")
	}
}

func TestActivities_CallerErrorsAreNonRetryable(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	assessor := &domaintest.StaticAssessor{Result: domaintest.Assessment(95)}
	acts := newActivities(t, assessor, &recordingSink{})
	env.RegisterActivity(acts.ValidateBatch)

	req := &domain.BatchRequest{
		Items:  []domain.Item{domaintest.Concept("pandas-filtering"), domaintest.Concept("Bad Id")},
		Mode:   domain.ValidationModeFull,
		Strict: true,
	}
	_, err := env.ExecuteActivity(acts.ValidateBatch, req)
	require.Error(t, err)

	appErr := applicationError(t, err)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, service.ErrorTypeCallerInput, appErr.Type())
	assert.Zero(t, assessor.Calls())
}

func TestActivities_UnavailableAssessorIsRetryable(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	assessor := &domaintest.StaticAssessor{Err: errProviderDown}
	acts := newActivities(t, assessor, &recordingSink{})
	env.RegisterActivity(acts.ValidateBatch)

	req := &domain.BatchRequest{
		Items:  []domain.Item{domaintest.Concept("pandas-filtering")},
		Mode:   domain.ValidationModeQuick,
		Strict: true,
	}
	_, err := env.ExecuteActivity(acts.ValidateBatch, req)
	require.Error(t, err)

	appErr := applicationError(t, err)
	assert.False(t, appErr.NonRetryable())
	assert.Equal(t, service.ErrorTypeUnavailable, appErr.Type())
}

func TestActivities_PartialBatchReportsErrorsInline(t *testing.T) {
	acts := newActivities(t, &domaintest.StaticAssessor{Err: errProviderDown}, &recordingSink{})

	res, err := acts.ValidateBatch(context.Background(), &domain.BatchRequest{
		Items: []domain.Item{domaintest.Concept("pandas-filtering")},
		Mode:  domain.ValidationModeFull,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errored)
	assert.Equal(t, domain.CodeAssessmentUnavailable, res.Results[0].Error.Code)
}
