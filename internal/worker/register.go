package worker

import (
	"github.com/aethelgard/qualitycheck/internal/service"
	"github.com/aethelgard/qualitycheck/internal/workflow"
	"github.com/aethelgard/qualitycheck/pkg/activity"
)

// Registry is the part of a Temporal worker RegisterAll needs. Both
// worker.Worker and the testsuite environments satisfy it.
type Registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// RegisterAll registers the batch validation workflow and its activity.
// Call it once, before starting the worker.
func RegisterAll(w Registry, s *Stack) *service.Activities {
	base := activity.NewBaseActivities(s.Events)
	acts := service.NewActivities(base, s.NewService(service.WithEmitter(base.EmitEventSafe)))

	w.RegisterWorkflow(workflow.BatchValidationWorkflow)
	w.RegisterActivity(acts.ValidateBatch)
	return acts
}
