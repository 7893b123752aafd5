package suggestion

import "context"

// temporalSignaler adapts an engine whose SignalByID takes an explicit run
// id (Temporal's workflow/run-id addressing) to WorkflowSignaler, which
// only ever has a workflow id to work with. An empty run id is Temporal's
// own convention for "the current run of this workflow id".
type temporalSignaler interface {
	SignalByID(ctx context.Context, workflowID, runID, name string, payload any) error
}

// NewTemporalSignaler wraps a Temporal-backed engine (or any engine with
// the same run-id-qualified SignalByID shape) as a WorkflowSignaler.
func NewTemporalSignaler(engine temporalSignaler) WorkflowSignaler {
	return temporalSignalerAdapter{engine: engine}
}

type temporalSignalerAdapter struct {
	engine temporalSignaler
}

func (a temporalSignalerAdapter) SignalByID(ctx context.Context, workflowID, name string, payload any) error {
	return a.engine.SignalByID(ctx, workflowID, "", name, payload)
}
