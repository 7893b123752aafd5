// Package approval implements the Approval Workflow: notify an approver,
// wait for a signal or a timeout, and record the outcome. It is meant to
// be started as a child (or standalone) workflow by a handler workflow
// that needs a human decision before proceeding.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/eventcore/workflowengine"
)

// WorkflowName is the name this workflow registers under with an Engine.
const WorkflowName = "ApprovalWorkflow"

const (
	NotifyActivityName        = "approval.notify_approver"
	RecordOutcomeActivityName = "approval.record_outcome"
)

// Status is the terminal (or in-flight) state of an approval request.
type Status string

const (
	StatusNotifying Status = "notifying"
	StatusAwaiting  Status = "awaiting"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
)

// Request is the approval workflow's input.
type Request struct {
	RequestID    string
	RequestType  string
	Requester    string
	Approver     string
	Title        string
	Description  string
	Amount       *float64
	TimeoutHours int
	Metadata     map[string]string
}

// Decision is the approval workflow's result, and the payload handed to
// the get_details query at any point during or after the run.
type Decision struct {
	Status     Status
	RequestID  string
	ApproverID string
	ReviewerID string
	Comment    string
	DecidedAt  time.Time
}

// ApproveSignal is the payload of an "approve" signal.
type ApproveSignal struct {
	ReviewerID string
	Comment    string
}

// RejectSignal is the payload of a "reject" signal.
type RejectSignal struct {
	ReviewerID string
	Comment    string
}

// Notifier delivers the approval request to its approver. The workflow
// retries it per a fixed policy; exhausting retries fails the request
// without ever reaching the awaiting state.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// Recorder persists the workflow's terminal outcome onto whatever domain
// row is waiting on it (a SuggestionRecord, or another parent row). It
// runs as an activity so its own failure doesn't prevent the workflow
// itself from returning a decision.
type Recorder interface {
	RecordOutcome(ctx context.Context, requestID string, decision Decision) error
}

// RegisterWith registers the approval workflow and its two activities on
// engine. Call this once per process before starting any ApprovalWorkflow
// run.
func RegisterWith(ctx context.Context, engine workflowengine.Engine, notifier Notifier, recorder Recorder) error {
	if err := engine.RegisterActivity(ctx, workflowengine.ActivityDefinition{
		Name: NotifyActivityName,
		Handler: func(ctx context.Context, input any) (any, error) {
			req, ok := input.(Request)
			if !ok {
				return nil, fmt.Errorf("approval: notify activity got %T, want Request", input)
			}
			return nil, notifier.Notify(ctx, req)
		},
	}); err != nil {
		return fmt.Errorf("approval: register notify activity: %w", err)
	}

	if err := engine.RegisterActivity(ctx, workflowengine.ActivityDefinition{
		Name: RecordOutcomeActivityName,
		Handler: func(ctx context.Context, input any) (any, error) {
			decision, ok := input.(Decision)
			if !ok {
				return nil, fmt.Errorf("approval: record-outcome activity got %T, want Decision", input)
			}
			return nil, recorder.RecordOutcome(ctx, decision.RequestID, decision)
		},
	}); err != nil {
		return fmt.Errorf("approval: register record-outcome activity: %w", err)
	}

	if err := engine.RegisterWorkflow(ctx, workflowengine.WorkflowDefinition{
		Name:    WorkflowName,
		Handler: Workflow,
	}); err != nil {
		return fmt.Errorf("approval: register workflow: %w", err)
	}
	return nil
}

// Workflow is the ApprovalWorkflow entry point: notify -> await
// approve/reject/timeout -> record outcome.
func Workflow(ctx workflowengine.WorkflowContext, input any) (any, error) {
	req, ok := input.(Request)
	if !ok {
		return nil, fmt.Errorf("approval: workflow got %T, want Request", input)
	}

	state := &decisionState{decision: Decision{Status: StatusNotifying, RequestID: req.RequestID, ApproverID: req.Approver}}
	if err := ctx.SetQueryHandler("get_details", func(args ...any) (any, error) {
		return state.snapshot(), nil
	}); err != nil {
		return nil, fmt.Errorf("approval: register get_details query: %w", err)
	}

	notifyErr := ctx.ExecuteActivity(ctx.Context(), workflowengine.ActivityRequest{
		Name:  NotifyActivityName,
		Input: req,
		RetryPolicy: workflowengine.RetryPolicy{
			MaxAttempts:        3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
		},
		Timeout: 30 * time.Second,
	}, nil)

	if notifyErr != nil {
		decision := state.setTerminal(StatusFailed, "", "notification failed: "+notifyErr.Error(), ctx.Now())
		recordOutcome(ctx, decision)
		return decision, nil
	}

	state.setStatus(StatusAwaiting)

	approveCh := ctx.SignalChannel("approve")
	rejectCh := ctx.SignalChannel("reject")

	timeout := time.Duration(req.TimeoutHours) * time.Hour
	timer, err := ctx.NewTimer(ctx.Context(), timeout)
	if err != nil {
		return nil, fmt.Errorf("approval: start timeout timer: %w", err)
	}

	var (
		approveSignal ApproveSignal
		rejectSignal  RejectSignal
		gotApprove    bool
		gotReject     bool
	)
	awaitErr := ctx.Await(ctx.Context(), func() bool {
		switch {
		case approveCh.ReceiveAsync(&approveSignal):
			gotApprove = true
			return true
		case rejectCh.ReceiveAsync(&rejectSignal):
			gotReject = true
			return true
		case timer.IsReady():
			return true
		default:
			return false
		}
	})
	if awaitErr != nil {
		return nil, fmt.Errorf("approval: wait for decision: %w", awaitErr)
	}

	var decision Decision
	now := ctx.Now()
	switch {
	case gotApprove:
		decision = state.setTerminal(StatusApproved, approveSignal.ReviewerID, approveSignal.Comment, now)
	case gotReject:
		decision = state.setTerminal(StatusRejected, rejectSignal.ReviewerID, rejectSignal.Comment, now)
	default:
		decision = state.setTerminal(StatusTimedOut, "", "", now)
	}

	recordOutcome(ctx, decision)
	return decision, nil
}

// recordOutcome runs the record-outcome activity best-effort: its
// failure is logged but never turns a reached decision into a workflow
// error, matching the suggestion store's own fire-and-forget posture
// toward notifying callers of state it no longer controls.
func recordOutcome(ctx workflowengine.WorkflowContext, decision Decision) {
	err := ctx.ExecuteActivity(ctx.Context(), workflowengine.ActivityRequest{
		Name:  RecordOutcomeActivityName,
		Input: decision,
		RetryPolicy: workflowengine.RetryPolicy{
			MaxAttempts:        3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
		},
		Timeout: 30 * time.Second,
	}, nil)
	if err != nil {
		ctx.Logger().Error(ctx.Context(), "approval: failed to record outcome",
			"request_id", decision.RequestID, "status", string(decision.Status), "error", err.Error())
	}
}

// decisionState is the mutable state backing the get_details query,
// valid to call in every state including after the workflow has
// returned (the engine retains the last query handler registered).
type decisionState struct {
	decision Decision
}

func (s *decisionState) setStatus(status Status) {
	s.decision.Status = status
}

func (s *decisionState) setTerminal(status Status, reviewerID, comment string, decidedAt time.Time) Decision {
	s.decision.Status = status
	s.decision.ReviewerID = reviewerID
	s.decision.Comment = comment
	s.decision.DecidedAt = decidedAt
	return s.decision
}

func (s *decisionState) snapshot() Decision {
	return s.decision
}
