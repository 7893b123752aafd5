package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/eventcore/workflowengine"
	"github.com/relaywire/eventcore/workflowengine/inmem"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, req Request) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	recorded []Decision
}

func (r *fakeRecorder) RecordOutcome(ctx context.Context, requestID string, decision Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, decision)
	return nil
}

func (r *fakeRecorder) last() Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded[len(r.recorded)-1]
}

func newTestEngine(t *testing.T, notifier Notifier, recorder Recorder) workflowengine.Engine {
	t.Helper()
	engine := inmem.New()
	require.NoError(t, RegisterWith(context.Background(), engine, notifier, recorder))
	return engine
}

func TestApprovalWorkflowApprovedBySignal(t *testing.T) {
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	engine := newTestEngine(t, notifier, recorder)

	handle, err := engine.StartWorkflow(context.Background(), workflowengine.WorkflowStartRequest{
		ID: "wf-1", Workflow: WorkflowName,
		Input: Request{RequestID: "sugg-1", Approver: "approver-1", TimeoutHours: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var d Decision
		return handle.Query(context.Background(), "get_details", &d) == nil && d.Status == StatusAwaiting
	}, time.Second, time.Millisecond)

	require.NoError(t, handle.Signal(context.Background(), "approve", ApproveSignal{ReviewerID: "admin-1", Comment: "looks good"}))

	var result Decision
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.Equal(t, StatusApproved, result.Status)
	require.Equal(t, "admin-1", result.ReviewerID)
	require.Equal(t, 1, notifier.calls)
	require.Equal(t, StatusApproved, recorder.last().Status)
}

func TestApprovalWorkflowRejectedBySignal(t *testing.T) {
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	engine := newTestEngine(t, notifier, recorder)

	handle, err := engine.StartWorkflow(context.Background(), workflowengine.WorkflowStartRequest{
		ID: "wf-2", Workflow: WorkflowName,
		Input: Request{RequestID: "sugg-2", Approver: "approver-1", TimeoutHours: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var d Decision
		return handle.Query(context.Background(), "get_details", &d) == nil && d.Status == StatusAwaiting
	}, time.Second, time.Millisecond)

	require.NoError(t, handle.Signal(context.Background(), "reject", RejectSignal{ReviewerID: "admin-2", Comment: "nope"}))

	var result Decision
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.Equal(t, StatusRejected, result.Status)
	require.Equal(t, "admin-2", result.ReviewerID)
	require.Equal(t, StatusRejected, recorder.last().Status)
}

func TestApprovalWorkflowTimesOut(t *testing.T) {
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	engine := newTestEngine(t, notifier, recorder)

	// TimeoutHours of zero resolves the timer immediately: this exercises
	// the timeout branch without a real wall-clock wait.
	handle, err := engine.StartWorkflow(context.Background(), workflowengine.WorkflowStartRequest{
		ID: "wf-3", Workflow: WorkflowName,
		Input: Request{RequestID: "sugg-3", Approver: "approver-1", TimeoutHours: 0},
	})
	require.NoError(t, err)

	var result Decision
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.Equal(t, StatusTimedOut, result.Status)
	require.Equal(t, StatusTimedOut, recorder.last().Status)
}

func TestApprovalWorkflowNotifyFailureExhaustsWithoutAwaiting(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	recorder := &fakeRecorder{}
	engine := newTestEngine(t, notifier, recorder)

	handle, err := engine.StartWorkflow(context.Background(), workflowengine.WorkflowStartRequest{
		ID: "wf-4", Workflow: WorkflowName,
		Input: Request{RequestID: "sugg-4", Approver: "approver-1", TimeoutHours: 1},
	})
	require.NoError(t, err)

	var result Decision
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, StatusFailed, recorder.last().Status)
}

func TestApprovalWorkflowQueryWorksAfterTerminal(t *testing.T) {
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	engine := newTestEngine(t, notifier, recorder)

	handle, err := engine.StartWorkflow(context.Background(), workflowengine.WorkflowStartRequest{
		ID: "wf-5", Workflow: WorkflowName,
		Input: Request{RequestID: "sugg-5", Approver: "approver-1", TimeoutHours: 0},
	})
	require.NoError(t, err)
	require.NoError(t, handle.Wait(context.Background(), nil))

	var d Decision
	require.NoError(t, handle.Query(context.Background(), "get_details", &d))
	require.Equal(t, StatusTimedOut, d.Status)
}

func TestApprovalWorkflowDuplicateSignalAfterTerminalIsIgnored(t *testing.T) {
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	engine := newTestEngine(t, notifier, recorder)

	handle, err := engine.StartWorkflow(context.Background(), workflowengine.WorkflowStartRequest{
		ID: "wf-6", Workflow: WorkflowName,
		Input: Request{RequestID: "sugg-6", Approver: "approver-1", TimeoutHours: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var d Decision
		return handle.Query(context.Background(), "get_details", &d) == nil && d.Status == StatusAwaiting
	}, time.Second, time.Millisecond)

	require.NoError(t, handle.Signal(context.Background(), "approve", ApproveSignal{ReviewerID: "admin-1"}))

	var result Decision
	require.NoError(t, handle.Wait(context.Background(), &result))
	require.Equal(t, StatusApproved, result.Status)

	// A late reject arriving after the workflow has already returned is
	// rejected by the engine outright (the run is closed) rather than
	// reopening or mutating the already-recorded terminal decision.
	require.Error(t, handle.Signal(context.Background(), "reject", RejectSignal{ReviewerID: "admin-2"}))

	var d Decision
	require.NoError(t, handle.Query(context.Background(), "get_details", &d))
	require.Equal(t, StatusApproved, d.Status)
}
