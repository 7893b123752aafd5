package suggestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/eventcore/approval"
	"github.com/relaywire/eventcore/workflowengine"
	"github.com/relaywire/eventcore/workflowengine/inmem"
)

type fakeRepo struct {
	records map[string]Record
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]Record)}
}

func (r *fakeRepo) FindPendingByNaturalKey(ctx context.Context, kind Kind, naturalKey string) (Record, bool, error) {
	for _, rec := range r.records {
		if rec.Kind == kind && rec.NaturalKey == naturalKey && rec.Status == StatusPending {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (r *fakeRepo) Insert(ctx context.Context, record Record) error {
	r.records[record.ID] = record
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (Record, bool, error) {
	rec, ok := r.records[id]
	return rec, ok, nil
}

func (r *fakeRepo) UpdateReview(ctx context.Context, id string, status Status, reviewerID, note, createdEntityID string, reviewedAt time.Time) error {
	rec := r.records[id]
	rec.Status = status
	rec.ReviewerID = reviewerID
	rec.ReviewNote = note
	rec.CreatedEntityID = createdEntityID
	rec.ReviewedAt = &reviewedAt
	r.records[id] = rec
	return nil
}

func (r *fakeRepo) List(ctx context.Context, kind *Kind, status *Status, page, size int) ([]Record, int, error) {
	var out []Record
	for _, rec := range r.records {
		if kind != nil && rec.Kind != *kind {
			continue
		}
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, rec)
	}
	return out, len(out), nil
}

type fakeMaterializer struct {
	createdID string
	err       error
	calls     int
}

func (m *fakeMaterializer) Materialize(ctx context.Context, record Record) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.createdID, nil
}

type fakeSignaler struct {
	signals []string
	err     error
}

func (s *fakeSignaler) SignalByID(ctx context.Context, workflowID, name string, payload any) error {
	if s.err != nil {
		return s.err
	}
	s.signals = append(s.signals, workflowID+":"+name)
	return nil
}

func TestCreateDedupesPendingByNaturalKey(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo, nil, nil, nil)

	first, err := store.Create(context.Background(), KindNewIntent, "refund_request", map[string]string{"label": "Refund"}, "")
	require.NoError(t, err)

	second, err := store.Create(context.Background(), KindNewIntent, "refund_request", map[string]string{"label": "Refund (again)"}, "")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID, "a second proposal for the same natural key must resolve to the existing pending suggestion")
	require.Len(t, repo.records, 1)
}

func TestApproveMaterializesAndSignalsWorkflow(t *testing.T) {
	repo := newFakeRepo()
	mat := &fakeMaterializer{createdID: "intent-123"}
	signaler := &fakeSignaler{}
	store := New(repo, signaler, map[Kind]Materializer{KindNewIntent: mat}, nil)

	record, err := store.Create(context.Background(), KindNewIntent, "partner_inquiry", nil, "wf-approval-1")
	require.NoError(t, err)

	createdID, err := store.Approve(context.Background(), record.ID, "admin-1", "looks good")
	require.NoError(t, err)
	require.Equal(t, "intent-123", createdID)
	require.Equal(t, 1, mat.calls)
	require.Equal(t, []string{"wf-approval-1:approve"}, signaler.signals)

	stored, ok, err := repo.Get(context.Background(), record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusApproved, stored.Status)
}

func TestApproveIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	mat := &fakeMaterializer{createdID: "intent-456"}
	store := New(repo, nil, map[Kind]Materializer{KindNewIntent: mat}, nil)

	record, err := store.Create(context.Background(), KindNewIntent, "billing", nil, "")
	require.NoError(t, err)

	first, err := store.Approve(context.Background(), record.ID, "admin-1", "")
	require.NoError(t, err)

	second, err := store.Approve(context.Background(), record.ID, "admin-2", "")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, mat.calls, "re-approving an already-approved suggestion must not re-materialize")
}

func TestRejectIsIdempotentAndSignalsWorkflow(t *testing.T) {
	repo := newFakeRepo()
	signaler := &fakeSignaler{}
	store := New(repo, signaler, nil, nil)

	record, err := store.Create(context.Background(), KindNewCustomer, "acme-corp", nil, "wf-approval-2")
	require.NoError(t, err)

	require.NoError(t, store.Reject(context.Background(), record.ID, "admin-1", "not a real customer"))
	require.NoError(t, store.Reject(context.Background(), record.ID, "admin-1", "not a real customer"))

	require.Equal(t, []string{"wf-approval-2:reject"}, signaler.signals)

	stored, _, _ := repo.Get(context.Background(), record.ID)
	require.Equal(t, StatusRejected, stored.Status)
}

func TestApproveFailsWithoutRegisteredMaterializer(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo, nil, nil, nil)

	record, err := store.Create(context.Background(), KindNewTaxonomy, "shipping_delay", nil, "")
	require.NoError(t, err)

	_, err = store.Approve(context.Background(), record.ID, "admin-1", "")
	require.Error(t, err)
}

type integrationApprovalNotifier struct{}

func (integrationApprovalNotifier) Notify(ctx context.Context, req approval.Request) error {
	return nil
}

type integrationApprovalRecorder struct {
	mu        sync.Mutex
	decisions []approval.Decision
}

func (r *integrationApprovalRecorder) RecordOutcome(ctx context.Context, requestID string, decision approval.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, decision)
	return nil
}

func (r *integrationApprovalRecorder) last() approval.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[len(r.decisions)-1]
}

// TestApproveSignalsRealApprovalWorkflowWithReviewerIDAndComment drives
// Store.Approve against a real, running approval.Workflow instance (rather
// than a fake signaler that only records the call) and asserts the
// reviewer id and comment it passes actually arrive at the workflow's
// recorded terminal Decision — the signal payload must be the concrete
// approval.ApproveSignal type, not a bare map, for either engine backend
// to decode it correctly.
func TestApproveSignalsRealApprovalWorkflowWithReviewerIDAndComment(t *testing.T) {
	ctx := context.Background()
	engine := inmem.New()
	recorder := &integrationApprovalRecorder{}
	require.NoError(t, approval.RegisterWith(ctx, engine, integrationApprovalNotifier{}, recorder))

	repo := newFakeRepo()
	mat := &fakeMaterializer{createdID: "intent-real-1"}
	store := New(repo, engine, map[Kind]Materializer{KindNewIntent: mat}, nil)

	workflowID := "wf-approval-integration-1"
	record, err := store.Create(ctx, KindNewIntent, "real_workflow_case", nil, workflowID)
	require.NoError(t, err)

	handle, err := engine.StartWorkflow(ctx, workflowengine.WorkflowStartRequest{
		ID:       workflowID,
		Workflow: approval.WorkflowName,
		Input:    approval.Request{RequestID: record.ID, Approver: "approver-1", TimeoutHours: 1},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var d approval.Decision
		return handle.Query(ctx, "get_details", &d) == nil && d.Status == approval.StatusAwaiting
	}, time.Second, time.Millisecond)

	createdID, err := store.Approve(ctx, record.ID, "admin-42", "approved via integration test")
	require.NoError(t, err)
	require.Equal(t, "intent-real-1", createdID)

	var result approval.Decision
	require.NoError(t, handle.Wait(ctx, &result))
	require.Equal(t, approval.StatusApproved, result.Status)
	require.Equal(t, "admin-42", result.ReviewerID)
	require.Equal(t, "approved via integration test", result.Comment)

	last := recorder.last()
	require.Equal(t, approval.StatusApproved, last.Status)
	require.Equal(t, "admin-42", last.ReviewerID)
	require.Equal(t, "approved via integration test", last.Comment)
}

func TestSignalFailureDoesNotUndoApproval(t *testing.T) {
	repo := newFakeRepo()
	mat := &fakeMaterializer{createdID: "intent-789"}
	signaler := &fakeSignaler{err: context.DeadlineExceeded}
	store := New(repo, signaler, map[Kind]Materializer{KindNewIntent: mat}, nil)

	record, err := store.Create(context.Background(), KindNewIntent, "urgent_thing", nil, "wf-approval-3")
	require.NoError(t, err)

	createdID, err := store.Approve(context.Background(), record.ID, "admin-1", "")
	require.NoError(t, err, "a signal-delivery failure must not fail the approval itself")
	require.Equal(t, "intent-789", createdID)
}
