// Package suggestion implements the Suggestion Store: a thin persistence
// layer for proposed-but-unapproved entities (new intents, taxonomy nodes,
// customers, contacts) with a review lifecycle, optionally linked to an
// Approval Workflow run.
package suggestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/eventcore/approval"
	"github.com/relaywire/eventcore/telemetry"
)

// WorkflowSignaler is the narrow subset of a workflow engine the Store
// needs: delivering a named signal to an already-running Approval
// Workflow instance by its workflow id. It is satisfied by a thin adapter
// over workflowengine.Engine (whose concrete backends address a run by
// workflow id plus run id; this package only ever persists the workflow
// id, so the adapter resolves the run id itself).
type WorkflowSignaler interface {
	SignalByID(ctx context.Context, workflowID, name string, payload any) error
}

// Kind is the polymorphic suggestion type.
type Kind string

const (
	KindNewIntent   Kind = "new_intent"
	KindNewTaxonomy Kind = "new_taxonomy"
	KindNewCustomer Kind = "new_customer"
	KindNewContact  Kind = "new_contact"
)

// Status is the suggestion's review state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusMerged   Status = "merged"
)

// Record is one proposed entity awaiting review.
type Record struct {
	ID         string
	Kind       Kind
	NaturalKey string
	Payload    map[string]string
	Status     Status

	WorkflowID string

	ReviewerID string
	ReviewedAt *time.Time
	ReviewNote string

	CreatedEntityID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is the persistence port the Store depends on.
type Repository interface {
	// FindPendingByNaturalKey enforces at-most-one-pending-per-natural-key:
	// Create consults this before inserting.
	FindPendingByNaturalKey(ctx context.Context, kind Kind, naturalKey string) (Record, bool, error)
	Insert(ctx context.Context, record Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	UpdateReview(ctx context.Context, id string, status Status, reviewerID, note, createdEntityID string, reviewedAt time.Time) error
	List(ctx context.Context, kind *Kind, status *Status, page, size int) ([]Record, int, error)
}

// Materializer performs the kind-specific creation of the real entity once
// a suggestion is approved (inserting a catalog entry, a customer row,
// etc.) and returns its id.
type Materializer interface {
	Materialize(ctx context.Context, record Record) (createdEntityID string, err error)
}

// Store implements the Suggestion Store operations.
type Store struct {
	repo          Repository
	signaler      WorkflowSignaler
	materializers map[Kind]Materializer
	logger        telemetry.Logger
	now           func() time.Time
	newID         func() string
}

// New builds a Store. signaler may be nil if no suggestions in this
// deployment are ever linked to an Approval Workflow run.
func New(repo Repository, signaler WorkflowSignaler, materializers map[Kind]Materializer, logger telemetry.Logger) *Store {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Store{
		repo:          repo,
		signaler:      signaler,
		materializers: materializers,
		logger:        logger,
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
}

// Create proposes a new entity. If a pending suggestion already exists for
// the same (kind, naturalKey), its id is returned instead of creating a
// duplicate.
func (s *Store) Create(ctx context.Context, kind Kind, naturalKey string, payload map[string]string, workflowID string) (Record, error) {
	if existing, ok, err := s.repo.FindPendingByNaturalKey(ctx, kind, naturalKey); err != nil {
		return Record{}, fmt.Errorf("suggestion: dedupe lookup: %w", err)
	} else if ok {
		return existing, nil
	}

	now := s.now().UTC()
	record := Record{
		ID:         s.newID(),
		Kind:       kind,
		NaturalKey: naturalKey,
		Payload:    payload,
		Status:     StatusPending,
		WorkflowID: workflowID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return Record{}, fmt.Errorf("suggestion: insert: %w", err)
	}
	return record, nil
}

// Approve materializes the proposed entity and marks the suggestion
// approved. Idempotent: approving an already-approved suggestion returns
// its existing created-entity id without re-materializing.
func (s *Store) Approve(ctx context.Context, id, reviewerID, note string) (string, error) {
	record, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("suggestion: get %s: %w", id, err)
	}
	if !ok {
		return "", fmt.Errorf("suggestion: %s not found", id)
	}
	if record.Status == StatusApproved {
		return record.CreatedEntityID, nil
	}
	if record.Status != StatusPending {
		return "", fmt.Errorf("suggestion: %s is not pending (status=%s)", id, record.Status)
	}

	materializer, ok := s.materializers[record.Kind]
	if !ok {
		return "", fmt.Errorf("suggestion: no materializer registered for kind %s", record.Kind)
	}
	createdEntityID, err := materializer.Materialize(ctx, record)
	if err != nil {
		return "", fmt.Errorf("suggestion: materialize %s: %w", id, err)
	}

	now := s.now().UTC()
	if err := s.repo.UpdateReview(ctx, id, StatusApproved, reviewerID, note, createdEntityID, now); err != nil {
		return "", fmt.Errorf("suggestion: update review: %w", err)
	}

	s.signalWorkflow(ctx, record.WorkflowID, "approve", reviewerID, note)

	return createdEntityID, nil
}

// Reject marks the suggestion rejected without materializing anything.
// Idempotent: rejecting an already-rejected suggestion is a no-op.
func (s *Store) Reject(ctx context.Context, id, reviewerID, note string) error {
	record, ok, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("suggestion: get %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("suggestion: %s not found", id)
	}
	if record.Status == StatusRejected {
		return nil
	}
	if record.Status != StatusPending {
		return fmt.Errorf("suggestion: %s is not pending (status=%s)", id, record.Status)
	}

	now := s.now().UTC()
	if err := s.repo.UpdateReview(ctx, id, StatusRejected, reviewerID, note, "", now); err != nil {
		return fmt.Errorf("suggestion: update review: %w", err)
	}

	s.signalWorkflow(ctx, record.WorkflowID, "reject", reviewerID, note)

	return nil
}

// List returns suggestions, optionally filtered by kind and/or status.
func (s *Store) List(ctx context.Context, kind *Kind, status *Status, page, size int) ([]Record, int, error) {
	return s.repo.List(ctx, kind, status, page, size)
}

// signalWorkflow notifies a linked Approval Workflow run that a decision
// was made. The payload is built as the concrete approval.ApproveSignal /
// approval.RejectSignal type approval.Workflow's signal channels decode
// into — not a bare map — since neither the in-memory engine's type-
// assignability check nor Temporal's JSON-by-field-name decoding would
// otherwise populate ReviewerID/Comment. Failure to signal never rolls
// back the materialization already committed — it is logged and the
// decision stands locally.
func (s *Store) signalWorkflow(ctx context.Context, workflowID, signalName, reviewerID, note string) {
	if workflowID == "" || s.signaler == nil {
		return
	}
	var payload any
	switch signalName {
	case "approve":
		payload = approval.ApproveSignal{ReviewerID: reviewerID, Comment: note}
	case "reject":
		payload = approval.RejectSignal{ReviewerID: reviewerID, Comment: note}
	default:
		s.logger.Warn(ctx, "suggestion: unknown approval signal name", "signal", signalName)
		return
	}
	if err := s.signaler.SignalByID(ctx, workflowID, signalName, payload); err != nil {
		s.logger.Warn(ctx, "suggestion: failed to signal approval workflow",
			"workflow_id", workflowID, "signal", signalName, "error", err.Error())
	}
}
