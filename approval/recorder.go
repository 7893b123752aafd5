package approval

import (
	"context"
	"fmt"
)

// SuggestionReviewer is the subset of suggestion.Store a SuggestionRecorder
// needs: the two review outcomes a terminal approval decision maps onto.
type SuggestionReviewer interface {
	Approve(ctx context.Context, id, reviewerID, note string) (string, error)
	Reject(ctx context.Context, id, reviewerID, note string) error
}

// SuggestionRecorder adapts a terminal approval Decision onto a
// suggestion.Store review call. It assumes the workflow's RequestID is the
// id of the SuggestionRecord it was started to gate — the convention
// suggestion.Store.Create follows when it passes its own record id as the
// workflow's request_id.
//
// Calling Approve/Reject here after a human already drove the same
// outcome through suggestion.Store directly (the common case: the signal
// that woke this workflow up *was* that call) is a safe no-op — both
// methods are idempotent by status check.
type SuggestionRecorder struct {
	reviewer SuggestionReviewer
}

// NewSuggestionRecorder builds a Recorder backed by reviewer.
func NewSuggestionRecorder(reviewer SuggestionReviewer) *SuggestionRecorder {
	return &SuggestionRecorder{reviewer: reviewer}
}

// RecordOutcome implements Recorder.
func (r *SuggestionRecorder) RecordOutcome(ctx context.Context, requestID string, decision Decision) error {
	switch decision.Status {
	case StatusApproved:
		_, err := r.reviewer.Approve(ctx, requestID, decision.ReviewerID, decision.Comment)
		return err
	case StatusRejected, StatusTimedOut, StatusFailed:
		reviewerID := decision.ReviewerID
		if reviewerID == "" {
			reviewerID = "system"
		}
		note := decision.Comment
		if note == "" {
			note = "approval workflow ended: " + string(decision.Status)
		}
		return r.reviewer.Reject(ctx, requestID, reviewerID, note)
	default:
		return fmt.Errorf("approval: cannot record non-terminal status %q", decision.Status)
	}
}
