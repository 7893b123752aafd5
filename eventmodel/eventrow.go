package eventmodel

import "time"

// EventStatus is the dispatcher-owned lifecycle state of an EventRow.
type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusCompleted  EventStatus = "completed"
	EventStatusFailed     EventStatus = "failed"
	EventStatusSkipped    EventStatus = "skipped"
)

// CanTransitionTo reports whether the status machine allows moving from s
// to next. pending -> processing -> {completed, failed, skipped}, plus
// pending -> skipped directly; every other transition (including
// re-entering pending, or leaving a terminal state) is rejected.
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case EventStatusPending:
		return next == EventStatusProcessing || next == EventStatusSkipped
	case EventStatusProcessing:
		return next == EventStatusCompleted || next == EventStatusFailed || next == EventStatusSkipped
	default:
		return false
	}
}

// EventRow is the persisted dispatch record for exactly one
// idempotency_key. A duplicate delivery of the same key never creates a
// second row; the dispatcher acknowledges it and leaves the existing row
// unchanged.
type EventRow struct {
	EventID        string
	IdempotencyKey string
	Status         EventStatus
	Intent         string
	WorkflowID     string
	ResponseContent string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewEventRow constructs the initial pending row for a freshly accepted
// event.
func NewEventRow(e UnifiedEvent, now time.Time) EventRow {
	return EventRow{
		EventID:        e.EventID,
		IdempotencyKey: e.IdempotencyKey,
		Status:         EventStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
