package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relaywire/eventcore/eventmodel"
)

const eventsCollection = "event_rows"

// EventStore is the EventRow repository the dispatcher depends on for
// idempotent ingestion and lifecycle transitions.
type EventStore struct {
	coll    collection
	timeout time.Duration
}

func newEventStore(ctx context.Context, coll collection, timeout time.Duration) (*EventStore, error) {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("store: ensure event_rows index: %w", err)
	}
	return &EventStore{coll: coll, timeout: timeout}, nil
}

// FindByIdempotencyKey looks up the existing row for a key, if any.
func (s *EventStore) FindByIdempotencyKey(ctx context.Context, key string) (eventmodel.EventRow, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var doc eventRowDocument
	err := s.coll.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&doc)
	if isNoDocuments(err) {
		return eventmodel.EventRow{}, false, nil
	}
	if err != nil {
		return eventmodel.EventRow{}, false, fmt.Errorf("store: find event row: %w", err)
	}
	return doc.toRow(), true, nil
}

// Insert persists a freshly created pending row. A duplicate
// idempotency_key (a race between two concurrent deliveries) surfaces as
// an error the caller treats the same as a pre-existing row found via
// FindByIdempotencyKey.
func (s *EventStore) Insert(ctx context.Context, row eventmodel.EventRow) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.coll.InsertOne(ctx, fromRow(row)); err != nil {
		return fmt.Errorf("store: insert event row: %w", err)
	}
	return nil
}

// TransitionStatus moves an EventRow's status forward, stamping the
// fields relevant to the target state. It does not itself enforce the
// status machine; callers consult eventmodel.EventStatus.CanTransitionTo
// before calling it, and MongoDB's filter on the expected current status
// makes a stale-read double-transition a no-op rather than a corruption.
func (s *EventStore) TransitionStatus(ctx context.Context, eventID string, from, to eventmodel.EventStatus, fields map[string]any, now time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	set := bson.M{"status": to, "updated_at": now}
	for k, v := range fields {
		set[k] = v
	}
	filter := bson.M{"event_id": eventID, "status": from}
	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("store: transition event row: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store: event row %s not in expected status %s", eventID, from)
	}
	return nil
}

type eventRowDocument struct {
	EventID         string               `bson:"event_id"`
	IdempotencyKey  string               `bson:"idempotency_key"`
	Status          eventmodel.EventStatus `bson:"status"`
	Intent          string               `bson:"intent,omitempty"`
	WorkflowID      string               `bson:"workflow_id,omitempty"`
	ResponseContent string               `bson:"response_content,omitempty"`
	ErrorMessage    string               `bson:"error_message,omitempty"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func fromRow(r eventmodel.EventRow) eventRowDocument {
	return eventRowDocument{
		EventID:         r.EventID,
		IdempotencyKey:  r.IdempotencyKey,
		Status:          r.Status,
		Intent:          r.Intent,
		WorkflowID:      r.WorkflowID,
		ResponseContent: r.ResponseContent,
		ErrorMessage:    r.ErrorMessage,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (d eventRowDocument) toRow() eventmodel.EventRow {
	return eventmodel.EventRow{
		EventID:         d.EventID,
		IdempotencyKey:  d.IdempotencyKey,
		Status:          d.Status,
		Intent:          d.Intent,
		WorkflowID:      d.WorkflowID,
		ResponseContent: d.ResponseContent,
		ErrorMessage:    d.ErrorMessage,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
