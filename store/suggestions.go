package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relaywire/eventcore/suggestion"
)

const suggestionsCollection = "suggestions"

// SuggestionStore implements suggestion.Repository over a Mongo
// collection.
type SuggestionStore struct {
	coll    collection
	timeout time.Duration
}

func newSuggestionStore(ctx context.Context, coll collection, timeout time.Duration) (*SuggestionStore, error) {
	// Partial unique index: at-most-one pending suggestion per (kind,
	// natural_key), enforced at the database layer as a backstop to the
	// application-level dedupe check in suggestion.Store.Create.
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "kind", Value: 1}, {Key: "natural_key", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": string(suggestion.StatusPending)}),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("store: ensure suggestions index: %w", err)
	}
	return &SuggestionStore{coll: coll, timeout: timeout}, nil
}

var _ suggestion.Repository = (*SuggestionStore)(nil)

// FindPendingByNaturalKey implements suggestion.Repository.
func (s *SuggestionStore) FindPendingByNaturalKey(ctx context.Context, kind suggestion.Kind, naturalKey string) (suggestion.Record, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var doc suggestionDocument
	filter := bson.M{"kind": kind, "natural_key": naturalKey, "status": suggestion.StatusPending}
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if isNoDocuments(err) {
		return suggestion.Record{}, false, nil
	}
	if err != nil {
		return suggestion.Record{}, false, fmt.Errorf("store: find pending suggestion: %w", err)
	}
	return doc.toRecord(), true, nil
}

// Insert implements suggestion.Repository.
func (s *SuggestionStore) Insert(ctx context.Context, record suggestion.Record) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.coll.InsertOne(ctx, fromSuggestion(record)); err != nil {
		return fmt.Errorf("store: insert suggestion: %w", err)
	}
	return nil
}

// Get implements suggestion.Repository.
func (s *SuggestionStore) Get(ctx context.Context, id string) (suggestion.Record, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var doc suggestionDocument
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if isNoDocuments(err) {
		return suggestion.Record{}, false, nil
	}
	if err != nil {
		return suggestion.Record{}, false, fmt.Errorf("store: get suggestion: %w", err)
	}
	return doc.toRecord(), true, nil
}

// UpdateReview implements suggestion.Repository.
func (s *SuggestionStore) UpdateReview(ctx context.Context, id string, status suggestion.Status, reviewerID, note, createdEntityID string, reviewedAt time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"status":            status,
		"reviewer_id":       reviewerID,
		"review_note":       note,
		"created_entity_id": createdEntityID,
		"reviewed_at":       reviewedAt,
		"updated_at":        reviewedAt,
	}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"id": id}, update)
	if err != nil {
		return fmt.Errorf("store: update suggestion review: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store: suggestion %s not found", id)
	}
	return nil
}

// List implements suggestion.Repository.
func (s *SuggestionStore) List(ctx context.Context, kind *suggestion.Kind, status *suggestion.Status, page, size int) ([]suggestion.Record, int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{}
	if kind != nil {
		filter["kind"] = *kind
	}
	if status != nil {
		filter["status"] = *status
	}

	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	cur, err := s.coll.Find(ctx, filter,
		options.Find().SetSkip(int64((page-1)*size)).SetLimit(int64(size)).SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("store: list suggestions: %w", err)
	}
	defer cur.Close(ctx)

	var records []suggestion.Record
	for cur.Next(ctx) {
		var doc suggestionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("store: decode suggestion: %w", err)
		}
		records = append(records, doc.toRecord())
	}
	if err := cur.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate suggestions: %w", err)
	}
	return records, len(records), nil
}

type suggestionDocument struct {
	ID         string            `bson:"id"`
	Kind       suggestion.Kind   `bson:"kind"`
	NaturalKey string            `bson:"natural_key"`
	Payload    map[string]string `bson:"payload,omitempty"`
	Status     suggestion.Status `bson:"status"`

	WorkflowID string `bson:"workflow_id,omitempty"`

	ReviewerID string     `bson:"reviewer_id,omitempty"`
	ReviewedAt *time.Time `bson:"reviewed_at,omitempty"`
	ReviewNote string     `bson:"review_note,omitempty"`

	CreatedEntityID string `bson:"created_entity_id,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func fromSuggestion(r suggestion.Record) suggestionDocument {
	return suggestionDocument{
		ID:              r.ID,
		Kind:            r.Kind,
		NaturalKey:      r.NaturalKey,
		Payload:         r.Payload,
		Status:          r.Status,
		WorkflowID:      r.WorkflowID,
		ReviewerID:      r.ReviewerID,
		ReviewedAt:      r.ReviewedAt,
		ReviewNote:      r.ReviewNote,
		CreatedEntityID: r.CreatedEntityID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (d suggestionDocument) toRecord() suggestion.Record {
	return suggestion.Record{
		ID:              d.ID,
		Kind:            d.Kind,
		NaturalKey:      d.NaturalKey,
		Payload:         d.Payload,
		Status:          d.Status,
		WorkflowID:      d.WorkflowID,
		ReviewerID:      d.ReviewerID,
		ReviewedAt:      d.ReviewedAt,
		ReviewNote:      d.ReviewNote,
		CreatedEntityID: d.CreatedEntityID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
