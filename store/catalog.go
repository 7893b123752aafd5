package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relaywire/eventcore/intent"
)

const catalogCollection = "intent_catalog"

// CatalogStore implements intent.Catalog over a Mongo collection of
// catalog entries, plus the admin operations (Upsert, SetActive) the
// catalog management surface needs but the intent package's consumer-side
// interface does not.
type CatalogStore struct {
	coll    collection
	timeout time.Duration
}

func newCatalogStore(ctx context.Context, coll collection, timeout time.Duration) (*CatalogStore, error) {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("store: ensure intent_catalog index: %w", err)
	}
	return &CatalogStore{coll: coll, timeout: timeout}, nil
}

var _ intent.Catalog = (*CatalogStore)(nil)

// Active implements intent.Catalog.
func (s *CatalogStore) Active(ctx context.Context) ([]intent.Entry, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.M{"active": true})
	if err != nil {
		return nil, fmt.Errorf("store: query active catalog: %w", err)
	}
	defer cur.Close(ctx)

	var entries []intent.Entry
	for cur.Next(ctx) {
		var doc catalogDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: decode catalog entry: %w", err)
		}
		entries = append(entries, doc.toEntry())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate catalog: %w", err)
	}
	return intent.SortByPriorityDescending(entries), nil
}

// FindByName implements intent.Catalog.
func (s *CatalogStore) FindByName(ctx context.Context, name string) (intent.Entry, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var doc catalogDocument
	err := s.coll.FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if isNoDocuments(err) {
		return intent.Entry{}, false, nil
	}
	if err != nil {
		return intent.Entry{}, false, fmt.Errorf("store: find catalog entry: %w", err)
	}
	return doc.toEntry(), true, nil
}

// Upsert creates or replaces a catalog entry by name, for the catalog
// management surface (adding a handcrafted entry, or promoting an
// approved suggestion into a permanent entry).
func (s *CatalogStore) Upsert(ctx context.Context, entry intent.Entry) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"name": entry.Name}
	update := bson.M{"$set": fromEntry(entry)}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("store: upsert catalog entry: %w", err)
	}
	return nil
}

// SetActive flips an entry's active flag without touching its other
// fields, for disabling an intent without deleting its history.
func (s *CatalogStore) SetActive(ctx context.Context, name string, active bool) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx, bson.M{"name": name}, bson.M{"$set": bson.M{"active": active}})
	if err != nil {
		return fmt.Errorf("store: set catalog entry active: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store: catalog entry %q not found", name)
	}
	return nil
}

type catalogDocument struct {
	Name               string            `bson:"name"`
	Label              string            `bson:"label"`
	Description        string            `bson:"description,omitempty"`
	Exemplars          []string          `bson:"exemplars,omitempty"`
	Keywords           []string          `bson:"keywords,omitempty"`
	Priority           int               `bson:"priority"`
	Active             bool              `bson:"active"`
	HandlerKind        intent.HandlerKind `bson:"handler_kind"`
	HandlerConfig      string            `bson:"handler_config,omitempty"`
	Escalation         string            `bson:"escalation,omitempty"`
	EscalationWorkflow string            `bson:"escalation_workflow,omitempty"`
}

func fromEntry(e intent.Entry) catalogDocument {
	return catalogDocument{
		Name:               e.Name,
		Label:              e.Label,
		Description:        e.Description,
		Exemplars:          e.Exemplars,
		Keywords:           e.Keywords,
		Priority:           e.Priority,
		Active:             e.Active,
		HandlerKind:        e.HandlerKind,
		HandlerConfig:      e.HandlerConfig,
		Escalation:         e.Escalation,
		EscalationWorkflow: e.EscalationWorkflow,
	}
}

func (d catalogDocument) toEntry() intent.Entry {
	return intent.Entry{
		Name:               d.Name,
		Label:              d.Label,
		Description:        d.Description,
		Exemplars:          d.Exemplars,
		Keywords:           d.Keywords,
		Priority:           d.Priority,
		Active:             d.Active,
		HandlerKind:        d.HandlerKind,
		HandlerConfig:      d.HandlerConfig,
		Escalation:         d.Escalation,
		EscalationWorkflow: d.EscalationWorkflow,
	}
}
