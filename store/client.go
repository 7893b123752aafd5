// Package store implements the Mongo-backed persistence repositories for
// event rows, raw mail, the intent catalog, and suggestions. Each
// repository depends only on a narrow per-collection interface, not on
// *mongo.Collection directly, so unit tests can substitute an in-memory
// fake without a running database.
package store

import (
	"context"
	"errors"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const defaultOpTimeout = 5 * time.Second

// Options configures a Store. Client is a connected Mongo client; Database
// selects the database all collections are opened from.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// Store bundles the individual repositories, all opened against the same
// database and sharing one operation timeout.
type Store struct {
	Events    *EventStore
	Mail      *MailStore
	Catalog   *CatalogStore
	Suggestions *SuggestionStore

	mongo   *mongodriver.Client
	timeout time.Duration
}

// New connects every repository's collection and ensures their indexes.
// It is the single entry point production code uses; each repository's
// own (unexported) constructor takes the narrow collection interface, so
// in-package tests can build one in isolation with a fake collection.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("store: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("store: database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)

	events, err := newEventStore(ctx, mongoCollection{coll: db.Collection(eventsCollection)}, timeout)
	if err != nil {
		return nil, err
	}
	mail, err := newMailStore(ctx, mongoCollection{coll: db.Collection(rawMailCollection)}, mongoCollection{coll: db.Collection(attachmentsCollection)}, timeout)
	if err != nil {
		return nil, err
	}
	catalog, err := newCatalogStore(ctx, mongoCollection{coll: db.Collection(catalogCollection)}, timeout)
	if err != nil {
		return nil, err
	}
	suggestions, err := newSuggestionStore(ctx, mongoCollection{coll: db.Collection(suggestionsCollection)}, timeout)
	if err != nil {
		return nil, err
	}

	return &Store{
		Events:      events,
		Mail:        mail,
		Catalog:     catalog,
		Suggestions: suggestions,
		mongo:       opts.Client,
		timeout:     timeout,
	}, nil
}

// Ping verifies connectivity, for use from a health check.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// collection is the narrow surface every repository in this package
// depends on, satisfied by mongoCollection in production and a fake in
// tests.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	InsertOne(ctx context.Context, doc any) error
	UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Close(ctx context.Context) error
	Err() error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return err
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...options.Lister[options.UpdateOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error) {
	return v.view.CreateOne(ctx, model)
}

// ErrNoDocuments re-exports the driver's not-found sentinel so callers
// outside this package never need to import the driver directly.
var ErrNoDocuments = mongodriver.ErrNoDocuments

func isNoDocuments(err error) bool {
	return errors.Is(err, mongodriver.ErrNoDocuments)
}
