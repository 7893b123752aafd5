package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/intent"
	"github.com/relaywire/eventcore/mail"
	"github.com/relaywire/eventcore/suggestion"
)

var (
	testMongoClient *mongodriver.Client
	skipIntegration bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var (
		container *mongodb.MongoDBContainer
		setupErr  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				setupErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		c, err := mongodb.Run(ctx, "mongo:7")
		if err != nil {
			setupErr = err
			return
		}
		container = c
	}()

	if setupErr != nil {
		skipIntegration = true
		os.Exit(m.Run())
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		skipIntegration = true
		os.Exit(m.Run())
	}

	client, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipIntegration = true
		os.Exit(m.Run())
	}
	testMongoClient = client

	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if skipIntegration {
		t.Skip("docker not available, skipping Mongo integration test")
	}
	s, err := New(context.Background(), Options{
		Client:   testMongoClient,
		Database: fmt.Sprintf("eventcore_test_%d", time.Now().UnixNano()),
	})
	require.NoError(t, err)
	return s
}

func TestEventStoreIdempotentInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	row := eventmodel.EventRow{
		EventID:        "evt-1",
		IdempotencyKey: "email:<msg-1@example.com>",
		Status:         eventmodel.EventStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.Events.Insert(ctx, row))

	_, ok, err := s.Events.FindByIdempotencyKey(ctx, row.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, ok)

	// A second insert under the same idempotency_key must fail the unique
	// index, not silently duplicate the row.
	err = s.Events.Insert(ctx, row)
	require.Error(t, err)
}

func TestEventStoreTransitionStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	row := eventmodel.EventRow{
		EventID:        "evt-2",
		IdempotencyKey: "email:<msg-2@example.com>",
		Status:         eventmodel.EventStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, s.Events.Insert(ctx, row))

	require.NoError(t, s.Events.TransitionStatus(ctx, row.EventID, eventmodel.EventStatusPending, eventmodel.EventStatusProcessing, nil, now))

	err := s.Events.TransitionStatus(ctx, row.EventID, eventmodel.EventStatusPending, eventmodel.EventStatusProcessing, nil, now)
	require.Error(t, err, "transitioning from a status the row is no longer in must fail")

	require.NoError(t, s.Events.TransitionStatus(ctx, row.EventID, eventmodel.EventStatusProcessing, eventmodel.EventStatusCompleted,
		map[string]any{"intent": "billing_question"}, now))

	got, ok, err := s.Events.FindByIdempotencyKey(ctx, row.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, eventmodel.EventStatusCompleted, got.Status)
	require.Equal(t, "billing_question", got.Intent)
}

func TestMailStoreFindByMessageIDAndMarkProcessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := mail.RawMailRecord{
		ID:         "rec-1",
		MessageID:  "<dup@example.com>",
		Sender:     "a@example.com",
		ReceivedAt: time.Now().UTC(),
		StorageKey: "emails/raw/env/2026-01-01/rec-1.eml",
		Backend:    "local",
		SizeBytes:  100,
	}
	require.NoError(t, s.Mail.Insert(ctx, record, nil))

	_, ok, err := s.Mail.FindByMessageID(ctx, record.MessageID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Mail.MarkProcessed(ctx, record.ID, "evt-123"))
	got, ok, err := s.Mail.FindByMessageID(ctx, record.MessageID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.IsProcessed)
	require.Equal(t, "evt-123", got.EventID)
}

func TestCatalogStoreUpsertAndActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Catalog.Upsert(ctx, intent.Entry{Name: "other", Label: "Other", Active: true, Priority: 0}))
	require.NoError(t, s.Catalog.Upsert(ctx, intent.Entry{Name: "billing_question", Label: "Billing", Active: true, Priority: 5}))
	require.NoError(t, s.Catalog.Upsert(ctx, intent.Entry{Name: "disabled_one", Label: "Disabled", Active: false, Priority: 99}))

	active, err := s.Catalog.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "billing_question", active[0].Name, "higher priority entry must sort first")

	require.NoError(t, s.Catalog.SetActive(ctx, "other", false))
	active, err = s.Catalog.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestSuggestionStoreEnforcesPendingUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	first := suggestion.Record{
		ID: "sugg-1", Kind: suggestion.KindNewIntent, NaturalKey: "refund_request",
		Status: suggestion.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.Suggestions.Insert(ctx, first))

	dup := first
	dup.ID = "sugg-2"
	err := s.Suggestions.Insert(ctx, dup)
	require.Error(t, err, "a second pending suggestion for the same natural key must violate the partial unique index")

	require.NoError(t, s.Suggestions.UpdateReview(ctx, first.ID, suggestion.StatusApproved, "admin-1", "ok", "intent-1", now))

	// Once the first is no longer pending, a fresh pending proposal for the
	// same natural key is allowed again.
	dup2 := first
	dup2.ID = "sugg-3"
	require.NoError(t, s.Suggestions.Insert(ctx, dup2))
}
