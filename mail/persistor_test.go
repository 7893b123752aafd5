package mail

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/eventcore/objectstore"
)

type fakeRepo struct {
	mu      sync.Mutex
	byMsgID map[string]RawMailRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byMsgID: make(map[string]RawMailRecord)}
}

func (r *fakeRepo) FindByMessageID(_ context.Context, messageID string) (RawMailRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byMsgID[messageID]
	return rec, ok, nil
}

func (r *fakeRepo) Insert(_ context.Context, record RawMailRecord, attachments []AttachmentRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMsgID[record.MessageID] = record
	return nil
}

func (r *fakeRepo) MarkProcessed(_ context.Context, recordID, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.byMsgID {
		if rec.ID == recordID {
			rec.IsProcessed = true
			rec.EventID = eventID
			r.byMsgID[id] = rec
		}
	}
	return nil
}

func TestPersistIsIdempotentByMessageID(t *testing.T) {
	dir := t.TempDir()
	store, err := objectstore.NewLocalStore(dir, "/storage/download", nil)
	require.NoError(t, err)

	repo := newFakeRepo()
	persistor := NewPersistor(store, repo, nil)

	ctx := context.Background()
	first, err := persistor.Persist(ctx, Mail{AccountID: "acct-1", Raw: []byte(plainMessage)})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.Equal(t, "<abc123@example.com>", first.MessageID)

	second, err := persistor.Persist(ctx, Mail{AccountID: "acct-1", Raw: []byte(plainMessage)})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "duplicate delivery must resolve to the same record")

	require.Len(t, repo.byMsgID, 1)
}

func TestPersistStoresMessageWithAttachments(t *testing.T) {
	dir := t.TempDir()
	store, err := objectstore.NewLocalStore(dir, "/storage/download", nil)
	require.NoError(t, err)

	repo := newFakeRepo()
	persistor := NewPersistor(store, repo, nil)

	ctx := context.Background()
	raw := buildMultipartWithSignatureImage()
	record, err := persistor.Persist(ctx, Mail{AccountID: "acct-1", Raw: []byte(raw)})
	require.NoError(t, err)
	require.Equal(t, "<with-sig@example.com>", record.MessageID)
}

func TestMarkProcessedLinksEventID(t *testing.T) {
	dir := t.TempDir()
	store, err := objectstore.NewLocalStore(dir, "/storage/download", nil)
	require.NoError(t, err)

	repo := newFakeRepo()
	persistor := NewPersistor(store, repo, nil)

	ctx := context.Background()
	record, err := persistor.Persist(ctx, Mail{AccountID: "acct-1", Raw: []byte(plainMessage)})
	require.NoError(t, err)

	require.NoError(t, persistor.MarkProcessed(ctx, record.ID, "evt-123"))
	rec, ok, err := repo.FindByMessageID(ctx, record.MessageID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rec.IsProcessed)
	require.Equal(t, "evt-123", rec.EventID)
}
