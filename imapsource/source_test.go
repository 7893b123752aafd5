package imapsource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/eventcore/eventstream"
	"github.com/relaywire/eventcore/mail"
	"github.com/relaywire/eventcore/objectstore"
)

type fakeFetcher struct {
	mu       sync.Mutex
	messages []FetchedMessage
	seen     []uint32
	closed   bool
	fetchErr error
}

func (f *fakeFetcher) Fetch(ctx context.Context, folder string, since time.Time, unseenOnly bool, limit int) ([]FetchedMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.messages, nil
}

func (f *fakeFetcher) MarkSeen(ctx context.Context, folder string, uids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, uids...)
	return nil
}

func (f *fakeFetcher) Close() error {
	f.closed = true
	return nil
}

type fakeMailRepo struct {
	mu      sync.Mutex
	byMsgID map[string]mail.RawMailRecord
}

func newFakeMailRepo() *fakeMailRepo {
	return &fakeMailRepo{byMsgID: make(map[string]mail.RawMailRecord)}
}

func (r *fakeMailRepo) FindByMessageID(ctx context.Context, messageID string) (mail.RawMailRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byMsgID[messageID]
	return rec, ok, nil
}

func (r *fakeMailRepo) Insert(ctx context.Context, record mail.RawMailRecord, attachments []mail.AttachmentRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMsgID[record.MessageID] = record
	return nil
}

func (r *fakeMailRepo) MarkProcessed(ctx context.Context, recordID, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.byMsgID {
		if v.ID == recordID {
			v.IsProcessed = true
			v.EventID = eventID
			r.byMsgID[k] = v
		}
	}
	return nil
}

const plainMessage = "Message-ID: <poll-1@example.com>\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Date: Mon, 2 Jan 2006 15:04:05 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello from the poll loop.\r\n"

func newTestSource(t *testing.T, fetcher Fetcher) (*Source, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := objectstore.NewGateway(nil, objectstoreLocalForTest(t), nil)
	require.NoError(t, err)
	persistor := mail.NewPersistor(store, newFakeMailRepo(), nil)
	stream := eventstream.New(rdb, "events:test", nil)
	checkpoints := NewRedisCheckpointStore(rdb)

	src := New(rdb, checkpoints, stream, persistor, func(ctx context.Context, account Account) (Fetcher, error) {
		return fetcher, nil
	}, nil)
	return src, rdb
}

func objectstoreLocalForTest(t *testing.T) *objectstore.LocalStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	local, err := objectstore.NewLocalStore(t.TempDir(), "http://localhost/files", rdb)
	require.NoError(t, err)
	return local
}

func TestPollAccountProcessesNewMailAndAdvancesCheckpoint(t *testing.T) {
	fetcher := &fakeFetcher{messages: []FetchedMessage{{UID: 1, Raw: []byte(plainMessage)}}}
	src, rdb := newTestSource(t, fetcher)

	account := Account{ID: "acct-1", Name: "Test", Folder: "INBOX", Interval: time.Minute, MarkAsRead: true}

	require.NoError(t, src.PollAccount(context.Background(), account))
	require.True(t, fetcher.closed)
	require.Equal(t, []uint32{1}, fetcher.seen)

	_, ok, err := src.checkpoints.Get(context.Background(), account.Key())
	require.NoError(t, err)
	require.True(t, ok, "checkpoint must be advanced after a successful tick")

	info, err := eventstream.New(rdb, "events:test", nil).Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), info.Length)
}

func TestPollAccountSkipsWhenLockHeld(t *testing.T) {
	fetcher := &fakeFetcher{}
	src, rdb := newTestSource(t, fetcher)
	account := Account{ID: "acct-2", Name: "Test", Interval: time.Minute}

	require.NoError(t, rdb.Set(context.Background(), "email_worker:acct-2", "someone-else", time.Minute).Err())

	require.NoError(t, src.PollAccount(context.Background(), account))
	require.False(t, fetcher.closed, "fetcher must never be dialed when the lock is held elsewhere")
}

func TestPollAccountAbortsTickOnFetchErrorWithoutAdvancingCheckpoint(t *testing.T) {
	fetcher := &fakeFetcher{fetchErr: context.DeadlineExceeded}
	src, _ := newTestSource(t, fetcher)
	account := Account{ID: "acct-3", Name: "Test", Interval: time.Minute}

	err := src.PollAccount(context.Background(), account)
	require.Error(t, err)

	_, ok, checkErr := src.checkpoints.Get(context.Background(), account.Key())
	require.NoError(t, checkErr)
	require.False(t, ok, "checkpoint must not advance when the fetch itself fails")
}
