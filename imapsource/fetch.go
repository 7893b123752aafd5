package imapsource

import (
	"context"
	"time"
)

// FetchedMessage is one message returned by a Fetcher, identified by its
// IMAP UID so it can later be marked \Seen without re-searching.
type FetchedMessage struct {
	UID  uint32
	Raw  []byte
}

// Fetcher is the IMAP session port. It is injected into Source so the
// per-account poll algorithm can be tested without a live mail server.
type Fetcher interface {
	// Fetch selects folder and returns up to limit of the most recent
	// messages matching SINCE since (and UNSEEN, if unseenOnly), most
	// recent last.
	Fetch(ctx context.Context, folder string, since time.Time, unseenOnly bool, limit int) ([]FetchedMessage, error)
	// MarkSeen flags the given UIDs \Seen in folder.
	MarkSeen(ctx context.Context, folder string, uids []uint32) error
	// Close tears down the underlying session.
	Close() error
}

// Dialer opens a Fetcher for the given account. The default implementation
// connects over IMAP; tests substitute a fake.
type Dialer func(ctx context.Context, account Account) (Fetcher, error)
