package imapsource

import "time"

// Account is one configured IMAP mailbox to poll. Accounts are supplied by
// the caller (loaded from the config/store layer) rather than constructed
// here.
type Account struct {
	ID       string
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Folder   string

	// UnseenOnly adds the IMAP UNSEEN criterion to the search in addition
	// to SINCE checkpoint.
	UnseenOnly bool
	// MarkAsRead, if true, flags successfully processed messages \Seen
	// after the batch completes.
	MarkAsRead bool
	// SyncDays bounds how far back the first-ever poll looks when no
	// checkpoint exists yet. Nil means "from epoch".
	SyncDays *int
	// FetchLimit caps how many message ids are fetched per tick.
	FetchLimit int
	// Interval is this account's poll period; it also sizes the
	// distributed lock's TTL (Interval + a safety margin).
	Interval time.Duration
}

// Key returns the identifier used to namespace this account's lock and
// checkpoint keys. Accounts without a persisted id (e.g. a single
// env-configured mailbox) fall back to the fixed key "env".
func (a Account) Key() string {
	if a.ID == "" {
		return "env"
	}
	return a.ID
}

// folderOrDefault returns the configured folder, defaulting to INBOX.
func (a Account) folderOrDefault() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}
