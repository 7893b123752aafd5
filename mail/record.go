// Package mail implements the raw-mail persistor: idempotent storage of
// inbound email as .eml blobs plus extracted
// attachment metadata, and a reply-composition helper.
package mail

import "time"

// RawMailRecord is the persisted record of one inbound email. MessageID is
// unique; a duplicate delivery of the same Message-ID resolves to the
// existing record rather than creating a new one.
type RawMailRecord struct {
	ID          string
	AccountID   string
	MessageID   string
	Sender      string
	SenderName  string
	Recipients  []string
	Subject     string
	BodyText    string
	ReceivedAt  time.Time
	StorageKey  string
	Backend     string
	SizeBytes   int64
	EventID     string
	IsProcessed bool
	ProcessedAt *time.Time
}

// AttachmentRow is one extracted MIME part, persisted alongside its
// RawMailRecord and linked to it by EmailID. No delete operation exists
// for either, so attachment rows are not cascade-deleted with a record.
type AttachmentRow struct {
	ID          string
	EmailID     string
	Filename    string
	ContentType string
	SizeBytes   int64
	StorageKey  string
	Backend     string
	IsInline    bool
	ContentID   string
	IsSignature bool
}
