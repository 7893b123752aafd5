package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/relaywire/eventcore/mail"
)

const (
	rawMailCollection     = "raw_mail"
	attachmentsCollection = "mail_attachments"
)

// MailStore implements mail.Repository: idempotent lookup by Message-ID,
// a transactional-by-convention insert of the record plus its attachment
// rows, and linking a record to the UnifiedEvent it produced.
//
// Mongo has no multi-document transaction guarantee here (a standalone
// deployment may not support them); Insert writes the record first and
// then the attachments, matching the original worker's best-effort
// ordering — a crash between the two leaves an orphaned record with no
// attachments rather than a phantom attachment with no record, which is
// the safer half-failure.
type MailStore struct {
	records     collection
	attachments collection
	timeout     time.Duration
}

func newMailStore(ctx context.Context, records, attachments collection, timeout time.Duration) (*MailStore, error) {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := records.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("store: ensure raw_mail index: %w", err)
	}
	attIndex := mongodriver.IndexModel{
		Keys: bson.D{{Key: "email_id", Value: 1}},
	}
	if _, err := attachments.Indexes().CreateOne(ctx, attIndex); err != nil {
		return nil, fmt.Errorf("store: ensure mail_attachments index: %w", err)
	}
	return &MailStore{records: records, attachments: attachments, timeout: timeout}, nil
}

var _ mail.Repository = (*MailStore)(nil)

// FindByMessageID implements mail.Repository.
func (s *MailStore) FindByMessageID(ctx context.Context, messageID string) (mail.RawMailRecord, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var doc rawMailDocument
	err := s.records.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&doc)
	if isNoDocuments(err) {
		return mail.RawMailRecord{}, false, nil
	}
	if err != nil {
		return mail.RawMailRecord{}, false, fmt.Errorf("store: find raw mail: %w", err)
	}
	return doc.toRecord(), true, nil
}

// Insert implements mail.Repository.
func (s *MailStore) Insert(ctx context.Context, record mail.RawMailRecord, attachments []mail.AttachmentRow) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.records.InsertOne(ctx, fromRecord(record)); err != nil {
		return fmt.Errorf("store: insert raw mail: %w", err)
	}
	for _, att := range attachments {
		if err := s.attachments.InsertOne(ctx, fromAttachment(att)); err != nil {
			return fmt.Errorf("store: insert attachment %s: %w", att.ID, err)
		}
	}
	return nil
}

// MarkProcessed implements mail.Repository.
func (s *MailStore) MarkProcessed(ctx context.Context, recordID, eventID string) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{"event_id": eventID, "is_processed": true, "processed_at": now}}
	res, err := s.records.UpdateOne(ctx, bson.M{"id": recordID}, update)
	if err != nil {
		return fmt.Errorf("store: mark raw mail processed: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store: raw mail record %s not found", recordID)
	}
	return nil
}

type rawMailDocument struct {
	ID          string     `bson:"id"`
	AccountID   string     `bson:"account_id,omitempty"`
	MessageID   string     `bson:"message_id"`
	Sender      string     `bson:"sender,omitempty"`
	SenderName  string     `bson:"sender_name,omitempty"`
	Recipients  []string   `bson:"recipients,omitempty"`
	Subject     string     `bson:"subject,omitempty"`
	BodyText    string     `bson:"body_text,omitempty"`
	ReceivedAt  time.Time  `bson:"received_at"`
	StorageKey  string     `bson:"storage_key"`
	Backend     string     `bson:"backend"`
	SizeBytes   int64      `bson:"size_bytes"`
	EventID     string     `bson:"event_id,omitempty"`
	IsProcessed bool       `bson:"is_processed"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty"`
}

func fromRecord(r mail.RawMailRecord) rawMailDocument {
	return rawMailDocument{
		ID:          r.ID,
		AccountID:   r.AccountID,
		MessageID:   r.MessageID,
		Sender:      r.Sender,
		SenderName:  r.SenderName,
		Recipients:  r.Recipients,
		Subject:     r.Subject,
		BodyText:    r.BodyText,
		ReceivedAt:  r.ReceivedAt,
		StorageKey:  r.StorageKey,
		Backend:     r.Backend,
		SizeBytes:   r.SizeBytes,
		EventID:     r.EventID,
		IsProcessed: r.IsProcessed,
		ProcessedAt: r.ProcessedAt,
	}
}

func (d rawMailDocument) toRecord() mail.RawMailRecord {
	return mail.RawMailRecord{
		ID:          d.ID,
		AccountID:   d.AccountID,
		MessageID:   d.MessageID,
		Sender:      d.Sender,
		SenderName:  d.SenderName,
		Recipients:  d.Recipients,
		Subject:     d.Subject,
		BodyText:    d.BodyText,
		ReceivedAt:  d.ReceivedAt,
		StorageKey:  d.StorageKey,
		Backend:     d.Backend,
		SizeBytes:   d.SizeBytes,
		EventID:     d.EventID,
		IsProcessed: d.IsProcessed,
		ProcessedAt: d.ProcessedAt,
	}
}

type attachmentDocument struct {
	ID          string `bson:"id"`
	EmailID     string `bson:"email_id"`
	Filename    string `bson:"filename,omitempty"`
	ContentType string `bson:"content_type,omitempty"`
	SizeBytes   int64  `bson:"size_bytes"`
	StorageKey  string `bson:"storage_key"`
	Backend     string `bson:"backend"`
	IsInline    bool   `bson:"is_inline"`
	ContentID   string `bson:"content_id,omitempty"`
	IsSignature bool   `bson:"is_signature"`
}

func fromAttachment(a mail.AttachmentRow) attachmentDocument {
	return attachmentDocument{
		ID:          a.ID,
		EmailID:     a.EmailID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		SizeBytes:   a.SizeBytes,
		StorageKey:  a.StorageKey,
		Backend:     a.Backend,
		IsInline:    a.IsInline,
		ContentID:   a.ContentID,
		IsSignature: a.IsSignature,
	}
}
