package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/eventcore/objectstore"
	"github.com/relaywire/eventcore/telemetry"
)

// Mail is the input to Persist: the raw bytes of one fetched message plus
// the account it was fetched from ("" for non-account-scoped ingestion
// paths, which fall back to the "env" key prefix).
type Mail struct {
	AccountID string
	Raw       []byte
}

// Repository is the persistence port the mail package depends on. It is
// injected rather than constructed internally, so tests can substitute an
// in-memory fake without pulling in a database.
type Repository interface {
	FindByMessageID(ctx context.Context, messageID string) (RawMailRecord, bool, error)
	Insert(ctx context.Context, record RawMailRecord, attachments []AttachmentRow) error
	MarkProcessed(ctx context.Context, recordID, eventID string) error
}

// Persistor implements the raw-mail persistence algorithm: idempotent
// lookup by Message-ID, durable .eml write, attachment extraction and
// upload, and one Repository.Insert call for the record plus its
// attachment rows. The lookup and the insert are not wrapped in a
// transaction, and MailStore's Insert writes the record and then each
// attachment row as separate, non-atomic writes.
type Persistor struct {
	store  objectstore.Store
	repo   Repository
	logger telemetry.Logger
	now    func() time.Time
	newID  func() string
}

// NewPersistor builds a Persistor over the given object store and
// repository port.
func NewPersistor(store objectstore.Store, repo Repository, logger telemetry.Logger) *Persistor {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Persistor{
		store:  store,
		repo:   repo,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Persist stores one inbound message, returning the existing record
// unchanged if its Message-ID has already been persisted.
func (p *Persistor) Persist(ctx context.Context, m Mail) (RawMailRecord, error) {
	parsed, err := Parse(m.Raw)
	if err != nil {
		return RawMailRecord{}, fmt.Errorf("mail: parse: %w", err)
	}
	if parsed.MessageID == "" {
		return RawMailRecord{}, fmt.Errorf("mail: message has no Message-ID, cannot persist idempotently")
	}

	if existing, ok, err := p.repo.FindByMessageID(ctx, parsed.MessageID); err != nil {
		return RawMailRecord{}, fmt.Errorf("mail: idempotency lookup: %w", err)
	} else if ok {
		p.logger.Info(ctx, "mail: duplicate delivery, returning existing record", "message_id", parsed.MessageID)
		return existing, nil
	}

	recordID := p.newID()
	accountPrefix := m.AccountID
	if accountPrefix == "" {
		accountPrefix = "env"
	}
	dateStr := p.now().UTC().Format("2006-01-02")
	rawKey := fmt.Sprintf("emails/raw/%s/%s/%s.eml", accountPrefix, dateStr, recordID)

	ptr, err := p.store.Put(ctx, objectstore.PutInput{
		Key:         rawKey,
		Data:        m.Raw,
		ContentType: "message/rfc822",
	})
	if err != nil {
		return RawMailRecord{}, fmt.Errorf("mail: store raw message: %w", err)
	}

	record := RawMailRecord{
		ID:         recordID,
		AccountID:  m.AccountID,
		MessageID:  parsed.MessageID,
		Sender:     parsed.Sender,
		SenderName: parsed.SenderName,
		Recipients: parsed.Recipients,
		Subject:    parsed.Subject,
		BodyText:   parsed.BodyText,
		ReceivedAt: receivedAtOrNow(parsed.Date, p.now()),
		StorageKey: ptr.Key,
		Backend:    string(ptr.Backend),
		SizeBytes:  int64(len(m.Raw)),
	}

	attachments := p.uploadAttachments(ctx, parsed.Attachments, recordID, accountPrefix, dateStr)

	if err := p.repo.Insert(ctx, record, attachments); err != nil {
		return RawMailRecord{}, fmt.Errorf("mail: insert record: %w", err)
	}

	p.logger.Info(ctx, "mail: persisted message",
		"record_id", recordID, "message_id", parsed.MessageID, "attachments", len(attachments))

	return record, nil
}

// uploadAttachments uploads each extracted part, tolerating individual
// failures: one bad attachment never blocks persistence of the message or
// its other attachments.
func (p *Persistor) uploadAttachments(ctx context.Context, parts []ParsedAttachment, recordID, accountPrefix, dateStr string) []AttachmentRow {
	rows := make([]AttachmentRow, 0, len(parts))
	for _, part := range parts {
		attID := p.newID()
		key := fmt.Sprintf("emails/attachments/%s/%s/%s/%s", accountPrefix, dateStr, attID, safeFilename(part.Filename))

		ptr, err := p.store.Put(ctx, objectstore.PutInput{
			Key:         key,
			Data:        part.Data,
			ContentType: part.ContentType,
		})
		if err != nil {
			p.logger.Warn(ctx, "mail: attachment upload failed, skipping",
				"record_id", recordID, "filename", part.Filename, "error", err.Error())
			continue
		}

		rows = append(rows, AttachmentRow{
			ID:          attID,
			EmailID:     recordID,
			Filename:    part.Filename,
			ContentType: part.ContentType,
			SizeBytes:   int64(len(part.Data)),
			StorageKey:  ptr.Key,
			Backend:     string(ptr.Backend),
			IsInline:    part.Inline,
			ContentID:   part.ContentID,
			IsSignature: part.Signature,
		})
	}
	return rows
}

// MarkProcessed links a persisted raw-mail record to the UnifiedEvent it
// produced, once that event has been durably enqueued.
func (p *Persistor) MarkProcessed(ctx context.Context, recordID, eventID string) error {
	return p.repo.MarkProcessed(ctx, recordID, eventID)
}

func receivedAtOrNow(date time.Time, now time.Time) time.Time {
	if date.IsZero() {
		return now
	}
	return date
}
