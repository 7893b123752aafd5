// Package imapsource implements the IMAP Source: a per-account polling
// loop that fetches new mail, hands it to the raw-mail persistor, and
// enqueues a UnifiedEvent on the event stream.
package imapsource

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/eventstream"
	"github.com/relaywire/eventcore/lock"
	"github.com/relaywire/eventcore/mail"
	"github.com/relaywire/eventcore/telemetry"
)

// lockSafetyMargin is added to an account's poll interval when sizing the
// distributed lock's TTL, so a tick that runs slightly long never loses
// its lock to a concurrent replica mid-run.
const lockSafetyMargin = 30 * time.Second

// Source drives the per-account IMAP polling algorithm.
type Source struct {
	redis       *redis.Client
	checkpoints CheckpointStore
	stream      *eventstream.Stream
	persistor   *mail.Persistor
	dial        Dialer
	logger      telemetry.Logger
	now         func() time.Time
	newID       func() string
}

// New builds a Source. dial defaults to Dial (a live IMAP connection);
// tests override it with a fake Fetcher.
func New(redisClient *redis.Client, checkpoints CheckpointStore, stream *eventstream.Stream, persistor *mail.Persistor, dial Dialer, logger telemetry.Logger) *Source {
	if dial == nil {
		dial = Dial
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Source{
		redis:       redisClient,
		checkpoints: checkpoints,
		stream:      stream,
		persistor:   persistor,
		dial:        dial,
		logger:      logger,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// PollAccount runs one tick of the per-account loop described by spec.md
// §4.C: acquire the account's distributed lock, resolve the SINCE bound,
// fetch and process new mail, and advance the checkpoint. Returns nil if
// the lock could not be acquired (another replica is already working this
// account) — that is not an error, just a skipped tick.
func (s *Source) PollAccount(ctx context.Context, account Account) error {
	lockKey := lock.Key(account.Key())
	ttl := account.Interval + lockSafetyMargin

	l, ok, err := lock.Acquire(ctx, s.redis, lockKey, ttl)
	if err != nil {
		return fmt.Errorf("imapsource: acquire lock for %s: %w", account.Key(), err)
	}
	if !ok {
		s.logger.Debug(ctx, "imapsource: lock held elsewhere, skipping tick", "account", account.Key())
		return nil
	}
	defer func() {
		if releaseErr := l.Release(ctx); releaseErr != nil {
			s.logger.Warn(ctx, "imapsource: release lock failed", "account", account.Key(), "error", releaseErr.Error())
		}
	}()

	sinceAt, err := since(ctx, s.checkpoints, account, s.now())
	if err != nil {
		return fmt.Errorf("imapsource: resolve checkpoint for %s: %w", account.Key(), err)
	}

	fetcher, err := s.dial(ctx, account)
	if err != nil {
		// Account-level error (auth, socket): abort the tick without
		// advancing the checkpoint, the lock is still released above.
		return fmt.Errorf("imapsource: connect %s: %w", account.Name, err)
	}
	defer fetcher.Close()

	folder := account.folderOrDefault()
	messages, err := fetcher.Fetch(ctx, folder, sinceAt, account.UnseenOnly, account.FetchLimit)
	if err != nil {
		return fmt.Errorf("imapsource: fetch %s: %w", account.Name, err)
	}

	if len(messages) == 0 {
		s.logger.Debug(ctx, "imapsource: no new mail", "account", account.Name)
		return s.checkpoints.Save(ctx, account.Key(), s.now())
	}

	s.logger.Info(ctx, "imapsource: new mail found", "account", account.Name, "count", len(messages))

	var seenUIDs []uint32
	processed := 0
	for _, msg := range messages {
		if err := s.processMessage(ctx, account, msg); err != nil {
			s.logger.Error(ctx, "imapsource: process message failed",
				"account", account.Name, "error", err.Error())
			continue
		}
		processed++
		if account.MarkAsRead {
			seenUIDs = append(seenUIDs, msg.UID)
		}
	}

	s.logger.Info(ctx, "imapsource: tick complete",
		"account", account.Name, "processed", processed, "total", len(messages))

	if len(seenUIDs) > 0 {
		if err := fetcher.MarkSeen(ctx, folder, seenUIDs); err != nil {
			s.logger.Warn(ctx, "imapsource: mark seen failed", "account", account.Name, "error", err.Error())
		}
	}

	return s.checkpoints.Save(ctx, account.Key(), s.now())
}

// processMessage persists one fetched message, builds its UnifiedEvent,
// and enqueues it on the stream, linking the raw-mail record back to the
// event once the append durably succeeds.
func (s *Source) processMessage(ctx context.Context, account Account, msg FetchedMessage) error {
	record, err := s.persistor.Persist(ctx, mail.Mail{AccountID: account.ID, Raw: msg.Raw})
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	event := eventmodel.UnifiedEvent{
		EventID:        s.newID(),
		IdempotencyKey: eventmodel.IdempotencyKey(eventmodel.SourceEmail, record.MessageID),
		EventType:      eventmodel.EventTypeEmail,
		Source:         eventmodel.SourceEmail,
		SourceID:       record.MessageID,
		Content:        record.BodyText,
		ContentType:    eventmodel.ContentTypeText,
		UserExternalID: record.Sender,
		UserName:       record.SenderName,
		Priority:       eventmodel.PriorityNormal,
		Timestamp:      record.ReceivedAt,
		Metadata: map[string]string{
			"subject":          record.Subject,
			"email_raw_id":     record.ID,
			"email_account_id": account.ID,
		},
	}
	if event.IdempotencyKey == "" {
		return fmt.Errorf("event for %s has no idempotency key", record.MessageID)
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}

	if _, err := s.stream.Append(ctx, event, 0); err != nil {
		return fmt.Errorf("enqueue event %s: %w", event.EventID, err)
	}

	if err := s.persistor.MarkProcessed(ctx, record.ID, event.EventID); err != nil {
		// The event is already durably enqueued; failing to annotate the
		// raw-mail record for traceability must not fail the tick.
		s.logger.Warn(ctx, "imapsource: mark processed failed",
			"record_id", record.ID, "event_id", event.EventID, "error", err.Error())
	}

	return nil
}
