package imapsource

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkpointKeyPrefix, checkpointKeySuffix and checkpointTTL mirror the account-scoped
// key namespace the distributed lock also uses (email_worker:{account_id}).
const (
	checkpointKeyPrefix = "email_worker:"
	checkpointKeySuffix = ":last_check"
	checkpointTTL       = 7 * 24 * time.Hour
)

// CheckpointStore persists the last-successful-fetch timestamp per account,
// so a restarted worker resumes roughly where it left off instead of
// re-scanning the full sync window.
type CheckpointStore interface {
	Get(ctx context.Context, accountKey string) (time.Time, bool, error)
	Save(ctx context.Context, accountKey string, at time.Time) error
}

// RedisCheckpointStore is the default CheckpointStore, backed by a plain
// Redis string per account with a generous TTL so a long-dead account's
// checkpoint eventually ages out rather than accumulating forever.
type RedisCheckpointStore struct {
	client *redis.Client
}

// NewRedisCheckpointStore builds a CheckpointStore over client.
func NewRedisCheckpointStore(client *redis.Client) *RedisCheckpointStore {
	return &RedisCheckpointStore{client: client}
}

func checkpointKey(accountKey string) string {
	return checkpointKeyPrefix + accountKey + checkpointKeySuffix
}

// Get returns the stored checkpoint for accountKey, or ok=false if none has
// been saved yet.
func (s *RedisCheckpointStore) Get(ctx context.Context, accountKey string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, checkpointKey(accountKey)).Result()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("imapsource: get checkpoint %s: %w", accountKey, err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("imapsource: parse checkpoint %s: %w", accountKey, err)
	}
	return at, true, nil
}

// Save records at as the new checkpoint for accountKey.
func (s *RedisCheckpointStore) Save(ctx context.Context, accountKey string, at time.Time) error {
	if err := s.client.Set(ctx, checkpointKey(accountKey), at.UTC().Format(time.RFC3339Nano), checkpointTTL).Err(); err != nil {
		return fmt.Errorf("imapsource: save checkpoint %s: %w", accountKey, err)
	}
	return nil
}

// since resolves the effective SINCE bound for a poll tick: the saved
// checkpoint, or now minus the account's sync window if none exists yet.
func since(ctx context.Context, store CheckpointStore, account Account, now time.Time) (time.Time, error) {
	at, ok, err := store.Get(ctx, account.Key())
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return at, nil
	}
	if account.SyncDays == nil {
		return time.Unix(0, 0).UTC(), nil
	}
	return now.AddDate(0, 0, -*account.SyncDays), nil
}
