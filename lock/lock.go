// Package lock implements a simple Redis NX+TTL distributed lock, used to
// serialize per-account IMAP polling across multiple worker replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release/Renew when the lock is no longer held
// by this token, most often because its TTL already expired.
var ErrNotHeld = errors.New("lock: not held")

// Lock is a single acquired distributed lock. Release and Renew operate
// only while this process's token still matches the key in Redis, so a
// lock that already expired and was re-acquired elsewhere cannot be
// clobbered.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// releaseScript deletes key only if its value still matches token,
// preventing a process from releasing a lock it no longer holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends key's TTL only if its value still matches token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Acquire attempts to take the named lock with the given TTL, returning
// (nil, false, nil) if another holder currently has it. key should already
// include any namespacing (e.g. "email_worker:acct-1").
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{client: client, key: key, token: token}, true, nil
}

// Release drops the lock if this process still holds it.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Renew extends the lock's TTL if this process still holds it, for long
// per-account ticks that may outlive the initial TTL.
func (l *Lock) Renew(ctx context.Context, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("lock: renew %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Key returns the account lock key for the given account id, per the
// "email_worker:{account_id}" keyspace.
func Key(accountID string) string {
	return fmt.Sprintf("email_worker:%s", accountID)
}
