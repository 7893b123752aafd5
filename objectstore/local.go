package objectstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// localTokenKeyPrefix namespaces signed-URL redemption tokens in Redis so
// they can share a keyspace with the distributed lock and stream state.
const localTokenKeyPrefix = "objectstore:token:"

// LocalToken is the payload stored in Redis for a signed-URL redemption
// token and returned to the HTTP handler that redeems it.
type LocalToken struct {
	Key string `json:"key"`
}

// LocalStore is the local-disk fallback backend, used when no remote
// object-store credentials are configured (local_storage_enabled).
// Signed URLs are not self-contained: LocalStore mints an opaque token,
// records it in Redis with a TTL matching the requested expiry, and
// returns a redemption path. This externalizes the token to a shared
// cache so signed URLs remain valid across replicas of the service,
// instead of living in an in-process map as in a single-node deployment.
type LocalStore struct {
	baseDir     string
	redis       *redis.Client
	downloadURL string // e.g. "/storage/download" — token appended as ?token=...
}

// NewLocalStore creates a LocalStore rooted at baseDir, creating the
// directory if necessary. downloadURL is the path prefix signed URLs are
// built against; rdb is required since signed URLs are redeemed by token
// lookup.
func NewLocalStore(baseDir, downloadURL string, rdb *redis.Client) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create local storage root: %w", err)
	}
	return &LocalStore{baseDir: baseDir, redis: rdb, downloadURL: downloadURL}, nil
}

// resolvePath maps a key to an absolute path, rejecting any attempt to
// escape the storage root via "..".
func (l *LocalStore) resolvePath(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(key, "/"))
	abs := filepath.Join(l.baseDir, clean)
	if !strings.HasPrefix(abs, filepath.Clean(l.baseDir)+string(os.PathSeparator)) && abs != filepath.Clean(l.baseDir) {
		return "", fmt.Errorf("objectstore: invalid key %q", key)
	}
	return abs, nil
}

func (l *LocalStore) Put(_ context.Context, in PutInput) (StoragePointer, error) {
	path, err := l.resolvePath(in.Key)
	if err != nil {
		return StoragePointer{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StoragePointer{}, fmt.Errorf("objectstore: mkdir for %s: %w", in.Key, err)
	}
	if err := os.WriteFile(path, in.Data, 0o644); err != nil {
		return StoragePointer{}, fmt.Errorf("objectstore: write %s: %w", in.Key, err)
	}
	return StoragePointer{Backend: BackendLocal, Key: in.Key}, nil
}

func (l *LocalStore) Get(_ context.Context, ptr StoragePointer) ([]byte, error) {
	path, err := l.resolvePath(ptr.Key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: read %s: %w", ptr.Key, err)
	}
	return data, nil
}

func (l *LocalStore) Delete(_ context.Context, ptr StoragePointer) error {
	path, err := l.resolvePath(ptr.Key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: delete %s: %w", ptr.Key, err)
	}
	return nil
}

// SignedURL mints a single-use-window redemption token, stores it in Redis
// with the requested TTL, and returns a URL path carrying it.
func (l *LocalStore) SignedURL(ctx context.Context, ptr StoragePointer, ttl time.Duration) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("objectstore: generate token: %w", err)
	}

	payload, err := json.Marshal(LocalToken{Key: ptr.Key})
	if err != nil {
		return "", fmt.Errorf("objectstore: marshal token payload: %w", err)
	}

	if err := l.redis.Set(ctx, localTokenKeyPrefix+token, payload, ttl).Err(); err != nil {
		return "", fmt.Errorf("objectstore: store signed url token: %w", err)
	}

	return fmt.Sprintf("%s?token=%s", l.downloadURL, token), nil
}

// ResolveToken looks up a token minted by SignedURL, returning the key it
// authorizes access to. It is called by the download handler, not by the
// Store port itself.
func (l *LocalStore) ResolveToken(ctx context.Context, token string) (LocalToken, error) {
	raw, err := l.redis.Get(ctx, localTokenKeyPrefix+token).Bytes()
	if err != nil {
		if err == redis.Nil {
			return LocalToken{}, ErrNotFound
		}
		return LocalToken{}, fmt.Errorf("objectstore: lookup token: %w", err)
	}
	var t LocalToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return LocalToken{}, fmt.Errorf("objectstore: decode token: %w", err)
	}
	return t, nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
