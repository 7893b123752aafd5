// Package objectstore defines the blob storage port used to persist raw
// mail bodies and attachments, with a remote S3-compatible backend and a
// local-disk fallback.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the pointer does not resolve to a
// stored object in the addressed backend, and by LocalStore.ResolveToken
// for an unknown or expired token.
var ErrNotFound = errors.New("objectstore: object not found")

// Backend names which concrete implementation produced a StoragePointer.
type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

// StoragePointer is the durable reference persisted alongside a
// RawMailRecord or AttachmentRow. It is opaque to callers beyond knowing
// which backend wrote it.
type StoragePointer struct {
	Backend Backend `json:"backend"`
	Key     string  `json:"key"`
}

// PutInput is the payload handed to Store.Put.
type PutInput struct {
	Key         string
	Data        []byte
	ContentType string
}

// Store is the object-store port: put/get/delete a blob by key, and mint a
// time-limited signed URL for external retrieval.
type Store interface {
	Put(ctx context.Context, in PutInput) (StoragePointer, error)
	Get(ctx context.Context, ptr StoragePointer) ([]byte, error)
	Delete(ctx context.Context, ptr StoragePointer) error
	SignedURL(ctx context.Context, ptr StoragePointer, ttl time.Duration) (string, error)
}
