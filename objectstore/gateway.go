package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/eventcore/telemetry"
)

// Gateway implements Store by preferring a remote backend and falling back
// to local disk, per the contract that object-store credentials are
// optional: absence of remote configuration forces local-disk usage, and a
// remote write failure degrades to local rather than aborting the caller's
// persistence transaction.
type Gateway struct {
	remote *S3Store // nil when remote storage is not configured
	local  *LocalStore
	logger telemetry.Logger
}

// NewGateway composes remote and local backends. remote may be nil (no
// remote credentials configured); local must not be nil, since it is the
// backend of last resort.
func NewGateway(remote *S3Store, local *LocalStore, logger telemetry.Logger) (*Gateway, error) {
	if local == nil {
		return nil, fmt.Errorf("objectstore: local backend is required")
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Gateway{remote: remote, local: local, logger: logger}, nil
}

func (g *Gateway) Put(ctx context.Context, in PutInput) (StoragePointer, error) {
	if g.remote != nil {
		ptr, err := g.remote.Put(ctx, in)
		if err == nil {
			return ptr, nil
		}
		g.logger.Warn(ctx, "objectstore: remote put failed, falling back to local",
			"key", in.Key, "error", err.Error())
	}
	return g.local.Put(ctx, in)
}

func (g *Gateway) Get(ctx context.Context, ptr StoragePointer) ([]byte, error) {
	switch ptr.Backend {
	case BackendRemote:
		if g.remote == nil {
			return nil, fmt.Errorf("objectstore: remote backend not configured for key %q", ptr.Key)
		}
		return g.remote.Get(ctx, ptr)
	case BackendLocal:
		return g.local.Get(ctx, ptr)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", ptr.Backend)
	}
}

func (g *Gateway) Delete(ctx context.Context, ptr StoragePointer) error {
	switch ptr.Backend {
	case BackendRemote:
		if g.remote == nil {
			return fmt.Errorf("objectstore: remote backend not configured for key %q", ptr.Key)
		}
		return g.remote.Delete(ctx, ptr)
	case BackendLocal:
		return g.local.Delete(ctx, ptr)
	default:
		return fmt.Errorf("objectstore: unknown backend %q", ptr.Backend)
	}
}

func (g *Gateway) SignedURL(ctx context.Context, ptr StoragePointer, ttl time.Duration) (string, error) {
	switch ptr.Backend {
	case BackendRemote:
		if g.remote == nil {
			return "", fmt.Errorf("objectstore: remote backend not configured for key %q", ptr.Key)
		}
		return g.remote.SignedURL(ctx, ptr, ttl)
	case BackendLocal:
		return g.local.SignedURL(ctx, ptr, ttl)
	default:
		return "", fmt.Errorf("objectstore: unknown backend %q", ptr.Backend)
	}
}

var _ Store = (*Gateway)(nil)
