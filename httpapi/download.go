package httpapi

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/relaywire/eventcore/objectstore"
	"github.com/relaywire/eventcore/telemetry"
)

// TokenResolver is the narrow seam DownloadHandler needs from
// objectstore.LocalStore: resolve a signed-URL redemption token back to the
// key it authorizes access to.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (objectstore.LocalToken, error)
}

// ObjectGetter is the narrow seam DownloadHandler needs to fetch the
// resolved object's bytes, satisfied by *objectstore.Gateway.
type ObjectGetter interface {
	Get(ctx context.Context, ptr objectstore.StoragePointer) ([]byte, error)
}

// DownloadHandler redeems a local object-store signed-URL token and streams
// the referenced blob back. It is the server half of LocalStore.SignedURL's
// redemption path, used only when local_storage_enabled (no remote
// object-store credentials configured).
type DownloadHandler struct {
	tokens TokenResolver
	store  ObjectGetter
	logger telemetry.Logger
}

// NewDownloadHandler builds a DownloadHandler over tokens and store.
func NewDownloadHandler(tokens TokenResolver, store ObjectGetter, logger telemetry.Logger) *DownloadHandler {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &DownloadHandler{tokens: tokens, store: store, logger: logger}
}

// ServeHTTP implements http.Handler for GET /storage/download?token=....
func (h *DownloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	resolved, err := h.tokens.ResolveToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			http.Error(w, "token not found or expired", http.StatusNotFound)
			return
		}
		h.logger.Error(r.Context(), "httpapi: failed to resolve download token", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ptr := objectstore.StoragePointer{Backend: objectstore.BackendLocal, Key: resolved.Key}
	data, err := h.store.Get(r.Context(), ptr)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		h.logger.Error(r.Context(), "httpapi: failed to fetch object", "key", resolved.Key, "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(resolved.Key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
