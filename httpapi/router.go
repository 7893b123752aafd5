package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the complete chi router for the core's HTTP surface:
// webhook ingestion and signed-URL redemption. download may be nil when the
// remote object-store backend is configured and local_storage_enabled is
// off — there is nothing to redeem in that deployment.
func NewRouter(webhook *WebhookHandler, download *DownloadHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/webhooks", webhook.ServeHTTP)
	if download != nil {
		r.Get("/storage/download", download.ServeHTTP)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}
