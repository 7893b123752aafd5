// Package httpapi is the core's one HTTP surface: a minimal, data-plane-only
// webhook ingestion endpoint and the local object-store backend's
// signed-URL redemption handler. It deliberately does not implement an
// admin/control-plane CRUD surface (catalog management, suggestion review,
// account configuration) — those are out of scope per spec.md.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/telemetry"
)

// StreamAppender is the narrow seam WebhookHandler needs from
// eventstream.Stream: append one encoded event.
type StreamAppender interface {
	Append(ctx context.Context, event eventmodel.UnifiedEvent, maxLen int64) (string, error)
}

// webhookRequest is the JSON body a webhook POST carries. SourceID should be
// the sending system's own event/delivery id where one exists (e.g. a Slack
// event_id or a payment provider's event id) — it becomes the idempotency
// key, so deliveries retried by the sender collapse into one EventRow.
// Leaving it empty means every delivery is treated as unique.
type webhookRequest struct {
	SourceID    string            `json:"source_id"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata"`
}

type webhookResponse struct {
	EventID  string `json:"event_id"`
	StreamID string `json:"stream_id"`
}

// WebhookHandler normalizes inbound webhook deliveries into UnifiedEvents
// and appends them to the event stream, per spec.md's webhook dataflow
// entry.
type WebhookHandler struct {
	stream  StreamAppender
	logger telemetry.Logger
	newID  func() string
	now    func() time.Time
}

// NewWebhookHandler builds a WebhookHandler appending to stream.
func NewWebhookHandler(stream StreamAppender, logger telemetry.Logger) *WebhookHandler {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &WebhookHandler{
		stream: stream,
		logger: logger,
		newID:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

// ServeHTTP implements http.Handler for POST /webhooks.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	contentType := eventmodel.ContentTypeText
	switch req.ContentType {
	case "", string(eventmodel.ContentTypeText):
		contentType = eventmodel.ContentTypeText
	case string(eventmodel.ContentTypeHTML):
		contentType = eventmodel.ContentTypeHTML
	case string(eventmodel.ContentTypeMarkdown):
		contentType = eventmodel.ContentTypeMarkdown
	default:
		http.Error(w, "unsupported content_type", http.StatusBadRequest)
		return
	}

	eventID := h.newID()
	event := eventmodel.UnifiedEvent{
		EventID:        eventID,
		IdempotencyKey: h.idempotencyKey(req.SourceID, eventID),
		EventType:      eventmodel.EventTypeWebhook,
		Source:         eventmodel.SourceWebhook,
		SourceID:       req.SourceID,
		Content:        req.Content,
		ContentType:    contentType,
		Priority:       eventmodel.PriorityNormal,
		Timestamp:      h.now().UTC(),
		Metadata:       req.Metadata,
	}
	if err := event.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	streamID, err := h.stream.Append(r.Context(), event, 0)
	if err != nil {
		h.logger.Error(r.Context(), "httpapi: failed to append webhook event", "event_id", eventID, "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(webhookResponse{EventID: eventID, StreamID: streamID})
}

// idempotencyKey derives the stream's idempotency key from the caller's
// source id when present, falling back to the generated event id (which
// makes the event unique and therefore never collapsed with another).
func (h *WebhookHandler) idempotencyKey(sourceID, eventID string) string {
	if key := eventmodel.IdempotencyKey(eventmodel.SourceWebhook, sourceID); key != "" {
		return key
	}
	return eventmodel.IdempotencyKey(eventmodel.SourceWebhook, eventID)
}
