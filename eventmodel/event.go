// Package eventmodel defines UnifiedEvent, the canonical representation of
// an inbound message independent of its source, and its on-wire
// serialization for the event stream.
package eventmodel

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies what kind of interaction produced the event.
type EventType string

const (
	EventTypeEmail    EventType = "email"
	EventTypeChat     EventType = "chat"
	EventTypeWebhook  EventType = "webhook"
	EventTypeCommand  EventType = "command"
	EventTypeApproval EventType = "approval"
	EventTypeSchedule EventType = "schedule"
)

// Source identifies the channel an event arrived on.
type Source string

const (
	SourceEmail       Source = "email"
	SourceChatPlatform Source = "chat-platform"
	SourceWeb         Source = "web"
	SourceWebhook     Source = "webhook"
	SourceSchedule    Source = "schedule"
)

// ContentType describes how Content should be rendered.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeHTML     ContentType = "html"
	ContentTypeMarkdown ContentType = "markdown"
)

// Priority is an operator-facing urgency hint; it does not affect stream
// ordering.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Attachment is an ordered reference to a blob stored via the object store
// port. ContentID is set for inline parts referenced from HTML bodies.
type Attachment struct {
	Filename    string `json:"filename"`
	MediaType   string `json:"media_type"`
	Size        int64  `json:"size"`
	StorageKey  string `json:"storage_key"`
	Inline      bool   `json:"inline"`
	Signature   bool   `json:"signature"`
	ContentID   string `json:"content_id,omitempty"`
}

// UnifiedEvent is the canonical item flowing through the ingestion core.
// It is produced by a source adapter (IMAP, chat, webhook), appended to the
// event stream as a wire-encoded string map, and decoded by the dispatcher.
type UnifiedEvent struct {
	EventID        string    `json:"event_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	EventType      EventType `json:"event_type"`
	Source         Source    `json:"source"`
	SourceID       string    `json:"source_id,omitempty"`

	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	Attachments []Attachment `json:"attachments,omitempty"`

	UserExternalID string `json:"user_external_id,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	ThreadID       string `json:"thread_id,omitempty"`

	Priority  Priority          `json:"priority"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

// Validate reports the minimal structural requirements a UnifiedEvent must
// satisfy before it can be appended to the event stream: identity, typing,
// and a timestamp. It does not validate business rules (catalog membership,
// participant shape) — those belong to the dispatcher and classifier.
func (e UnifiedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("eventmodel: event_id is required")
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("eventmodel: idempotency_key is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("eventmodel: event_type is required")
	}
	if e.Source == "" {
		return fmt.Errorf("eventmodel: source is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("eventmodel: timestamp is required")
	}
	return nil
}

// IdempotencyKey derives the stable key used to collapse duplicate
// deliveries of the same logical source event into a single EventRow.
// Normalization is source-specific: email Message-IDs are lower-cased
// (RFC 5322 local-parts are occasionally re-cased by intermediate relays)
// and every other source's id is trimmed of surrounding
// whitespace. An empty sourceID yields an empty key — callers must reject
// that rather than silently collapsing unrelated events.
func IdempotencyKey(source Source, sourceID string) string {
	id := strings.TrimSpace(sourceID)
	if id == "" {
		return ""
	}
	if source == SourceEmail {
		id = strings.ToLower(id)
	}
	return fmt.Sprintf("%s:%s", source, id)
}
