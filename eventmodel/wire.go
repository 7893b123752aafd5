package eventmodel

import (
	"encoding/json"
	"fmt"
	"time"
)

// Field names for the wire-encoded stream entry, per the external
// interface field list: event_id, event_type, source, source_id, content,
// content_type, user_id, user_external_id, session_id, thread_id,
// idempotency_key, priority, timestamp, metadata (JSON), context (JSON),
// attachments (JSON).
const (
	FieldEventID        = "event_id"
	FieldIdempotencyKey = "idempotency_key"
	FieldEventType       = "event_type"
	FieldSource          = "source"
	FieldSourceID        = "source_id"
	FieldContent         = "content"
	FieldContentType     = "content_type"
	FieldAttachments     = "attachments"
	FieldUserExternalID  = "user_external_id"
	FieldUserName        = "user_name"
	FieldUserID          = "user_id"
	FieldSessionID       = "session_id"
	FieldThreadID        = "thread_id"
	FieldPriority        = "priority"
	FieldTimestamp       = "timestamp"
	FieldMetadata        = "metadata"
	FieldContext         = "context"
)

// Encode renders a UnifiedEvent as the flat string map appended to the
// event stream. Complex fields (metadata, context, attachments) are
// embedded as JSON strings; the timestamp is rendered RFC 3339 in UTC.
func Encode(e UnifiedEvent) (map[string]string, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	fields := map[string]string{
		FieldEventID:        e.EventID,
		FieldIdempotencyKey: e.IdempotencyKey,
		FieldEventType:      string(e.EventType),
		FieldSource:         string(e.Source),
		FieldContent:        e.Content,
		FieldContentType:    string(e.ContentType),
		FieldUserExternalID: e.UserExternalID,
		FieldUserName:       e.UserName,
		FieldUserID:         e.UserID,
		FieldSessionID:      e.SessionID,
		FieldThreadID:       e.ThreadID,
		FieldPriority:       string(e.Priority),
		FieldTimestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.SourceID != "" {
		fields[FieldSourceID] = e.SourceID
	}

	metadataJSON, err := marshalMapField(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("eventmodel: encode metadata: %w", err)
	}
	fields[FieldMetadata] = metadataJSON

	contextJSON, err := marshalMapField(e.Context)
	if err != nil {
		return nil, fmt.Errorf("eventmodel: encode context: %w", err)
	}
	fields[FieldContext] = contextJSON

	attachmentsJSON, err := json.Marshal(e.Attachments)
	if err != nil {
		return nil, fmt.Errorf("eventmodel: encode attachments: %w", err)
	}
	fields[FieldAttachments] = string(attachmentsJSON)

	return fields, nil
}

// Decode reconstructs a UnifiedEvent from a wire-encoded string map, as
// read back from the stream by a consumer group.
//
// Per the design note that the stream's attachment payload is informational
// only — the AttachmentRow table is the authoritative record — Decode does
// not attempt to reconstruct Attachments from the stream; it always
// returns a nil slice. Callers that need attachment detail must look it up
// via the raw-mail store by event_id.
func Decode(fields map[string]string) (UnifiedEvent, error) {
	e := UnifiedEvent{
		EventID:        fields[FieldEventID],
		IdempotencyKey: fields[FieldIdempotencyKey],
		EventType:      EventType(fields[FieldEventType]),
		Source:         Source(fields[FieldSource]),
		SourceID:       fields[FieldSourceID],
		Content:        fields[FieldContent],
		ContentType:    ContentType(fields[FieldContentType]),
		UserExternalID: fields[FieldUserExternalID],
		UserName:       fields[FieldUserName],
		UserID:         fields[FieldUserID],
		SessionID:      fields[FieldSessionID],
		ThreadID:       fields[FieldThreadID],
		Priority:       Priority(fields[FieldPriority]),
	}

	if ts, ok := fields[FieldTimestamp]; ok && ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return UnifiedEvent{}, fmt.Errorf("eventmodel: decode timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed.UTC()
	}

	metadata, err := unmarshalMapField(fields[FieldMetadata])
	if err != nil {
		return UnifiedEvent{}, fmt.Errorf("eventmodel: decode metadata: %w", err)
	}
	e.Metadata = metadata

	ctx, err := unmarshalMapField(fields[FieldContext])
	if err != nil {
		return UnifiedEvent{}, fmt.Errorf("eventmodel: decode context: %w", err)
	}
	e.Context = ctx

	if err := e.Validate(); err != nil {
		return UnifiedEvent{}, fmt.Errorf("eventmodel: decode: %w", err)
	}

	return e, nil
}

func marshalMapField(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMapField(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
