package eventmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleEvent() UnifiedEvent {
	return UnifiedEvent{
		EventID:        "evt-1",
		IdempotencyKey: IdempotencyKey(SourceEmail, "<abc123@example.com>"),
		EventType:      EventTypeEmail,
		Source:         SourceEmail,
		SourceID:       "<abc123@example.com>",
		Content:        "hello there",
		ContentType:    ContentTypeText,
		Attachments: []Attachment{
			{Filename: "invoice.pdf", MediaType: "application/pdf", Size: 1024, StorageKey: "k1"},
		},
		UserExternalID: "customer@example.com",
		UserName:       "Jane Customer",
		Priority:       PriorityNormal,
		Timestamp:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Metadata:       map[string]string{"mailbox": "support"},
		Context:        map[string]string{"thread": "t-1"},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := sampleEvent()

	fields, err := Encode(e)
	require.NoError(t, err)
	require.Equal(t, "evt-1", fields[FieldEventID])
	require.Equal(t, string(SourceEmail), fields[FieldSource])

	decoded, err := Decode(fields)
	require.NoError(t, err)

	// Attachments are informational-only on the stream; the decoded event
	// never resurrects them.
	e.Attachments = nil

	require.Equal(t, e, decoded)
}

func TestDecodeMissingEventIDFails(t *testing.T) {
	fields := map[string]string{
		FieldIdempotencyKey: "x",
		FieldEventType:      string(EventTypeEmail),
		FieldSource:         string(SourceEmail),
		FieldTimestamp:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err := Decode(fields)
	require.Error(t, err)
}

func TestEncodeRejectsInvalidEvent(t *testing.T) {
	e := sampleEvent()
	e.EventID = ""
	_, err := Encode(e)
	require.Error(t, err)
}

func TestIdempotencyKeyNormalization(t *testing.T) {
	require.Equal(t,
		IdempotencyKey(SourceEmail, "<ABC@Example.com>"),
		IdempotencyKey(SourceEmail, "  <abc@example.com>  "),
	)
	require.Equal(t, "", IdempotencyKey(SourceChatPlatform, "   "))
	require.Equal(t, "chat-platform:msg-1", IdempotencyKey(SourceChatPlatform, "msg-1"))
}

func TestEventStatusTransitions(t *testing.T) {
	require.True(t, EventStatusPending.CanTransitionTo(EventStatusProcessing))
	require.True(t, EventStatusPending.CanTransitionTo(EventStatusSkipped))
	require.False(t, EventStatusPending.CanTransitionTo(EventStatusCompleted))
	require.True(t, EventStatusProcessing.CanTransitionTo(EventStatusCompleted))
	require.True(t, EventStatusProcessing.CanTransitionTo(EventStatusFailed))
	require.False(t, EventStatusCompleted.CanTransitionTo(EventStatusProcessing))
}
