package eventmodel

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genSource produces a legal Source value.
func genSource() gopter.Gen {
	return gen.OneConstOf(SourceEmail, SourceChatPlatform, SourceWeb, SourceWebhook, SourceSchedule)
}

func genEventType() gopter.Gen {
	return gen.OneConstOf(EventTypeEmail, EventTypeChat, EventTypeWebhook, EventTypeCommand, EventTypeApproval, EventTypeSchedule)
}

func genContentType() gopter.Gen {
	return gen.OneConstOf(ContentTypeText, ContentTypeHTML, ContentTypeMarkdown)
}

func genPriority() gopter.Gen {
	return gen.OneConstOf(PriorityLow, PriorityNormal, PriorityHigh)
}

// TestRoundTripSerializationProperty encodes the testable property that
// decode(encode(e)) reproduces e, modulo UTC timestamp normalization and
// the informational-only attachments field, for any well-formed event.
func TestRoundTripSerializationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("encode/decode is a lossless round trip", prop.ForAll(
		func(eventID, idemKey, content, userExt string, src Source, et EventType, ct ContentType, pr Priority, unixSeconds int64) bool {
			e := UnifiedEvent{
				EventID:        "evt-" + eventID,
				IdempotencyKey: "key-" + idemKey,
				EventType:      et,
				Source:         src,
				Content:        content,
				ContentType:    ct,
				UserExternalID: userExt,
				Priority:       pr,
				Timestamp:      time.Unix(unixSeconds, 0).UTC(),
			}

			fields, err := Encode(e)
			if err != nil {
				return false
			}
			decoded, err := Decode(fields)
			if err != nil {
				return false
			}

			return decoded.EventID == e.EventID &&
				decoded.IdempotencyKey == e.IdempotencyKey &&
				decoded.EventType == e.EventType &&
				decoded.Source == e.Source &&
				decoded.Content == e.Content &&
				decoded.ContentType == e.ContentType &&
				decoded.UserExternalID == e.UserExternalID &&
				decoded.Priority == e.Priority &&
				decoded.Timestamp.Equal(e.Timestamp) &&
				decoded.Attachments == nil
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
		genSource(),
		genEventType(),
		genContentType(),
		genPriority(),
		gen.Int64Range(0, 4102444800), // 1970-01-01 .. 2100-01-01
	))

	properties.TestingRun(t)
}
