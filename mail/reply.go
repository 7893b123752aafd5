package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaywire/eventcore/objectstore"
)

// Reply is a composed response to an inbound message. It is archived, not
// sent: this module has no SMTP client and does not attempt delivery. The
// Non-goal excluding "outbound protocol adapters beyond a minimum reply
// surface" means handler workflows compose a Reply and hand it to whatever
// transport-specific adapter sits outside this module's scope; this
// package only produces the rendered content and keeps a durable record of
// what was decided.
type Reply struct {
	InReplyTo  string
	Subject    string
	Recipients []string
	BodyText   string
	ComposedAt time.Time
	StorageKey string
}

// ReplyComposer renders plain-text replies and archives them via the
// object store for audit, without ever attempting delivery.
type ReplyComposer struct {
	store objectstore.Store
	now   func() time.Time
	newID func() string
}

// NewReplyComposer builds a ReplyComposer over the given object store.
func NewReplyComposer(store objectstore.Store) *ReplyComposer {
	return &ReplyComposer{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Compose renders a plain-text reply to original, quoting its body under a
// standard attribution line, and archives the rendered content. It returns
// the composed Reply with its archive StorageKey populated; actual
// delivery is the caller's responsibility via whatever channel adapter
// applies to the originating source.
func (c *ReplyComposer) Compose(ctx context.Context, original RawMailRecord, bodyText string) (Reply, error) {
	subject := original.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	rendered := renderReply(original, bodyText)

	reply := Reply{
		InReplyTo:  original.MessageID,
		Subject:    subject,
		Recipients: replyRecipients(original),
		BodyText:   rendered,
		ComposedAt: c.now(),
	}

	key := fmt.Sprintf("emails/replies/%s/%s.txt", original.AccountID, c.newID())
	ptr, err := c.store.Put(ctx, objectstore.PutInput{
		Key:         key,
		Data:        []byte(rendered),
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return Reply{}, fmt.Errorf("mail: archive reply: %w", err)
	}
	reply.StorageKey = ptr.Key

	return reply, nil
}

func replyRecipients(original RawMailRecord) []string {
	if original.Sender == "" {
		return nil
	}
	return []string{original.Sender}
}

func renderReply(original RawMailRecord, bodyText string) string {
	var b strings.Builder
	b.WriteString(bodyText)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "On %s, %s wrote:\n", original.ReceivedAt.Format(time.RFC1123), attributionName(original))
	for _, line := range strings.Split(original.BodyText, "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func attributionName(original RawMailRecord) string {
	if original.SenderName != "" {
		return fmt.Sprintf("%s <%s>", original.SenderName, original.Sender)
	}
	return original.Sender
}
