package mail

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ParsedAttachment is one MIME part extracted from an inbound message,
// before it has been assigned a storage key.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
	Inline      bool
	ContentID   string
	Signature   bool
}

// ParsedMessage is the result of walking an .eml's MIME tree: envelope
// fields plus the plain-text body and every attachment part, in document
// order.
type ParsedMessage struct {
	MessageID   string
	Sender      string
	SenderName  string
	Recipients  []string
	Subject     string
	Date        time.Time
	BodyText    string
	Attachments []ParsedAttachment
}

// Parse walks the MIME structure of a raw RFC 5322 message. Per-part
// decode failures (a malformed attachment, an unreadable body) are
// skipped silently rather than aborting the whole parse —
// only a failure to read the envelope headers themselves is fatal.
func Parse(raw []byte) (ParsedMessage, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("mail: create reader: %w", err)
	}

	msg := ParsedMessage{}

	if msgID, err := reader.Header.MessageID(); err == nil && msgID != "" {
		msg.MessageID = fmt.Sprintf("<%s>", msgID)
	}
	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := reader.Header.Date(); err == nil {
		msg.Date = date
	}
	if from, err := reader.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
		msg.SenderName = from[0].Name
	}
	if to, err := reader.Header.AddressList("To"); err == nil {
		for _, addr := range to {
			msg.Recipients = append(msg.Recipients, addr.Address)
		}
	}

	var bodyBuilder strings.Builder
	var htmlFallback string

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed boundary or part header: stop walking, but keep
			// whatever we already extracted.
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				bodyBuilder.Write(body)
			case strings.HasPrefix(contentType, "text/html") && htmlFallback == "":
				htmlFallback = string(body)
			case !strings.HasPrefix(contentType, "text/") && len(body) > 0:
				// Inline non-text parts (e.g. cid:-referenced images) are
				// extracted as inline attachments.
				_, dispParams, _ := h.ContentDisposition()
				filename := dispParams["filename"]
				if filename == "" {
					filename = fmt.Sprintf("attachment-%d", len(msg.Attachments)+1)
				}
				contentID := strings.Trim(h.Get("Content-Id"), "<>")
				msg.Attachments = append(msg.Attachments, ParsedAttachment{
					Filename: filename, ContentType: contentType, Data: body,
					Inline: true, ContentID: contentID,
					Signature: isSignatureImage(contentType, true, contentID),
				})
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			disposition, _, _ := h.ContentDisposition()
			contentID := strings.Trim(h.Get("Content-Id"), "<>")

			data, readErr := io.ReadAll(part.Body)
			if readErr != nil || len(data) == 0 {
				continue
			}

			inline := strings.EqualFold(disposition, "inline")
			if filename == "" {
				filename = fmt.Sprintf("attachment-%d", len(msg.Attachments)+1)
			}

			msg.Attachments = append(msg.Attachments, ParsedAttachment{
				Filename:    filename,
				ContentType: contentType,
				Data:        data,
				Inline:      inline,
				ContentID:   contentID,
				Signature:   isSignatureImage(contentType, inline, contentID),
			})
		}
	}

	msg.BodyText = bodyBuilder.String()
	if msg.BodyText == "" && htmlFallback != "" {
		msg.BodyText = stripHTML(htmlFallback)
	}

	return msg, nil
}

// isSignatureImage implements the signature-image classification rule: an
// image/* part, marked inline, carrying a Content-ID (so it is referenced
// from the HTML body via cid:), is treated as a signature/branding image
// rather than a genuine user attachment.
func isSignatureImage(contentType string, inline bool, contentID string) bool {
	return strings.HasPrefix(contentType, "image/") && inline && contentID != ""
}

// stripHTML is a minimal fallback for deriving a plain-text body when a
// message carries only an HTML part. It is intentionally crude — it is a
// last resort, not a rendering engine — and only runs when no text/plain
// part exists at all. script/style elements are skipped wholesale (tag
// and text content both), since their contents are never part of the
// rendered document and would otherwise leak stray keywords/numbers into
// the classifier and escalation-rule input.
func stripHTML(html string) string {
	var out strings.Builder
	lower := strings.ToLower(html)
	skipUntil := ""
	for i := 0; i < len(html); {
		if skipUntil != "" {
			idx := strings.Index(lower[i:], skipUntil)
			if idx < 0 {
				break
			}
			i += idx + len(skipUntil)
			skipUntil = ""
			continue
		}
		if html[i] == '<' {
			end := strings.IndexByte(html[i:], '>')
			if end < 0 {
				break
			}
			tag := html[i+1 : i+end]
			if name := htmlTagName(tag); name == "script" || name == "style" {
				skipUntil = "</" + name + ">"
			}
			i += end + 1
			continue
		}
		out.WriteByte(html[i])
		i++
	}
	return strings.Join(strings.Fields(out.String()), " ")
}

// htmlTagName extracts the lowercased element name from a tag's inner
// text (the part between '<' and '>', e.g. "script type=\"text/javascript\""
// or "/style"), so callers can identify script/style elements regardless
// of attributes or closing-tag syntax.
func htmlTagName(tag string) string {
	tag = strings.TrimPrefix(tag, "/")
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
