package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const plainMessage = "From: Jane Customer <jane@example.com>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: Question about my order\r\n" +
	"Message-Id: <abc123@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello, where is my order?\r\n"

func TestParsePlainMessage(t *testing.T) {
	msg, err := Parse([]byte(plainMessage))
	require.NoError(t, err)
	require.Equal(t, "<abc123@example.com>", msg.MessageID)
	require.Equal(t, "jane@example.com", msg.Sender)
	require.Equal(t, "Question about my order", msg.Subject)
	require.Contains(t, msg.BodyText, "where is my order")
	require.Empty(t, msg.Attachments)
}

func buildMultipartWithSignatureImage() string {
	boundary := "BOUNDARY123"
	var b strings.Builder
	b.WriteString("From: Jane Customer <jane@example.com>\r\n")
	b.WriteString("To: support@example.com\r\n")
	b.WriteString("Subject: With signature\r\n")
	b.WriteString("Message-Id: <with-sig@example.com>\r\n")
	b.WriteString("Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=" + boundary + "\r\n")
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString("See my signature below.\r\n\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: image/png\r\n")
	b.WriteString("Content-Disposition: inline; filename=\"sig.png\"\r\n")
	b.WriteString("Content-ID: <sig-image-1>\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	b.WriteString("fake-png-bytes\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: application/pdf\r\n")
	b.WriteString("Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	b.WriteString("fake-pdf-bytes\r\n")

	b.WriteString("--" + boundary + "--\r\n")
	return b.String()
}

func TestParseDetectsSignatureImageAndAttachment(t *testing.T) {
	raw := buildMultipartWithSignatureImage()
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	require.Contains(t, msg.BodyText, "signature below")
	require.Len(t, msg.Attachments, 2)

	var sig, pdf *ParsedAttachment
	for i := range msg.Attachments {
		a := &msg.Attachments[i]
		if a.Signature {
			sig = a
		} else if strings.HasSuffix(a.Filename, ".pdf") {
			pdf = a
		}
	}

	require.NotNil(t, sig, "expected a signature image attachment")
	require.Equal(t, "sig.png", sig.Filename)
	require.True(t, sig.Inline)
	require.Equal(t, "sig-image-1", sig.ContentID)

	require.NotNil(t, pdf, "expected the pdf attachment")
	require.False(t, pdf.Signature)
	require.False(t, pdf.Inline)
}

const htmlOnlyMessageWithScript = "From: Jane Customer <jane@example.com>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: Order total\r\n" +
	"Message-Id: <html-only@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<style>.sig{color:red}</style><p>Order total 999999</p><script>track(123)</script>\r\n"

func TestParseHTMLOnlyMessageStripsScriptAndStyleContent(t *testing.T) {
	msg, err := Parse([]byte(htmlOnlyMessageWithScript))
	require.NoError(t, err)
	require.Contains(t, msg.BodyText, "Order total 999999")
	require.NotContains(t, msg.BodyText, "track")
	require.NotContains(t, msg.BodyText, "123")
	require.NotContains(t, msg.BodyText, "color")
	require.NotContains(t, msg.BodyText, "sig")
}

func TestIsSignatureImageRule(t *testing.T) {
	require.True(t, isSignatureImage("image/png", true, "cid1"))
	require.False(t, isSignatureImage("image/png", true, ""))
	require.False(t, isSignatureImage("image/png", false, "cid1"))
	require.False(t, isSignatureImage("application/pdf", true, "cid1"))
}
