package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/eventcore/eventmodel"
)

type fakeAppender struct {
	events   []eventmodel.UnifiedEvent
	streamID string
	err      error
}

func (f *fakeAppender) Append(ctx context.Context, event eventmodel.UnifiedEvent, maxLen int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.events = append(f.events, event)
	return f.streamID, nil
}

func newTestHandler(appender *fakeAppender) *WebhookHandler {
	h := NewWebhookHandler(appender, nil)
	n := 0
	h.newID = func() string { n++; return "evt-fixed-id" }
	h.now = func() time.Time { return time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestWebhookHandlerAppendsUnifiedEventWithSourceIDIdempotencyKey(t *testing.T) {
	appender := &fakeAppender{streamID: "1-0"}
	h := newTestHandler(appender)

	body := bytes.NewBufferString(`{"source_id":"evt-provider-123","content":"hello","content_type":"text","metadata":{"topic":"orders"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, appender.events, 1)
	evt := appender.events[0]
	require.Equal(t, eventmodel.EventTypeWebhook, evt.EventType)
	require.Equal(t, eventmodel.SourceWebhook, evt.Source)
	require.Equal(t, "webhook:evt-provider-123", evt.IdempotencyKey)
	require.Equal(t, "hello", evt.Content)
	require.Equal(t, "orders", evt.Metadata["topic"])
}

func TestWebhookHandlerFallsBackToEventIDWhenSourceIDMissing(t *testing.T) {
	appender := &fakeAppender{streamID: "1-0"}
	h := newTestHandler(appender)

	body := bytes.NewBufferString(`{"content":"no dedupe id supplied"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks", body)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, appender.events, 1)
	require.Equal(t, "webhook:evt-fixed-id", appender.events[0].IdempotencyKey)
}

func TestWebhookHandlerRejectsMalformedJSON(t *testing.T) {
	appender := &fakeAppender{}
	h := newTestHandler(appender)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, appender.events)
}

func TestWebhookHandlerRejectsUnsupportedContentType(t *testing.T) {
	appender := &fakeAppender{}
	h := newTestHandler(appender)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewBufferString(`{"content":"x","content_type":"application/pdf"}`))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookHandlerRejectsNonPostMethod(t *testing.T) {
	appender := &fakeAppender{}
	h := newTestHandler(appender)

	req := httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookHandlerReturns500OnAppendFailure(t *testing.T) {
	appender := &fakeAppender{err: context.DeadlineExceeded}
	h := newTestHandler(appender)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewBufferString(`{"content":"x"}`))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
