package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/eventcore/objectstore"
)

type fakeTokenResolver struct {
	tokens map[string]objectstore.LocalToken
}

func (f *fakeTokenResolver) ResolveToken(ctx context.Context, token string) (objectstore.LocalToken, error) {
	t, ok := f.tokens[token]
	if !ok {
		return objectstore.LocalToken{}, objectstore.ErrNotFound
	}
	return t, nil
}

type fakeObjectGetter struct {
	objects map[string][]byte
}

func (f *fakeObjectGetter) Get(ctx context.Context, ptr objectstore.StoragePointer) ([]byte, error) {
	data, ok := f.objects[ptr.Key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return data, nil
}

func TestDownloadHandlerRedeemsTokenAndStreamsBytes(t *testing.T) {
	tokens := &fakeTokenResolver{tokens: map[string]objectstore.LocalToken{
		"tok-1": {Key: "emails/raw/env/2026-07-30/rec-1.eml"},
	}}
	objects := &fakeObjectGetter{objects: map[string][]byte{
		"emails/raw/env/2026-07-30/rec-1.eml": []byte("raw message bytes"),
	}}
	h := NewDownloadHandler(tokens, objects, nil)

	req := httptest.NewRequest(http.MethodGet, "/storage/download?token=tok-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "raw message bytes", rec.Body.String())
}

func TestDownloadHandlerMissingTokenParam(t *testing.T) {
	h := NewDownloadHandler(&fakeTokenResolver{tokens: map[string]objectstore.LocalToken{}}, &fakeObjectGetter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/storage/download", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadHandlerUnknownTokenReturns404(t *testing.T) {
	h := NewDownloadHandler(&fakeTokenResolver{tokens: map[string]objectstore.LocalToken{}}, &fakeObjectGetter{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/storage/download?token=missing", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadHandlerObjectGoneAfterTokenResolvedReturns404(t *testing.T) {
	tokens := &fakeTokenResolver{tokens: map[string]objectstore.LocalToken{
		"tok-2": {Key: "emails/raw/env/2026-07-30/missing.eml"},
	}}
	h := NewDownloadHandler(tokens, &fakeObjectGetter{objects: map[string][]byte{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/storage/download?token=tok-2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadHandlerRejectsNonGetMethod(t *testing.T) {
	h := NewDownloadHandler(&fakeTokenResolver{tokens: map[string]objectstore.LocalToken{}}, &fakeObjectGetter{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/storage/download?token=tok-1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
