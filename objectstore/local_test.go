package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGetDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/storage/download", nil)
	require.NoError(t, err)

	ctx := context.Background()
	ptr, err := store.Put(ctx, PutInput{Key: "emails/raw/acct/2026-01-02/rec-1.eml", Data: []byte("hello")})
	require.NoError(t, err)
	require.Equal(t, BackendLocal, ptr.Backend)

	data, err := store.Get(ctx, ptr)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, store.Delete(ctx, ptr))

	_, err = store.Get(ctx, ptr)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreConfinesPathTraversalToRoot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/storage/download", nil)
	require.NoError(t, err)

	path, err := store.resolvePath("../../etc/passwd")
	require.NoError(t, err) // Clean() collapses the traversal before the prefix check
	require.Contains(t, path, dir)
}
