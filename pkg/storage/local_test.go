package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGetDeleteExists(t *testing.T) {
	store, err := NewLocalStore(LocalConfig{RootDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "record/ab/cd/x/raw.tar", strings.NewReader("hello"), -1))

	exists, err := store.Exists(ctx, "record/ab/cd/x/raw.tar")
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Get(ctx, "record/ab/cd/x/raw.tar")
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, store.Delete(ctx, "record/ab/cd/x/raw.tar"))
	exists, err = store.Exists(ctx, "record/ab/cd/x/raw.tar")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStoreListReturnsKeysRelativeToRoot(t *testing.T) {
	store, err := NewLocalStore(LocalConfig{RootDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "record/ab/cd/x/raw.tar", strings.NewReader("a"), -1))
	require.NoError(t, store.Put(ctx, "record/ab/cd/x/mp4.mp4", strings.NewReader("b"), -1))
	require.NoError(t, store.Put(ctx, "record/ef/gh/y/raw.tar", strings.NewReader("c"), -1))

	entries, err := store.List(ctx, "record/")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		keys[e.Key] = true
		assert.False(t, e.ModTime.IsZero())
	}
	assert.True(t, keys["record/ab/cd/x/raw.tar"])
	assert.True(t, keys["record/ab/cd/x/mp4.mp4"])
	assert.True(t, keys["record/ef/gh/y/raw.tar"])
}

func TestLocalStoreListOnMissingPrefixReturnsEmpty(t *testing.T) {
	store, err := NewLocalStore(LocalConfig{RootDir: t.TempDir()})
	require.NoError(t, err)

	entries, err := store.List(context.Background(), "record/does/not/exist")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalStoreDeletePrefixRemovesWholeDirectory(t *testing.T) {
	store, err := NewLocalStore(LocalConfig{RootDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "record/ab/cd/x/raw.tar", strings.NewReader("a"), -1))
	require.NoError(t, store.Put(ctx, "record/ab/cd/x/mp4.mp4", strings.NewReader("b"), -1))

	require.NoError(t, store.DeletePrefix(ctx, "record/ab/cd/x"))

	exists, err := store.Exists(ctx, "record/ab/cd/x/raw.tar")
	require.NoError(t, err)
	assert.False(t, exists)
}
