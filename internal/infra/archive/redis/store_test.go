package redis

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectcore/internal/archive/archivetest"
	"objectcore/internal/archive/core"
)

// setupTestStore creates a miniredis instance and returns a connected Store.
func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := New(context.Background(), Options{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
		mr.Close()
	})
	return store, mr
}

func TestRedisArchiveConformance(t *testing.T) {
	store, _ := setupTestStore(t)
	archivetest.Run(t, store)
}

func TestRedisArchiveKeyLayout(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "layout", strings.NewReader(archivetest.Document), core.PutOptions{ObjectCount: 1})
	require.NoError(t, err)

	assert.True(t, mr.Exists("objectcore:snapshot:layout"))
	assert.Equal(t, archivetest.Document, mr.HGet("objectcore:snapshot:layout", "payload"))
	members, err := mr.ZMembers("objectcore:snapshots")
	require.NoError(t, err)
	assert.Equal(t, []string{"layout"}, members)

	ok, err := store.Delete(ctx, "layout")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("objectcore:snapshot:layout"))
}

func TestRedisArchiveSkipsStaleIndexEntries(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "live", strings.NewReader("[]"), core.PutOptions{})
	require.NoError(t, err)
	_, err = mr.ZAdd("objectcore:snapshots", 0, "ghost")
	require.NoError(t, err)

	infos, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "live", infos[0].Name)
}

func TestRedisArchiveOverwritesHashWithoutPayload(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	mr.HSet("objectcore:snapshot:partial", "name", "partial")

	_, err := store.Head(ctx, "partial")
	require.ErrorIs(t, err, core.ErrNotFound)

	info, err := store.Put(ctx, "partial", strings.NewReader(archivetest.Document), core.PutOptions{ObjectCount: 1})
	require.NoError(t, err)
	assert.Equal(t, "partial", info.Name)

	got, rc, err := store.Get(ctx, "partial")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, archivetest.Document, string(body))
	assert.Equal(t, 1, got.ObjectCount)

	_, err = store.Put(ctx, "partial", strings.NewReader("[]"), core.PutOptions{})
	require.ErrorIs(t, err, core.ErrExists)
}

func TestNewRedisStoreErrors(t *testing.T) {
	t.Run("invalid URL", func(t *testing.T) {
		_, err := New(context.Background(), Options{URL: "://bad"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})

	t.Run("connection failure", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, err := New(context.Background(), Options{URL: "redis://" + addr, ConnectTimeout: 100 * time.Millisecond})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})
}
