// Package archivetest holds the behaviour every archive driver must share.
package archivetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectcore/internal/archive/core"
)

// Document is a small wire document used by the conformance run.
const Document = `[{"ObjectType":"Unit","Properties":[{"Name":"ID","Type":"UInt32","ConstructorParameterOrder":0,"Value":1}]}]`

// Run exercises Put, Get, Head, List and Delete against a fresh archive.
func Run(t *testing.T, archive core.Archive) {
	t.Helper()
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		info, err := archive.Put(ctx, "conf/alpha", strings.NewReader(Document), core.PutOptions{ObjectCount: 1, Metadata: map[string]string{"origin": "test"}})
		require.NoError(t, err)
		assert.Equal(t, "conf/alpha", info.Name)
		assert.Equal(t, int64(len(Document)), info.Size)
		assert.Equal(t, core.ContentTypeJSON, info.ContentType)
		assert.Equal(t, 1, info.ObjectCount)
		assert.Equal(t, core.ETag([]byte(Document)), info.ETag)
		assert.False(t, info.CreatedAt.IsZero())

		got, rc, err := archive.Get(ctx, "conf/alpha")
		require.NoError(t, err)
		defer func() { _ = rc.Close() }()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, Document, string(body))
		assert.Equal(t, 1, got.ObjectCount)
		assert.Equal(t, "test", got.Metadata["origin"])
	})

	t.Run("put is create only", func(t *testing.T) {
		_, err := archive.Put(ctx, "conf/alpha", bytes.NewReader([]byte("[]")), core.PutOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrExists), "expected ErrExists, got %v", err)

		_, rc, err := archive.Get(ctx, "conf/alpha")
		require.NoError(t, err)
		body, _ := io.ReadAll(rc)
		_ = rc.Close()
		assert.Equal(t, Document, string(body), "existing document must be untouched")
	})

	t.Run("head and missing", func(t *testing.T) {
		info, err := archive.Head(ctx, "conf/alpha")
		require.NoError(t, err)
		assert.Equal(t, int64(len(Document)), info.Size)

		_, err = archive.Head(ctx, "conf/missing")
		assert.True(t, errors.Is(err, core.ErrNotFound), "expected ErrNotFound, got %v", err)
		_, _, err = archive.Get(ctx, "conf/missing")
		assert.True(t, errors.Is(err, core.ErrNotFound), "expected ErrNotFound, got %v", err)
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", "  ", "../escape", "/abs"} {
			_, err := archive.Put(ctx, name, strings.NewReader("[]"), core.PutOptions{})
			assert.True(t, errors.Is(err, core.ErrInvalidName), "name %q: expected ErrInvalidName, got %v", name, err)
		}
	})

	t.Run("list by prefix", func(t *testing.T) {
		_, err := archive.Put(ctx, "conf/beta", strings.NewReader("[]"), core.PutOptions{})
		require.NoError(t, err)
		_, err = archive.Put(ctx, "other/gamma", strings.NewReader("[]"), core.PutOptions{})
		require.NoError(t, err)

		infos, err := archive.List(ctx, "conf/")
		require.NoError(t, err)
		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
		assert.Equal(t, []string{"conf/alpha", "conf/beta"}, names)

		all, err := archive.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("delete", func(t *testing.T) {
		ok, err := archive.Delete(ctx, "conf/beta")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = archive.Delete(ctx, "conf/beta")
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = archive.Head(ctx, "conf/beta")
		assert.True(t, errors.Is(err, core.ErrNotFound))
	})
}
