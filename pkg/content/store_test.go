package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("file", func(t *testing.T) {
		s, err := NewStore(&Config{Type: "file", Dir: filepath.Join(t.TempDir(), "cache")})
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
	t.Run("bolt", func(t *testing.T) {
		s, err := NewStore(&Config{Type: "bolt", BoltPath: filepath.Join(t.TempDir(), "content.db")})
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func TestPutGetCopy(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ok, err := s.Exists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Get(ctx, "a")
		assert.True(t, errors.Is(err, ErrNotFound))

		require.NoError(t, s.Put(ctx, "a", []byte("hello")))
		data, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)

		// 覆盖写
		require.NoError(t, s.Put(ctx, "a", []byte("world")))
		require.NoError(t, s.Copy(ctx, "a", "b"))
		data, err = s.Get(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []byte("world"), data)

		ok, err = s.Exists(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)

		err = s.Copy(ctx, "missing", "c")
		assert.True(t, errors.Is(err, ErrNotFound))
		ok, err = s.Exists(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestInvalidID(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		assert.Error(t, s.Put(context.Background(), "../escape", []byte("x")))
		assert.Error(t, s.Put(context.Background(), "", []byte("x")))
	})
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "0190-task", []byte("body")))
	data, err := os.ReadFile(filepath.Join(dir, "0190-task.cache"))
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))

	// 不留临时文件
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUnknownType(t *testing.T) {
	_, err := NewStore(&Config{Type: "s3"})
	assert.Error(t, err)
}
