package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/storagekit/pkg/storage"
)

func newLocal(t *testing.T) (*storage.LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.NewLocalStorage(dir, "/uploads")
	require.NoError(t, err)
	return s, dir
}

func TestNewLocalStorage(t *testing.T) {
	t.Parallel()

	t.Run("empty base path", func(t *testing.T) {
		t.Parallel()
		_, err := storage.NewLocalStorage("", "/uploads")
		require.ErrorIs(t, err, storage.ErrInvalidConfig)
	})

	t.Run("creates base directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "nested", "files")
		_, err := storage.NewLocalStorage(dir, "")
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := newLocal(t)

	data := []byte("hello local")
	res, err := s.Upload(ctx, "docs/a.txt", data, "text/plain", map[string]string{"owner": "alice"})
	require.NoError(t, err)
	assert.Equal(t, "docs/a.txt", res.Key)
	assert.Equal(t, "/uploads/docs/a.txt", res.URL)
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, "text/plain", res.ContentType)

	assert.FileExists(t, filepath.Join(dir, "docs", "a.txt"))
	assert.FileExists(t, filepath.Join(dir, "docs", "a.txt.meta"))

	dl, err := s.Download(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, data, dl.Data)
	assert.Equal(t, "text/plain", dl.ContentType)
	assert.Equal(t, map[string]string{"owner": "alice"}, dl.Metadata)
	assert.WithinDuration(t, time.Now(), dl.LastModified, time.Minute)

	meta, err := s.GetMetadata(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), meta.Size)
	assert.Equal(t, "text/plain", meta.ContentType)
	assert.Equal(t, "alice", meta.Metadata["owner"])
}

func TestLocalStorage_NoSidecar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := newLocal(t)

	_, err := s.Upload(ctx, "raw.bin", []byte{1, 2, 3}, "", nil)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "raw.bin.meta"))

	meta, err := s.GetMetadata(ctx, "raw.bin")
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultContentType, meta.ContentType)
	assert.NotNil(t, meta.Metadata)
	assert.Empty(t, meta.Metadata)
}

func TestLocalStorage_MalformedSidecar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := newLocal(t)

	_, err := s.Upload(ctx, "x.txt", []byte("x"), "text/plain", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt.meta"), []byte("{not json"), 0644))

	dl, err := s.Download(ctx, "x.txt")
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultContentType, dl.ContentType)
}

func TestLocalStorage_ExistsLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, dir := newLocal(t)

	ok, err := s.Exists(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Upload(ctx, "a/b/c.txt", []byte("c"), "text/plain", nil)
	require.NoError(t, err)

	ok, err = s.Exists(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "a/b/c.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "a", "b", "c.txt.meta"))

	ok, err = s.Exists(ctx, "a/b/c.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, "a/b")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not objects")
}

func TestLocalStorage_DeleteMissing(t *testing.T) {
	t.Parallel()
	s, _ := newLocal(t)
	require.NoError(t, s.Delete(context.Background(), "never/uploaded.txt"))
}

func TestLocalStorage_DeleteDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newLocal(t)

	_, err := s.Upload(ctx, "dir/file.txt", []byte("f"), "", nil)
	require.NoError(t, err)

	err = s.Delete(ctx, "dir")
	require.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestLocalStorage_NotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newLocal(t)

	_, err := s.Download(ctx, "missing.txt")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetMetadata(ctx, "missing.txt")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocalStorage_Copy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("copies payload and sidecar", func(t *testing.T) {
		t.Parallel()
		s, dir := newLocal(t)

		_, err := s.Upload(ctx, "src.txt", []byte("payload"), "text/plain", map[string]string{"k": "v"})
		require.NoError(t, err)

		require.NoError(t, s.Copy(ctx, "src.txt", "copies/dst.txt"))
		assert.FileExists(t, filepath.Join(dir, "copies", "dst.txt.meta"))

		dl, err := s.Download(ctx, "copies/dst.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), dl.Data)
		assert.Equal(t, "text/plain", dl.ContentType)
		assert.Equal(t, "v", dl.Metadata["k"])
	})

	t.Run("drops stale destination sidecar", func(t *testing.T) {
		t.Parallel()
		s, dir := newLocal(t)

		_, err := s.Upload(ctx, "plain.bin", []byte{1}, "", nil)
		require.NoError(t, err)
		_, err = s.Upload(ctx, "dst.bin", []byte{2}, "image/png", nil)
		require.NoError(t, err)

		require.NoError(t, s.Copy(ctx, "plain.bin", "dst.bin"))
		assert.NoFileExists(t, filepath.Join(dir, "dst.bin.meta"))
	})

	t.Run("missing source", func(t *testing.T) {
		t.Parallel()
		s, dir := newLocal(t)

		err := s.Copy(ctx, "missing-key", "dest")
		require.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoFileExists(t, filepath.Join(dir, "dest"))
	})
}

func TestLocalStorage_URLs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newLocal(t)

	u, err := s.GetURL(ctx, "img/a.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/img/a.png", u)

	u, err = s.GetURL(ctx, "img/a.png", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/img/a.png", u, "expiry is ignored")

	u, err = s.GeneratePresignedURL(ctx, "img/a.png", storage.OperationPut, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/img/a.png", u)

	_, err = s.GeneratePresignedURL(ctx, "img/a.png", storage.Operation("delete"), 0)
	require.ErrorIs(t, err, storage.ErrInvalidOperation)
}

func TestLocalStorage_PathTraversal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newLocal(t)

	for _, key := range []string{"../escape.txt", "a/../../escape.txt", "", "   "} {
		_, err := s.Upload(ctx, key, []byte("x"), "", nil)
		require.ErrorIs(t, err, storage.ErrInvalidKey, "key %q", key)
	}

	_, err := s.GetURL(ctx, "../../etc/passwd", 0)
	require.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	t.Parallel()
	s, _ := newLocal(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Upload(ctx, "a.txt", []byte("a"), "", nil)
	require.ErrorIs(t, err, storage.ErrOperationCanceled)
}
