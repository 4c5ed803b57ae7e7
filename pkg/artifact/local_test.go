package artifact_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderkit/renderkit/pkg/artifact"
)

// pngHeader is enough magic bytes for content detection to say image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("x", 64))

func newLocalStorage(t *testing.T) (*artifact.LocalStorage, string) {
	t.Helper()

	dir := t.TempDir()
	storage, err := artifact.NewLocalStorage(dir, "/artifacts/")
	require.NoError(t, err)
	return storage, dir
}

func TestNewLocalStorage(t *testing.T) {
	t.Parallel()

	t.Run("creates the root directory", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "nested", "artifacts")
		_, err := artifact.NewLocalStorage(dir, "")
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("empty base dir", func(t *testing.T) {
		t.Parallel()

		_, err := artifact.NewLocalStorage("", "")
		assert.ErrorIs(t, err, artifact.ErrInvalidConfig)
	})
}

func TestLocalStorage_Put(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("writes the stream and returns metadata", func(t *testing.T) {
		t.Parallel()

		storage, dir := newLocalStorage(t)
		content := []byte("rendered frames")

		art, err := storage.Put(ctx, "renders/job-1.bin", bytes.NewReader(content),
			artifact.WithContentType("video/mp4"))
		require.NoError(t, err)
		assert.Equal(t, "renders/job-1.bin", art.Key)
		assert.EqualValues(t, len(content), art.Size)
		assert.Equal(t, "video/mp4", art.ContentType)
		assert.Equal(t, "/artifacts/renders/job-1.bin", art.URL)

		stored, err := os.ReadFile(filepath.Join(dir, "renders", "job-1.bin"))
		require.NoError(t, err)
		assert.Equal(t, content, stored)
	})

	t.Run("content type from extension", func(t *testing.T) {
		t.Parallel()

		storage, _ := newLocalStorage(t)
		art, err := storage.Put(ctx, "thumbs/frame.png", bytes.NewReader([]byte("not really a png")))
		require.NoError(t, err)
		assert.Equal(t, "image/png", art.ContentType)
	})

	t.Run("content type sniffed without extension", func(t *testing.T) {
		t.Parallel()

		storage, dir := newLocalStorage(t)
		art, err := storage.Put(ctx, "thumbs/frame", bytes.NewReader(pngHeader))
		require.NoError(t, err)
		assert.Equal(t, "image/png", art.ContentType)

		// Sniffed bytes must still land in the file
		stored, err := os.ReadFile(filepath.Join(dir, "thumbs", "frame"))
		require.NoError(t, err)
		assert.Equal(t, pngHeader, stored)
	})

	t.Run("overwrites existing artifacts", func(t *testing.T) {
		t.Parallel()

		storage, dir := newLocalStorage(t)
		_, err := storage.Put(ctx, "renders/out.bin", bytes.NewReader([]byte("first, longer version")))
		require.NoError(t, err)
		_, err = storage.Put(ctx, "renders/out.bin", bytes.NewReader([]byte("second")))
		require.NoError(t, err)

		stored, err := os.ReadFile(filepath.Join(dir, "renders", "out.bin"))
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), stored)
	})

	t.Run("nil reader", func(t *testing.T) {
		t.Parallel()

		storage, _ := newLocalStorage(t)
		_, err := storage.Put(ctx, "renders/out.bin", nil)
		assert.ErrorIs(t, err, artifact.ErrNilReader)
	})

	t.Run("rejects escaping keys", func(t *testing.T) {
		t.Parallel()

		storage, _ := newLocalStorage(t)
		for _, key := range []string{"", "  ", "..", "../escape.bin", "renders/../../escape.bin", "a\x00b"} {
			_, err := storage.Put(ctx, key, bytes.NewReader([]byte("x")))
			assert.ErrorIs(t, err, artifact.ErrInvalidKey, "key %q", key)
		}
	})

	t.Run("cancelled context removes the partial file", func(t *testing.T) {
		t.Parallel()

		storage, dir := newLocalStorage(t)
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.Put(cancelled, "renders/out.bin", bytes.NewReader([]byte("never written")))
		require.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, filepath.Join(dir, "renders", "out.bin"))
	})
}

func TestLocalStorage_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage, dir := newLocalStorage(t)
	_, err := storage.Put(ctx, "renders/out.bin", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	t.Run("removes the artifact", func(t *testing.T) {
		require.NoError(t, storage.Delete(ctx, "renders/out.bin"))
		assert.NoFileExists(t, filepath.Join(dir, "renders", "out.bin"))
	})

	t.Run("missing artifact", func(t *testing.T) {
		assert.ErrorIs(t, storage.Delete(ctx, "renders/gone.bin"), artifact.ErrArtifactNotFound)
	})

	t.Run("rejects prefixes", func(t *testing.T) {
		_, err := storage.Put(ctx, "renders/keep.bin", bytes.NewReader([]byte("x")))
		require.NoError(t, err)
		assert.ErrorIs(t, storage.Delete(ctx, "renders"), artifact.ErrInvalidKey)
	})
}

func TestLocalStorage_DeletePrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage, dir := newLocalStorage(t)
	for _, key := range []string{"renders/a.bin", "renders/b.bin", "thumbs/a.png"} {
		_, err := storage.Put(ctx, key, bytes.NewReader([]byte("x")))
		require.NoError(t, err)
	}

	require.NoError(t, storage.DeletePrefix(ctx, "renders"))
	assert.NoDirExists(t, filepath.Join(dir, "renders"))
	assert.FileExists(t, filepath.Join(dir, "thumbs", "a.png"))

	assert.ErrorIs(t, storage.DeletePrefix(ctx, "renders"), artifact.ErrPrefixNotFound)
	assert.ErrorIs(t, storage.DeletePrefix(ctx, "thumbs/a.png"), artifact.ErrInvalidKey)
}

func TestLocalStorage_Exists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage, _ := newLocalStorage(t)
	_, err := storage.Put(ctx, "renders/out.bin", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	assert.True(t, storage.Exists(ctx, "renders/out.bin"))
	assert.False(t, storage.Exists(ctx, "renders/missing.bin"))
	// Prefixes are not artifacts
	assert.False(t, storage.Exists(ctx, "renders"))
	assert.False(t, storage.Exists(ctx, "../escape"))
}

func TestLocalStorage_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage, _ := newLocalStorage(t)
	_, err := storage.Put(ctx, "renders/a.bin", bytes.NewReader([]byte("aa")))
	require.NoError(t, err)
	_, err = storage.Put(ctx, "renders/b.bin", bytes.NewReader([]byte("bbbb")))
	require.NoError(t, err)
	_, err = storage.Put(ctx, "renders/nested/c.bin", bytes.NewReader([]byte("c")))
	require.NoError(t, err)

	objects, err := storage.List(ctx, "renders")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	byKey := make(map[string]int64, len(objects))
	for _, obj := range objects {
		byKey[obj.Key] = obj.Size
	}
	assert.EqualValues(t, 2, byKey["renders/a.bin"])
	assert.EqualValues(t, 4, byKey["renders/b.bin"])

	_, err = storage.List(ctx, "missing")
	assert.ErrorIs(t, err, artifact.ErrPrefixNotFound)
}

func TestLocalStorage_URL(t *testing.T) {
	t.Parallel()

	storage, err := artifact.NewLocalStorage(t.TempDir(), "https://cdn.example.com/renders")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/renders/jobs/1.mp4", storage.URL("jobs/1.mp4"))
	assert.Equal(t, "https://cdn.example.com/renders/jobs/1.mp4", storage.URL("/jobs/1.mp4"))
}
