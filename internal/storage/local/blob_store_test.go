package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/storage/local"
)

func newStore(t *testing.T) (*local.BlobStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	return store, dir
}

func TestNewValidatesBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: "  "})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: file})
	require.Error(t, err)

	nested := filepath.Join(t.TempDir(), "assets", "madara")
	_, err = local.New(local.Config{BaseDir: nested})
	require.NoError(t, err)
	assert.DirExists(t, nested)
	entries, err := os.ReadDir(nested)
	require.NoError(t, err)
	assert.Empty(t, entries, "writability probe must be cleaned up")
}

func TestPutObjectWritesChapterPages(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "manga/alpha/chapter-1/001.jpg", "image/jpeg", strings.NewReader("first"))
	require.NoError(t, err)
	want := filepath.Join(dir, "manga", "alpha", "chapter-1", "001.jpg")
	assert.Equal(t, "file://"+filepath.ToSlash(want), uri)

	_, err = store.PutObject(ctx, "/manga/alpha/chapter-1/001.jpg", "image/jpeg", strings.NewReader("second"))
	require.NoError(t, err)
	got, err := os.ReadFile(want) // #nosec G304 -- temp dir
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging files left behind")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestPutObjectFailures(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t)
	ctx := context.Background()

	_, err := store.PutObject(ctx, "../escape.jpg", "image/jpeg", strings.NewReader("x"))
	require.ErrorIs(t, err, local.ErrOutsideBase)

	_, err = store.PutObject(ctx, "", "image/jpeg", strings.NewReader("x"))
	require.Error(t, err)

	_, err = store.PutObject(ctx, "manga/alpha/chapter-2/001.jpg", "image/jpeg", failingReader{})
	require.ErrorContains(t, err, "connection reset")
	assert.NoFileExists(t, filepath.Join(dir, "manga", "alpha", "chapter-2", "001.jpg"))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.PutObject(canceled, "manga/alpha/cover.jpg", "image/jpeg", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeletePrefixAndLocalPath(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t)
	ctx := context.Background()

	for _, p := range []string{"manga/solo/c1/001.jpg", "manga/solo/c2/001.jpg", "manga/other/c1/001.jpg"} {
		_, err := store.PutObject(ctx, p, "image/jpeg", strings.NewReader("x"))
		require.NoError(t, err)
	}

	full, ok := store.LocalPath("manga/solo/c1/001.jpg")
	require.True(t, ok)
	assert.FileExists(t, full)
	_, ok = store.LocalPath("../../etc/passwd")
	assert.False(t, ok)

	require.NoError(t, store.DeletePrefix(ctx, "manga/solo/"))
	assert.NoDirExists(t, filepath.Join(dir, "manga", "solo"))
	assert.FileExists(t, filepath.Join(dir, "manga", "other", "c1", "001.jpg"))

	require.NoError(t, store.DeletePrefix(ctx, "manga/missing"))
	require.Error(t, store.DeletePrefix(ctx, ""))
	require.ErrorIs(t, store.DeletePrefix(ctx, "manga/../.."), local.ErrOutsideBase)
}
