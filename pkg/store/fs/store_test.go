package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittoshuffle/pkg/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewWithPath(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func readAll(t *testing.T, s *Store, key string, rng *store.Range) string {
	t.Helper()
	rc, err := s.GetObject(context.Background(), key, rng)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestPutGetRange(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	key := "app/3/1/0/shuffle_3_1_0.data"

	require.NoError(t, s.PutObject(ctx, key, strings.NewReader("hello shuffle"), 13))

	assert.Equal(t, "hello shuffle", readAll(t, s, key, nil))
	assert.Equal(t, "shuffle", readAll(t, s, key, &store.Range{Offset: 6, Length: 7}))
	assert.Equal(t, "shuffle", readAll(t, s, key, &store.Range{Offset: 6, Length: 70}))

	_, err := s.GetObject(ctx, key, &store.Range{Offset: 13, Length: 1})
	assert.ErrorIs(t, err, store.ErrInvalidRange)

	info, err := s.StatObject(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(13), info.Size)
}

func TestPutSizeMismatchLeavesNothing(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.PutObject(ctx, "a/b", strings.NewReader("abc"), 10)
	require.Error(t, err)

	_, err = s.StatObject(ctx, "a/b")
	assert.ErrorIs(t, err, store.ErrObjectNotFound)

	entries, err := os.ReadDir(filepath.Join(s.cfg.BasePath, "a"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary file must be removed")
}

func TestOverwrite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutObject(ctx, "k", strings.NewReader("first"), 5))
	require.NoError(t, s.PutObject(ctx, "k", strings.NewReader("2nd"), 3))
	assert.Equal(t, "2nd", readAll(t, s, "k", nil))
}

func TestNotFoundAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetObject(ctx, "nope", nil)
	assert.ErrorIs(t, err, store.ErrObjectNotFound)
	assert.NoError(t, s.DeleteObject(ctx, "nope"))

	require.NoError(t, s.PutObject(ctx, "x/1", strings.NewReader("1"), 1))
	require.NoError(t, s.PutObject(ctx, "x/2", strings.NewReader("2"), 1))
	require.NoError(t, s.PutObject(ctx, "y/1", strings.NewReader("3"), 1))

	keys, err := s.ListByPrefix(ctx, "x/")
	require.NoError(t, err)
	assert.Equal(t, []string{"x/1", "x/2"}, keys)

	require.NoError(t, s.DeleteByPrefix(ctx, "x/"))
	keys, err = s.ListByPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"y/1"}, keys)
}

func TestRejectsEscapingKeys(t *testing.T) {
	s := newStore(t)
	err := s.PutObject(context.Background(), "../outside", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, store.ErrInvalidKey)
}

func TestNewRejectsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	_, err := New(Config{BasePath: p})
	assert.Error(t, err)
}

func TestClosed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Close())
	_, err := s.GetObject(context.Background(), "k", nil)
	assert.ErrorIs(t, err, store.ErrStoreClosed)
}
