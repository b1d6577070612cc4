package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "bots/BTCUSDT/state.json", []byte(`{"a":1}`)))

	data, err := s.Load(ctx, "bots/BTCUSDT/state.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	require.NoError(t, s.Delete(ctx, "bots/BTCUSDT/state.json"))
	_, err = s.Load(ctx, "bots/BTCUSDT/state.json")
	assert.Error(t, err)
}

func TestFileStore_SaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), "state.json", []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestFileStore_DeleteMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	assert.NoError(t, s.Delete(context.Background(), "never-written.json"))
}

func TestFileStore_OverwriteReplacesContent(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "v.json", []byte("one")))
	require.NoError(t, s.Save(ctx, "v.json", []byte("two")))

	data, err := s.Load(ctx, "v.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	full := filepath.Join(dir, "v.json")
	info, err := os.Stat(full)
	require.NoError(t, err)
	assert.EqualValues(t, 3, info.Size())
}
