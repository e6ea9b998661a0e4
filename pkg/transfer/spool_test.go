package transfer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolStaysInMemory(t *testing.T) {
	sp := newSpool(t.TempDir(), 10, mapOutputID(1))
	_, err := sp.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = sp.Write([]byte("world"))
	require.NoError(t, err)
	assert.False(t, sp.spilled())

	data, path, err := sp.finish()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "helloworld", string(data))
}

func TestSpoolSpillsPastLimit(t *testing.T) {
	dir := t.TempDir()
	sp := newSpool(dir, 4, mapOutputID(1))
	_, err := sp.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = sp.Write([]byte("defg"))
	require.NoError(t, err)
	assert.True(t, sp.spilled())

	data, path, err := sp.finish()
	require.NoError(t, err)
	assert.Nil(t, data)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefg", string(content))
}

func TestSpoolDiscardRemovesFile(t *testing.T) {
	dir := t.TempDir()
	sp := newSpool(dir, 0, mapOutputID(1))
	_, err := sp.Write([]byte("x"))
	require.NoError(t, err)
	require.True(t, sp.spilled())
	name := sp.file.Name()

	sp.discard()
	assert.NoFileExists(t, name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
