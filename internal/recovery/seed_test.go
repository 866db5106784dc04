package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir", "recovery.seed")

	seed, err := LoadOrCreateSeed(path)
	require.NoError(t, err)
	assert.Len(t, seed, SeedSize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(SeedPerm), info.Mode().Perm())

	again, err := LoadOrCreateSeed(path)
	require.NoError(t, err)
	assert.Equal(t, seed, again)
}

func TestLoadOrCreateSeed_Invalid(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte("abcd\n"), 0600))
	_, err := LoadOrCreateSeed(short)
	require.Error(t, err)

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("not hex"), 0600))
	_, err = LoadOrCreateSeed(garbage)
	require.Error(t, err)
}
