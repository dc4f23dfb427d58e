package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authdemo/internal/config"
)

func TestNewFileStorage(t *testing.T) {
	t.Run("creates directory with correct permissions", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "sessions")

		storage, err := NewFileStorage(dir)
		require.NoError(t, err)
		assert.NotNil(t, storage)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	})

	t.Run("requires a directory", func(t *testing.T) {
		_, err := NewFileStorage("")
		require.Error(t, err)
	})
}

func TestFileStorage_Items(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	require.NoError(t, err)

	_, ok, err := storage.GetItem(testKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.SetItem(testKey, "session"))
	require.NoError(t, storage.SetItem(testKey+"-code-verifier", "verifier"))

	info, err := os.Stat(filepath.Join(dir, storageFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// a second instance sees the same items
	reopened, err := NewFileStorage(dir)
	require.NoError(t, err)

	value, ok, err := reopened.GetItem(testKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "session", value)

	require.NoError(t, reopened.RemoveItem(testKey))
	require.NoError(t, reopened.RemoveItem(testKey))

	_, ok, err = storage.GetItem(testKey)
	require.NoError(t, err)
	assert.False(t, ok)

	value, ok, err = storage.GetItem(testKey + "-code-verifier")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "verifier", value)

	_, err = os.Stat(filepath.Join(dir, storageFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorage_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, storageFileName), []byte("{not json"), 0600))

	storage, err := NewFileStorage(dir)
	require.NoError(t, err)

	_, _, err = storage.GetItem(testKey)
	require.Error(t, err)
}

func TestStorageDir(t *testing.T) {
	base := t.TempDir()

	a, err := StorageDir(base, config.Provider{URL: "https://abcd.supabase.co"})
	require.NoError(t, err)
	b, err := StorageDir(base, config.Provider{URL: "https://efgh.supabase.co"})
	require.NoError(t, err)
	again, err := StorageDir(base, config.Provider{URL: "https://abcd.supabase.co"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
	assert.Equal(t, filepath.Join(base, "sessions"), filepath.Dir(a))
}
