package tokenstore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "auth", "credentials.json")

	return New(path), path
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	store, path := testStore(t)

	creds := Credentials{AccessToken: "acc-1", RefreshToken: "ref-1"}
	require.NoError(t, store.Save(creds))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, creds, *loaded)

	// No stray temp files after a successful save.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "credentials.json", entries[0].Name())
}

func TestStore_LoadAbsent(t *testing.T) {
	t.Parallel()

	store, _ := testStore(t)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_FilePermissions(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("unix permissions not applicable")
	}

	store, path := testStore(t)
	require.NoError(t, store.Save(Credentials{AccessToken: "a", RefreshToken: "r"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestStore_SaveOverwrites(t *testing.T) {
	t.Parallel()

	store, _ := testStore(t)

	require.NoError(t, store.Save(Credentials{AccessToken: "old-a", RefreshToken: "old-r"}))
	require.NoError(t, store.Save(Credentials{AccessToken: "new-a", RefreshToken: "new-r"}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "new-a", loaded.AccessToken)
	assert.Equal(t, "new-r", loaded.RefreshToken)
}

func TestStore_LoadPartialPair(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"access only", `{"access_token": "acc-1"}`},
		{"refresh only", `{"refresh_token": "ref-1"}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "credentials.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), FilePerms))

			_, err := New(path).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "partial credential pair")
		})
	}
}

func TestStore_LoadCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), FilePerms))

	_, err := New(path).Load()
	assert.Error(t, err)
}

func TestStore_Clear(t *testing.T) {
	t.Parallel()

	store, path := testStore(t)
	require.NoError(t, store.Save(Credentials{AccessToken: "a", RefreshToken: "r"}))

	require.NoError(t, store.Clear())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing an empty store is a no-op, not an error.
	require.NoError(t, store.Clear())
}
