package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qntoni/passboltctl/pkg/sdk"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, path, store.Path())

	_, err = store.LoadCredentials()
	assert.ErrorIs(t, err, sdk.ErrNoCredentials)

	creds := &sdk.Credentials{
		ServerURL:    "https://passbolt.local",
		UserID:       "user-1",
		AccessToken:  "access",
		TokenType:    "Bearer",
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		RefreshToken: "refresh",
	}
	require.NoError(t, store.SaveCredentials(creds))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := store.LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, creds.AccessToken, loaded.AccessToken)
	assert.Equal(t, creds.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, creds.UserID, loaded.UserID)
	assert.True(t, creds.ExpiresAt.Equal(loaded.ExpiresAt))

	require.NoError(t, store.DeleteCredentials())
	_, err = store.LoadCredentials()
	assert.ErrorIs(t, err, sdk.ErrNoCredentials)

	// Deleting twice is not an error.
	assert.NoError(t, store.DeleteCredentials())
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.LoadCredentials()
	require.Error(t, err)
	assert.NotErrorIs(t, err, sdk.ErrNoCredentials)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestNewFileStore_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := NewFileStore("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".passboltctl", "credentials.json"), store.Path())
}
