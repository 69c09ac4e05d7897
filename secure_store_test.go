package kiddoalert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureStore_PersistsSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "credentials.json")

	s, err := NewSecureStore(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, s.SaveTokens("access-abc", "refresh-abc"))
	require.NoError(t, s.SaveUserID("user-1"))
	deviceID, err := s.DeviceID()
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "access-abc")
	assert.NotContains(t, string(raw), deviceID)

	reopened, err := NewSecureStore(path, "correct horse")
	require.NoError(t, err)
	access, _ := reopened.AccessToken()
	refresh, _ := reopened.RefreshToken()
	userID, _ := reopened.UserID()
	again, _ := reopened.DeviceID()
	assert.Equal(t, "access-abc", access)
	assert.Equal(t, "refresh-abc", refresh)
	assert.Equal(t, "user-1", userID)
	assert.Equal(t, deviceID, again)
}

func TestSecureStore_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := NewSecureStore(path, "one")
	require.NoError(t, err)
	require.NoError(t, s.SaveTokens("a", "r"))

	_, err = NewSecureStore(path, "two")
	assert.ErrorIs(t, err, ErrSecretsLocked)
}

func TestSecureStore_CorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0600))

	_, err := NewSecureStore(path, "x")
	assert.ErrorIs(t, err, ErrStoreCorrupted)

	_, err = NewSecureStore("", "x")
	assert.ErrorIs(t, err, ErrMissingStorePath)
}

func TestSecureStore_ClearTokensKeepsDevice(t *testing.T) {
	s := NewMemorySecureStore()
	deviceID, err := s.DeviceID()
	require.NoError(t, err)
	assert.NotEmpty(t, deviceID)
	require.NoError(t, s.SaveTokens("a", "r"))
	require.NoError(t, s.SaveUserID("u"))

	require.NoError(t, s.ClearTokens())
	access, _ := s.AccessToken()
	userID, _ := s.UserID()
	assert.Empty(t, access)
	assert.Empty(t, userID)
	again, _ := s.DeviceID()
	assert.Equal(t, deviceID, again)

	require.NoError(t, s.ClearAll())
	fresh, _ := s.DeviceID()
	assert.NotEqual(t, deviceID, fresh)
}

func TestSecureStore_WritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := NewSecureStore(path, "correct horse")
	require.NoError(t, err)
	require.NoError(t, s.SaveTokens("access-1", "refresh-1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.NoFileExists(t, path+".tmp")

	// A non-empty directory at the target makes the rename fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0700))

	err = s.SaveTokens("access-2", "refresh-2")
	assert.ErrorIs(t, err, ErrStorePersist)
	assert.ErrorContains(t, err, "rename")
	assert.NoFileExists(t, path+".tmp")
}
