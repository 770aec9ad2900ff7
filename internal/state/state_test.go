package state

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, err)
	assert.Empty(t, s.Get().Token)
	assert.Zero(t, s.Get().LastBotID)
	assert.True(t, s.AutoSave(), "auto-save defaults to on")
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.SetToken("tok-1", "ada@example.com"))
	require.NoError(t, s.SetLastBot(7))
	require.NoError(t, s.SetAutoSave(false))

	reopened, err := Open(path)
	require.NoError(t, err)
	st := reopened.Get()
	assert.Equal(t, "tok-1", st.Token)
	assert.Equal(t, "ada@example.com", st.Email)
	assert.Equal(t, 7, st.LastBotID)
	assert.False(t, reopened.AutoSave())

	require.NoError(t, reopened.ClearToken())
	again, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, again.Get().Token)
	assert.Equal(t, 7, again.Get().LastBotID)
}

func TestStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "state.yaml")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetToken("secret", ""))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpen_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unclosed"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
}
