package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfigFile(t *testing.T, path, userID string) {
	t.Helper()
	content := `
signaling:
  user_id: ` + userID + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "alice")

	w, err := NewWatcher(path, 10*time.Millisecond, zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, "alice", w.Current().Signaling.UserID)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "alice")

	var mu sync.Mutex
	var reloaded []*Config
	w, err := NewWatcher(path, 10*time.Millisecond, zap.NewNop().Sugar(), func(cfg *Config) {
		mu.Lock()
		reloaded = append(reloaded, cfg)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Stop()

	// Force a new mtime so the poll notices the rewrite.
	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, path, "bob")
	now := time.Now()
	require.NoError(t, os.Chtimes(path, now, now))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) == 1 && reloaded[0].Signaling.UserID == "bob"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "bob", w.Current().Signaling.UserID)
}

func TestWatcher_KeepsPreviousConfigOnInvalidUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "alice")

	called := false
	w, err := NewWatcher(path, 10*time.Millisecond, zap.NewNop().Sugar(), func(*Config) {
		called = true
	})
	require.NoError(t, err)
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("signaling:\n  user_id: \"\"\n"), 0o644))
	now := time.Now()
	require.NoError(t, os.Chtimes(path, now, now))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, called)
	assert.Equal(t, "alice", w.Current().Signaling.UserID)
}

func TestWatcher_MissingFileFails(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), time.Second, zap.NewNop().Sugar(), nil)
	assert.Error(t, err)
}
