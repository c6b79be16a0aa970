package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/dumptruck/pkg/retention"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	maxAge, interval = 0, 0
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestCleanupMissingDirectoryFails(t *testing.T) {
	err := execute(t, filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, retention.ErrNoStore)
}

func TestCleanupRemovesStaleDocuments(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "old.ini")
	fresh := filepath.Join(dir, "new.ini")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0o600))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, execute(t, "--max-age", "24h", dir))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
