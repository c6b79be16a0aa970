package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/metadata"
	"gopkg.in/yaml.v3"
)

const cacheDir = "/cache"

func docDir() string {
	return metadata.Paths{CacheDir: cacheDir}.DocumentDir()
}

func writeDocument(t *testing.T, fs afero.Fs, name, exe string, pickedUp bool, modified time.Time) {
	t.Helper()
	doc := metadata.NewDocument()
	doc.CrashHandler[metadata.KeyExe] = exe
	doc.CrashHandler[metadata.KeySignal] = "11"
	doc.State.PickedUp = pickedUp
	data, err := doc.Marshal()
	require.NoError(t, err)

	path := filepath.Join(docDir(), name)
	require.NoError(t, fs.MkdirAll(docDir(), 0o700))
	require.NoError(t, afero.WriteFile(fs, path, data, 0o600))
	require.NoError(t, fs.Chtimes(path, modified, modified))
}

func run(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cmd := NewRootCommand(fs)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--cache-dir", cacheDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestListHuman(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Now()
	writeDocument(t, fs, "old.ini", "/usr/bin/old", true, now.Add(-time.Hour))
	writeDocument(t, fs, "new.ini", "/usr/bin/new", false, now)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(docDir(), "notes.txt"), []byte("x"), 0o600))

	out, err := run(t, fs, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "EXECUTABLE")
	assert.Contains(t, out, "/usr/bin/new")
	assert.NotContains(t, out, "notes.txt")
	assert.Less(t, bytes.Index([]byte(out), []byte("new.ini")), bytes.Index([]byte(out), []byte("old.ini")),
		"newest document first")
}

func TestListFallsBackToJournalExe(t *testing.T) {
	fs := afero.NewMemMapFs()
	doc := metadata.NewDocument()
	doc.Journal[domain.KeyExe] = "/usr/bin/xterm"
	doc.State.PickedUp = true
	data, err := doc.Marshal()
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll(docDir(), 0o700))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(docDir(), "xterm.ini"), data, 0o600))

	out, err := run(t, fs, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "/usr/bin/xterm")
}

func TestListEmpty(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No crashes recorded")

	out, err = run(t, afero.NewMemMapFs(), "list", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestListJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeDocument(t, fs, "app.ini", "/usr/bin/app", true, time.Now())

	out, err := run(t, fs, "list", "--output", "json")
	require.NoError(t, err)

	var entries []metadata.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "app.ini", entries[0].Name)
	require.NotNil(t, entries[0].Document)
	assert.True(t, entries[0].Document.PickedUp())
	assert.Equal(t, "/usr/bin/app", entries[0].Document.CrashHandler[metadata.KeyExe])
}

func TestShow(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeDocument(t, fs, "app.ini", "/usr/bin/app", true, time.Now())

	t.Run("by name as yaml", func(t *testing.T) {
		out, err := run(t, fs, "show", "app.ini")
		require.NoError(t, err)

		var doc metadata.Document
		require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
		assert.Equal(t, "/usr/bin/app", doc.CrashHandler[metadata.KeyExe])
		assert.True(t, doc.State.PickedUp)
	})

	t.Run("by path as json", func(t *testing.T) {
		out, err := run(t, fs, "show", "-o", "json", filepath.Join(docDir(), "app.ini"))
		require.NoError(t, err)

		doc, err := metadata.UnmarshalDocument([]byte(out))
		require.NoError(t, err)
		assert.Equal(t, "11", doc.CrashHandler[metadata.KeySignal])
	})

	t.Run("missing", func(t *testing.T) {
		_, err := run(t, fs, "show", "absent.ini")
		assert.ErrorContains(t, err, "failed to read document")
	})
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := run(t, afero.NewMemMapFs(), "list", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestVersion(t *testing.T) {
	out, err := run(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dumptruck dev")
}
