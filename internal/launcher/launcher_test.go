package launcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/handlers"
	"github.com/yairfalse/dumptruck/pkg/metadata"
	"github.com/yairfalse/dumptruck/pkg/notify"
	"go.uber.org/zap/zaptest"
)

const (
	cacheDir = "/home/user/.cache"
	coreFile = "/var/lib/systemd/coredump/core.kate.1000.b00t.4242.zst"
)

type recordingRunner struct {
	mu   sync.Mutex
	cmds []handlers.Command
}

func (r *recordingRunner) Run(ctx context.Context, cmd handlers.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

type silentNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *silentNotifier) Notify(ctx context.Context, note notify.Notification) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return uint32(len(n.sent)), nil
}

func (n *silentNotifier) WaitAction(ctx context.Context, id uint32) (string, error) { return "", nil }
func (n *silentNotifier) Close() error { return nil }

type fixture struct {
	fs       afero.Fs
	runner   *recordingRunner
	notifier *silentNotifier
	launcher *Launcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	toolDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, "dumptruck-reporter"), []byte("#!/bin/sh\n"), 0o755))

	f := &fixture{
		fs:       afero.NewMemMapFs(),
		runner:   &recordingRunner{},
		notifier: &silentNotifier{},
	}
	factory := func(ctx context.Context) (notify.Notifier, error) { return f.notifier, nil }
	f.launcher = New(Config{
		Paths:    metadata.Paths{CacheDir: cacheDir},
		Reporter: handlers.ReporterConfig{SearchPath: []string{toolDir}},
	}, f.fs, factory, f.runner, nil, zaptest.NewLogger(t))
	return f
}

func crash(extra map[string]string) *domain.Record {
	fields := map[string]string{
		domain.KeyExe:       "/usr/bin/kate",
		domain.KeyPID:       "4242",
		domain.KeyUID:       "1000",
		domain.KeySignal:    "11",
		domain.KeyBootID:    "b00t",
		domain.KeyTimestamp: "1700000000123456",
		domain.KeyFilename:  coreFile,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return domain.NewRecord("", fields)
}

func TestHandleLaunchesReporter(t *testing.T) {
	f := newFixture(t)
	record := crash(nil)
	paths := metadata.Paths{CacheDir: cacheDir}
	require.NoError(t, afero.WriteFile(f.fs, coreFile, []byte("core"), 0o600))
	require.NoError(t, afero.WriteFile(f.fs, metadata.CurrentScratch(paths, record),
		[]byte("[CrashHandler]\nexe=/usr/bin/kate\nsignal=11\npid=4242\n[CrashHandlerComplete]\n"), 0o600))

	result, err := f.launcher.Handle(context.Background(), record)
	require.NoError(t, err)

	assert.Equal(t, "reporter", result.Handler)
	assert.Equal(t, metadata.Accept, result.Resolution.Decision)
	require.Len(t, f.runner.cmds, 1)
	assert.Contains(t, f.runner.cmds[0].Args, "--signal")
	assert.Empty(t, f.notifier.sent)

	exists, err := afero.Exists(f.fs, paths.DocumentPath(record))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestHandleFallsBackToNotification(t *testing.T) {
	f := newFixture(t)

	result, err := f.launcher.Handle(context.Background(), crash(nil))
	require.NoError(t, err)

	assert.Equal(t, "desktop-notifier", result.Handler)
	assert.Empty(t, f.runner.cmds)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Service Crash", f.notifier.sent[0].Summary)
}

func TestHandlePickupWithoutDataReachesNobody(t *testing.T) {
	f := newFixture(t)

	result, err := f.launcher.Handle(context.Background(), crash(map[string]string{domain.KeyPickup: "true"}))
	require.NoError(t, err)

	assert.Empty(t, result.Handler)
	assert.Empty(t, f.runner.cmds)
	assert.Empty(t, f.notifier.sent)
}

func TestUnsetSystemdEnvironment(t *testing.T) {
	t.Setenv("INVOCATION_ID", "abc")
	t.Setenv("JOURNAL_STREAM", "8:1")
	t.Setenv("DUMPTRUCK_KEEP", "1")

	UnsetSystemdEnvironment()

	_, ok := os.LookupEnv("INVOCATION_ID")
	assert.False(t, ok)
	_, ok = os.LookupEnv("JOURNAL_STREAM")
	assert.False(t, ok)
	assert.Equal(t, "1", os.Getenv("DUMPTRUCK_KEEP"))
}
