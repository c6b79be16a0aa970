package handlers

import (
	"context"
	"sync"

	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/metadata"
	"github.com/yairfalse/dumptruck/pkg/notify"
)

type staticResolver struct {
	res   metadata.Resolution
	calls int
}

func (s *staticResolver) Resolve(ctx context.Context, record *domain.Record) metadata.Resolution {
	s.calls++
	return s.res
}

type fakeHandler struct {
	name    string
	outcome Outcome
	err     error
	seen    []*Crash
}

func (f *fakeHandler) Name() string { return f.name }

func (f *fakeHandler) Handle(ctx context.Context, crash *Crash) (Outcome, error) {
	f.seen = append(f.seen, crash)
	return f.outcome, f.err
}

type fakeRunner struct {
	mu   sync.Mutex
	cmds []Command
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

// fakeNotifier records notifications and answers WaitAction with action
type fakeNotifier struct {
	mu        sync.Mutex
	sent      []notify.Notification
	action    string
	notifyErr error
	closed    int
}

func (f *fakeNotifier) Notify(ctx context.Context, n notify.Notification) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return 0, f.notifyErr
	}
	f.sent = append(f.sent, n)
	return uint32(len(f.sent)), nil
}

func (f *fakeNotifier) WaitAction(ctx context.Context, id uint32) (string, error) {
	return f.action, nil
}

func (f *fakeNotifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeNotifier) factory() notify.Factory {
	return func(ctx context.Context) (notify.Notifier, error) {
		return f, nil
	}
}

func envValue(env []string, name string) (string, bool) {
	prefix := name + "="
	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

func testRecord(extra map[string]string) *domain.Record {
	fields := map[string]string{
		domain.KeyExe:      "/usr/bin/kate",
		domain.KeyPID:      "4242",
		domain.KeyUID:      "1000",
		domain.KeySignal:   "11",
		domain.KeyBootID:   "b00t",
		domain.KeyFilename: "/var/lib/systemd/coredump/core.kate.zst",
	}
	for k, v := range extra {
		fields[k] = v
	}
	return domain.NewRecord("", fields)
}
