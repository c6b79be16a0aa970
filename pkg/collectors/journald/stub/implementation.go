//go:build !linux

package stub

import (
	"time"

	"github.com/yairfalse/dumptruck/pkg/collectors/journald/core"
)

// stubLogReader provides a stub implementation of LogReader
type stubLogReader struct{}

// NewReader returns a reader that fails every operation
func NewReader(dir string) core.LogReader {
	return &stubLogReader{}
}

// Open returns platform not supported error
func (r *stubLogReader) Open() error {
	return core.NewCollectorError(core.ErrorTypeUnsupported, "cannot open journal", core.ErrPlatformNotSupported)
}

// Close returns nil (no-op)
func (r *stubLogReader) Close() error {
	return nil
}

// IsOpen always returns false
func (r *stubLogReader) IsOpen() bool {
	return false
}

func (r *stubLogReader) FlushMatches() error {
	return core.ErrPlatformNotSupported
}

func (r *stubLogReader) AddMatch(match string) error {
	return core.ErrPlatformNotSupported
}

func (r *stubLogReader) Pollable() error {
	return core.ErrPlatformNotSupported
}

func (r *stubLogReader) SeekHead() error {
	return core.ErrPlatformNotSupported
}

// ReadEntry returns platform not supported error
func (r *stubLogReader) ReadEntry() (*core.LogEntry, error) {
	return nil, core.ErrPlatformNotSupported
}

// WaitForEntries returns platform not supported error
func (r *stubLogReader) WaitForEntries(timeout time.Duration) error {
	return core.ErrPlatformNotSupported
}
