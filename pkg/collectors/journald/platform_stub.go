//go:build !linux

package journald

import (
	"github.com/yairfalse/dumptruck/pkg/collectors/journald/core"
	"github.com/yairfalse/dumptruck/pkg/collectors/journald/stub"
)

// NewJournalReader creates the stub reader for non-Linux platforms
func NewJournalReader(dir string) core.LogReader {
	return stub.NewReader(dir)
}
