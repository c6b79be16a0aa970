//go:build linux

package journald

import (
	"github.com/yairfalse/dumptruck/pkg/collectors/journald/core"
	"github.com/yairfalse/dumptruck/pkg/collectors/journald/linux"
)

// NewJournalReader creates the Linux journal reader. An empty dir reads the
// local system journal.
func NewJournalReader(dir string) core.LogReader {
	return linux.NewReader(dir)
}
