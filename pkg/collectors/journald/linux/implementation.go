//go:build linux

package linux

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"
	"github.com/yairfalse/dumptruck/pkg/collectors/journald/core"
)

// journalReader implements core.LogReader using systemd journal
type journalReader struct {
	dir string

	mu      sync.Mutex
	journal *sdjournal.Journal
}

// NewReader creates a journal reader. An empty dir opens the local system
// journal, otherwise the journal files below dir.
func NewReader(dir string) core.LogReader {
	return &journalReader{dir: dir}
}

// Open opens the systemd journal
func (r *journalReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.journal != nil {
		return nil
	}

	var (
		journal *sdjournal.Journal
		err     error
	)
	if r.dir != "" {
		journal, err = sdjournal.NewJournalFromDir(r.dir)
	} else {
		journal, err = sdjournal.NewJournal()
	}
	if err != nil {
		return core.NewCollectorError(core.ErrorTypeJournal, "failed to open journal", err)
	}

	r.journal = journal
	return nil
}

// Close closes the journal
func (r *journalReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.journal == nil {
		return nil
	}
	err := r.journal.Close()
	r.journal = nil
	if err != nil {
		return core.NewCollectorError(core.ErrorTypeJournal, "failed to close journal", err)
	}
	return nil
}

// IsOpen checks if the journal is open
func (r *journalReader) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.journal != nil
}

func (r *journalReader) open() (*sdjournal.Journal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.journal == nil {
		return nil, core.ErrJournalNotOpen
	}
	return r.journal, nil
}

// FlushMatches drops every installed match
func (r *journalReader) FlushMatches() error {
	journal, err := r.open()
	if err != nil {
		return err
	}
	journal.FlushMatches()
	return nil
}

// AddMatch installs a FIELD=value match
func (r *journalReader) AddMatch(match string) error {
	journal, err := r.open()
	if err != nil {
		return err
	}
	if err := journal.AddMatch(match); err != nil {
		return core.NewCollectorError(core.ErrorTypeMatch, "failed to add match "+match, err)
	}
	return nil
}

// Pollable checks the journal can hand out a wait descriptor. A zero
// timeout wait allocates the descriptor without blocking.
func (r *journalReader) Pollable() error {
	journal, err := r.open()
	if err != nil {
		return err
	}
	if ret := journal.Wait(0); ret < 0 {
		return core.NewCollectorError(core.ErrorTypePoll, "journal has no pollable descriptor", errors.New("sd_journal_wait failed"))
	}
	return nil
}

// SeekHead moves before the first entry
func (r *journalReader) SeekHead() error {
	journal, err := r.open()
	if err != nil {
		return err
	}
	if err := journal.SeekHead(); err != nil {
		return core.NewCollectorError(core.ErrorTypeSeek, "failed to seek to head", err)
	}
	return nil
}

// ReadEntry reads the next journal entry
func (r *journalReader) ReadEntry() (*core.LogEntry, error) {
	journal, err := r.open()
	if err != nil {
		return nil, err
	}

	// Move to next entry
	ret, err := journal.Next()
	if err != nil {
		return nil, core.NewCollectorError(core.ErrorTypeRead, "failed to read next entry", err)
	}
	if ret == 0 {
		return nil, core.ErrNoMoreEntries
	}

	entry, err := journal.GetEntry()
	if err != nil {
		return nil, core.NewCollectorError(core.ErrorTypeRead, "failed to get entry data", err)
	}

	return convertEntry(entry), nil
}

// WaitForEntries waits for new entries to become available
func (r *journalReader) WaitForEntries(timeout time.Duration) error {
	journal, err := r.open()
	if err != nil {
		return err
	}

	ret := journal.Wait(timeout)
	switch ret {
	case sdjournal.SD_JOURNAL_NOP:
		return core.ErrReadTimeout
	case sdjournal.SD_JOURNAL_APPEND:
		return nil
	case sdjournal.SD_JOURNAL_INVALIDATE:
		// Files were rotated or removed, nothing new to read yet.
		return core.ErrReadTimeout
	default:
		return core.NewCollectorError(core.ErrorTypeRead, "journal wait failed", nil)
	}
}

// convertEntry converts a systemd journal entry to our LogEntry format
func convertEntry(entry *sdjournal.JournalEntry) *core.LogEntry {
	fields := make(map[string]string, len(entry.Fields))
	for key, value := range entry.Fields {
		// Address fields are carried on the entry itself.
		if strings.HasPrefix(key, "__") {
			continue
		}
		fields[key] = value
	}

	return &core.LogEntry{
		Cursor:            entry.Cursor,
		RealtimeTimestamp: entry.RealtimeTimestamp,
		Fields:            fields,
	}
}
