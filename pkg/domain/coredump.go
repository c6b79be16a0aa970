package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Journal fields written by systemd-coredump that the pipeline reads
const (
	KeyCore        = "COREDUMP"
	KeyFilename    = "COREDUMP_FILENAME"
	KeyExe         = "COREDUMP_EXE"
	KeyPID         = "COREDUMP_PID"
	KeyUID         = "COREDUMP_UID"
	KeySignal      = "COREDUMP_SIGNAL"
	KeyTimestamp   = "COREDUMP_TIMESTAMP"
	KeyUnit        = "COREDUMP_UNIT"
	KeyUserUnit    = "COREDUMP_USER_UNIT"
	KeySystemdUnit = "_SYSTEMD_UNIT"
	KeyBootID      = "_BOOT_ID"

	keySourceRealtime = "_SOURCE_REALTIME_TIMESTAMP"
	keyRealtime       = "__REALTIME_TIMESTAMP"
)

// Fields added by the processor before a record crosses the transport
const (
	// KeyCursor carries the journal cursor of the entry, records rebuilt from
	// a payload have no cursor of their own.
	KeyCursor = "DUMPTRUCK_CURSOR"
	// KeyPickup marks a replayed crash rather than a fresh one.
	KeyPickup = "DUMPTRUCK_PICKUP"
)

// CoreInJournal is the filename synthesized when the core is stored inside
// the journal entry instead of on disk.
const CoreInJournal = "/dev/null"

// Identity is the stable identity of one crash.
type Identity struct {
	BootID    string
	PID       int
	Timestamp string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s/%d/%s", i.BootID, i.PID, i.Timestamp)
}

// Record describes one crash observed in the journal. It is immutable after
// construction.
type Record struct {
	cursor string
	fields map[string]string

	UID      int
	PID      int
	Exe      string
	Filename string
	Unit     string
	BootID   string
}

// NewRecord builds a record from raw journal fields. cursor is empty when the
// record was rebuilt from a transported payload.
func NewRecord(cursor string, fields map[string]string) *Record {
	raw := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		raw[k] = v
	}
	if _, ok := raw[KeyFilename]; !ok {
		raw[KeyFilename] = ""
	}

	r := &Record{
		cursor:   cursor,
		fields:   raw,
		Exe:      raw[KeyExe],
		Filename: raw[KeyFilename],
		Unit:     raw[KeySystemdUnit],
		BootID:   raw[KeyBootID],
	}
	r.UID = atoi(raw[KeyUID], 0)
	r.PID = atoi(raw[KeyPID], -1)
	return r
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Valid reports whether the record is usable downstream. Entries without an
// executable and without a core are vacuum runs and similar noise.
func (r *Record) Valid() bool {
	return r.Exe != "" || r.Filename != ""
}

// Cursor returns the journal cursor the record was read at, falling back to
// the forwarded cursor field.
func (r *Record) Cursor() string {
	if r.cursor != "" {
		return r.cursor
	}
	return r.fields[KeyCursor]
}

// FromJournal reports whether the record was read live rather than rebuilt.
func (r *Record) FromJournal() bool {
	return r.cursor != ""
}

// Field returns a single raw field.
func (r *Record) Field(key string) string {
	return r.fields[key]
}

// Fields returns a copy of the raw field map.
func (r *Record) Fields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Pickup reports whether the record is a replay of an earlier crash.
func (r *Record) Pickup() bool {
	return r.fields[KeyPickup] != ""
}

// CoreInJournal reports whether the core was stored in the journal entry.
func (r *Record) CoreInJournal() bool {
	return r.Filename == CoreInJournal
}

// Command is the executable basename.
func (r *Record) Command() string {
	if r.Exe == "" {
		return ""
	}
	return filepath.Base(r.Exe)
}

// Timestamp is the crash time in microseconds as logged.
func (r *Record) Timestamp() string {
	for _, key := range []string{KeyTimestamp, keySourceRealtime, keyRealtime} {
		if v := r.fields[key]; v != "" {
			return v
		}
	}
	return "0"
}

// Identity returns the (boot id, pid, timestamp) tuple.
func (r *Record) Identity() Identity {
	return Identity{
		BootID:    r.BootID,
		PID:       r.PID,
		Timestamp: r.Timestamp(),
	}
}

// OwningUnit is the unit the crashed process belonged to, preferring the
// user unit.
func (r *Record) OwningUnit() string {
	if unit := r.fields[KeyUserUnit]; unit != "" {
		return unit
	}
	return r.fields[KeyUnit]
}
