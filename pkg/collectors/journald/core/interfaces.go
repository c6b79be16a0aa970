package core

import (
	"fmt"
	"strings"
	"time"
)

// LogReader reads journal entries. Implementations serialize their own
// handle access: WaitForEntries may be called from a goroutine other than
// the one reading entries.
type LogReader interface {
	// Open the journal
	Open() error

	// Close the journal
	Close() error

	// Check if journal is open
	IsOpen() bool

	// FlushMatches drops every installed match
	FlushMatches() error

	// AddMatch installs a FIELD=value match. Matches on the same field are
	// OR-ed, matches on different fields are AND-ed.
	AddMatch(match string) error

	// Pollable checks that the journal can signal changes
	Pollable() error

	// SeekHead moves before the first entry
	SeekHead() error

	// ReadEntry reads the next entry, ErrNoMoreEntries at the end
	ReadEntry() (*LogEntry, error)

	// WaitForEntries blocks until the journal changes, ErrReadTimeout when
	// nothing was appended within timeout
	WaitForEntries(timeout time.Duration) error
}

// LogEntry represents a raw journald log entry
type LogEntry struct {
	Cursor            string            `json:"__CURSOR"`
	RealtimeTimestamp uint64            `json:"__REALTIME_TIMESTAMP"`
	Fields            map[string]string `json:"fields"`
}

// Config defines journal watcher configuration
type Config struct {
	// BootID narrows matches to one boot, empty means every boot
	BootID string `json:"boot_id" mapstructure:"boot_id"`

	// Instance is the systemd-coredump@ template instance, empty means any
	Instance string `json:"instance" mapstructure:"instance"`

	// Matches are installed after the built-in ones
	Matches []string `json:"matches" mapstructure:"matches"`

	// BatchSize is the number of accepted records after which a pass yields
	BatchSize int `json:"batch_size" mapstructure:"batch_size"`

	// WaitInterval bounds each journal wait in follow mode
	WaitInterval time.Duration `json:"wait_interval" mapstructure:"wait_interval"`

	// Follow keeps watching for appended entries after the first pass
	Follow bool `json:"follow" mapstructure:"follow"`
}

const (
	DefaultBatchSize    = 128
	DefaultWaitInterval = 500 * time.Millisecond
)

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = DefaultWaitInterval
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	for _, m := range c.Matches {
		if !strings.Contains(m, "=") || strings.HasPrefix(m, "=") {
			return fmt.Errorf("invalid match %q: expected FIELD=value", m)
		}
	}
	if strings.ContainsAny(c.Instance, "=/") {
		return fmt.Errorf("invalid instance %q", c.Instance)
	}
	return nil
}

// InstanceFilter is the unit prefix every accepted entry must carry
func (c Config) InstanceFilter() string {
	return "systemd-coredump@" + c.Instance
}

// FullyTemplated reports whether the instance is the complete
// <iid>-<pid>-<uid> form that can be matched exactly. Older systemd versions
// expand only the first element.
func (c Config) FullyTemplated() bool {
	return strings.Count(c.Instance, "-") >= 2
}
