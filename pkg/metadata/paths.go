package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/yairfalse/dumptruck/pkg/domain"
)

const (
	documentSubdir = "dumptruck/crashes"
	scratchSubdir  = "crash-metadata"
)

// Paths derives every on-disk location from the user's cache directory
type Paths struct {
	CacheDir string
}

// DefaultCacheDir is $XDG_CACHE_HOME or ~/.cache
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache dir: %w", err)
	}
	return dir, nil
}

// DocumentDir is the directory holding canonical documents
func (p Paths) DocumentDir() string {
	return filepath.Join(p.CacheDir, documentSubdir)
}

// ScratchDir is where in-process crash handlers write their scratch files
func (p Paths) ScratchDir() string {
	return filepath.Join(p.CacheDir, scratchSubdir)
}

// DocumentPath is <exe>.<boot>.<pid>.<timestamp>.ini below DocumentDir. The
// content is JSON despite the extension.
func (p Paths) DocumentPath(record *domain.Record) string {
	name := fmt.Sprintf("%s.%s.%d.%s.ini",
		record.Command(), record.BootID, record.PID, record.Timestamp())
	return filepath.Join(p.DocumentDir(), name)
}

// Locator proposes one scratch file candidate for a record, "" when the
// scheme cannot name one.
type Locator func(p Paths, record *domain.Record) string

// CurrentScratch is <exe>.<boot>.<pid>.ini
func CurrentScratch(p Paths, record *domain.Record) string {
	if record.Command() == "" || record.BootID == "" || record.PID <= 0 {
		return ""
	}
	name := fmt.Sprintf("%s.%s.%d.ini", record.Command(), record.BootID, record.PID)
	return filepath.Join(p.ScratchDir(), name)
}

// LegacyScratch is <pid>.ini
func LegacyScratch(p Paths, record *domain.Record) string {
	if record.PID <= 0 {
		return ""
	}
	return filepath.Join(p.ScratchDir(), strconv.Itoa(record.PID)+".ini")
}

// DefaultLocators tries the current naming first, then the legacy one
func DefaultLocators() []Locator {
	return []Locator{CurrentScratch, LegacyScratch}
}
