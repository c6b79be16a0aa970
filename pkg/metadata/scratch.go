package metadata

import (
	"fmt"

	"github.com/yairfalse/dumptruck/pkg/domain"
	"gopkg.in/ini.v1"
)

// Sections of the scratch file written by the in-process crash handler
const (
	SectionCrashHandler = "CrashHandler"
	SectionTags         = "CrashHandlerTags"
	SectionExtraData    = "CrashHandlerExtraData"
	SectionGPU          = "CrashHandlerGPU"
	SectionComplete     = "CrashHandlerComplete"
)

// Scratch is a parsed crash handler scratch file
type Scratch struct {
	Path         string
	CrashHandler map[string]string
	Tags         map[string]string
	ExtraData    map[string]string
	GPU          map[string]string
	Complete     bool
}

// ParseScratch parses the INI content of a scratch file
func ParseScratch(path string, data []byte) (*Scratch, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scratch file %s: %w", path, err)
	}

	return &Scratch{
		Path:         path,
		CrashHandler: sectionMap(file, SectionCrashHandler),
		Tags:         sectionMap(file, SectionTags),
		ExtraData:    sectionMap(file, SectionExtraData),
		GPU:          sectionMap(file, SectionGPU),
		Complete:     file.HasSection(SectionComplete),
	}, nil
}

func sectionMap(file *ini.File, name string) map[string]string {
	if !file.HasSection(name) {
		return map[string]string{}
	}
	return file.Section(name).KeysHash()
}

// Backfill fills signal, pid and the restart flag from the journal when the
// crash handler did not get to write its completeness marker. The restart
// flag defaults to true so the application is not restarted twice.
func (s *Scratch) Backfill(record *domain.Record) {
	if s.Complete {
		return
	}
	if s.CrashHandler[KeySignal] == "" {
		s.CrashHandler[KeySignal] = record.Field(domain.KeySignal)
	}
	if s.CrashHandler[KeyPID] == "" {
		s.CrashHandler[KeyPID] = record.Field(domain.KeyPID)
	}
	if s.CrashHandler[KeyRestarted] == "" {
		s.CrashHandler[KeyRestarted] = "true"
	}
}
