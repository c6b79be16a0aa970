package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/dumptruck/pkg/domain"
)

const completeScratch = `[CrashHandler]
exe=/usr/bin/kate
signal=11
pid=4242
restarted=false
appname=kate
bugaddress=submit@bugs.example.org

[CrashHandlerTags]
release=24.02

[CrashHandlerExtraData]
note=value with ; semicolon

[CrashHandlerGPU]
name=Mesa Intel(R) Graphics

[CrashHandlerComplete]
`

func TestParseScratch(t *testing.T) {
	s, err := ParseScratch("kate.ini", []byte(completeScratch))
	require.NoError(t, err)

	assert.True(t, s.Complete)
	assert.Equal(t, "/usr/bin/kate", s.CrashHandler[KeyExe])
	assert.Equal(t, "11", s.CrashHandler[KeySignal])
	assert.Equal(t, "24.02", s.Tags["release"])
	assert.Equal(t, "value with ; semicolon", s.ExtraData["note"])
	assert.Equal(t, "Mesa Intel(R) Graphics", s.GPU["name"])
}

func TestParseScratchMissingSections(t *testing.T) {
	s, err := ParseScratch("x.ini", []byte("[CrashHandler]\nsignal=6\n"))
	require.NoError(t, err)

	assert.False(t, s.Complete)
	assert.NotNil(t, s.Tags)
	assert.Empty(t, s.GPU)
}

func TestBackfillIncomplete(t *testing.T) {
	record := domain.NewRecord("", map[string]string{
		domain.KeyExe:    "/usr/bin/kate",
		domain.KeyPID:    "4242",
		domain.KeySignal: "11",
	})

	// Every subset of the three primary fields.
	subsets := []map[string]string{
		{},
		{KeySignal: "6"},
		{KeyPID: "99"},
		{KeyRestarted: "false"},
		{KeySignal: "6", KeyPID: "99"},
		{KeySignal: "6", KeyRestarted: "false"},
		{KeyPID: "99", KeyRestarted: "false"},
		{KeySignal: "6", KeyPID: "99", KeyRestarted: "false"},
	}
	for _, subset := range subsets {
		s := &Scratch{CrashHandler: map[string]string{}}
		for k, v := range subset {
			s.CrashHandler[k] = v
		}
		s.Backfill(record)

		assert.NotEmpty(t, s.CrashHandler[KeySignal], "subset %v", subset)
		assert.NotEmpty(t, s.CrashHandler[KeyPID], "subset %v", subset)
		assert.NotEmpty(t, s.CrashHandler[KeyRestarted], "subset %v", subset)
		for k, v := range subset {
			assert.Equal(t, v, s.CrashHandler[k], "supplied values are kept")
		}
	}

	s := &Scratch{CrashHandler: map[string]string{}}
	s.Backfill(record)
	assert.Equal(t, map[string]string{KeySignal: "11", KeyPID: "4242", KeyRestarted: "true"}, s.CrashHandler)
}

func TestBackfillSkipsCompleteScratch(t *testing.T) {
	s := &Scratch{CrashHandler: map[string]string{KeyPID: "1"}, Complete: true}
	s.Backfill(domain.NewRecord("", map[string]string{domain.KeySignal: "11"}))
	assert.Equal(t, map[string]string{KeyPID: "1"}, s.CrashHandler)
}

func TestPaths(t *testing.T) {
	p := Paths{CacheDir: "/home/u/.cache"}
	record := domain.NewRecord("", map[string]string{
		domain.KeyExe:       "/usr/bin/kate",
		domain.KeyPID:       "4242",
		domain.KeyBootID:    "b00t",
		domain.KeyTimestamp: "1700000000123456",
	})

	assert.Equal(t, "/home/u/.cache/dumptruck/crashes/kate.b00t.4242.1700000000123456.ini", p.DocumentPath(record))
	assert.Equal(t, "/home/u/.cache/crash-metadata/kate.b00t.4242.ini", CurrentScratch(p, record))
	assert.Equal(t, "/home/u/.cache/crash-metadata/4242.ini", LegacyScratch(p, record))

	noPID := domain.NewRecord("", map[string]string{domain.KeyExe: "/usr/bin/kate"})
	assert.Empty(t, CurrentScratch(p, noPID))
	assert.Empty(t, LegacyScratch(p, noPID))
}
