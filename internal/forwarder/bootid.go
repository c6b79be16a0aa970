package forwarder

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// BootIDPath holds the kernel's id for the running boot
const BootIDPath = "/proc/sys/kernel/random/boot_id"

// NormalizeBootID accepts a boot id with or without dashes and returns the
// 32 hex digit form the journal uses for _BOOT_ID
func NormalizeBootID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("invalid boot id %q: %w", id, err)
	}
	return strings.ReplaceAll(parsed.String(), "-", ""), nil
}

// CurrentBootID reads the running boot's id
func CurrentBootID(fs afero.Fs) (string, error) {
	data, err := afero.ReadFile(fs, BootIDPath)
	if err != nil {
		return "", fmt.Errorf("failed to read boot id: %w", err)
	}
	return NormalizeBootID(string(data))
}
