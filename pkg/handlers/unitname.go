package handlers

import (
	"strings"

	"github.com/coreos/go-systemd/v22/unit"
)

const autostartSuffix = "@autostart.service"

// ApplicationID extracts the desktop application id from a unit name that
// follows the desktop launch conventions:
//
//	app[-<launcher>]-<id>[@<random>].service
//	app[-<launcher>]-<id>-<random>.scope
//
// Dashes inside the id are escaped by the launcher, so the id is the last
// dash separated element. Returns "" for any other unit.
func ApplicationID(unitName string) string {
	var name string
	switch {
	case strings.HasSuffix(unitName, ".service"):
		name = strings.TrimSuffix(unitName, ".service")
		if at := strings.IndexByte(name, '@'); at >= 0 {
			name = name[:at]
		}
	case strings.HasSuffix(unitName, ".scope"):
		name = strings.TrimSuffix(unitName, ".scope")
		dash := strings.LastIndexByte(name, '-')
		if dash < 0 {
			return ""
		}
		name = name[:dash]
	default:
		return ""
	}

	if !strings.HasPrefix(name, "app-") {
		return ""
	}
	parts := strings.Split(name, "-")
	id := parts[len(parts)-1]
	if id == "" {
		return ""
	}
	return unit.UnitNameUnescape(id)
}

// IsAutostart reports whether unitName was started from an autostart entry
func IsAutostart(unitName string) bool {
	return strings.HasSuffix(unitName, autostartSuffix)
}
