package handlers

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

const desktopEntrySection = "Desktop Entry"

// DesktopEntry is the subset of a .desktop file used for notifications
type DesktopEntry struct {
	ID   string
	Path string
	Name string
	Icon string
}

// EntryLocator finds .desktop files in the XDG data and config dirs
type EntryLocator struct {
	FS         afero.Fs
	DataDirs   []string
	ConfigDirs []string
}

// NewEntryLocator uses the XDG base directory environment
func NewEntryLocator(fs afero.Fs) *EntryLocator {
	return &EntryLocator{
		FS:         fs,
		DataDirs:   xdgDirs("XDG_DATA_HOME", ".local/share", "XDG_DATA_DIRS", "/usr/local/share:/usr/share"),
		ConfigDirs: xdgDirs("XDG_CONFIG_HOME", ".config", "XDG_CONFIG_DIRS", "/etc/xdg"),
	}
}

func xdgDirs(homeVar, homeDefault, dirsVar, dirsDefault string) []string {
	var dirs []string
	if home := os.Getenv(homeVar); home != "" {
		dirs = append(dirs, home)
	} else if userHome, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(userHome, homeDefault))
	}

	list := os.Getenv(dirsVar)
	if list == "" {
		list = dirsDefault
	}
	return append(dirs, SearchPath(list)...)
}

// ForUnit returns the desktop entry that launched unitName, nil when the
// unit is not an application or no entry is installed
func (l *EntryLocator) ForUnit(unitName string) *DesktopEntry {
	id := ApplicationID(unitName)
	if id == "" {
		return nil
	}

	for _, dir := range l.DataDirs {
		if entry := l.load(id, filepath.Join(dir, "applications", id+".desktop")); entry != nil {
			return entry
		}
	}
	if IsAutostart(unitName) {
		for _, dir := range l.ConfigDirs {
			if entry := l.load(id, filepath.Join(dir, "autostart", id+".desktop")); entry != nil {
				return entry
			}
		}
	}
	return nil
}

func (l *EntryLocator) load(id, path string) *DesktopEntry {
	data, err := afero.ReadFile(l.FS, path)
	if err != nil {
		return nil
	}
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, data)
	if err != nil {
		return nil
	}
	section, err := file.GetSection(desktopEntrySection)
	if err != nil {
		return nil
	}
	if section.Key("Hidden").MustBool(false) {
		return nil
	}
	name := strings.TrimSpace(section.Key("Name").String())
	if name == "" {
		return nil
	}
	return &DesktopEntry{
		ID:   id,
		Path: path,
		Name: name,
		Icon: section.Key("Icon").String(),
	}
}
