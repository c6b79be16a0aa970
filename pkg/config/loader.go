package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DUMPTRUCK"

// Loader handles configuration loading from multiple sources
type Loader struct {
	v           *viper.Viper
	searchPaths []string
	configFile  string
}

// NewLoader creates a loader around v. A nil v gets a private instance.
func NewLoader(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{
		v:           v,
		searchPaths: GetConfigPaths(),
	}
}

// WithSearchPaths sets custom search paths for configuration files
func (l *Loader) WithSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// WithConfigFile sets a specific configuration file to load. A named file
// that does not exist is an error, a missing file on the search path is not.
func (l *Loader) WithConfigFile(file string) *Loader {
	l.configFile = file
	return l
}

// Load loads configuration from all sources in priority order:
// 1. Default configuration
// 2. Configuration file (if found)
// 3. Environment variables
// 4. Command line flags bound to the viper instance by the caller
func (l *Loader) Load() (*Config, error) {
	registerDefaults(l.v)

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		for _, path := range l.searchPaths {
			l.v.AddConfigPath(path)
		}
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configFile != "" || !errors.As(err, &notFound) {
			return nil, NewConfigFileError("read", l.configFile, err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, NewConfigFileError("decode", l.v.ConfigFileUsed(), err)
	}
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load is a shortcut for NewLoader(v).WithConfigFile(file).Load()
func Load(v *viper.Viper, file string) (*Config, error) {
	return NewLoader(v).WithConfigFile(file).Load()
}

// GetConfigPaths returns the directories searched for config.yaml
func GetConfigPaths() []string {
	var paths []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, "dumptruck"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dumptruck"))
	}
	return append(paths, "/etc/dumptruck")
}

// registerDefaults makes every key known to viper so environment overrides
// reach nested sections
func registerDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("cache_dir", "")
	v.SetDefault("debug", false)
	v.SetDefault("dev_notify", 0)
	v.SetDefault("include_all", false)
	v.SetDefault("libexec_path", "")

	v.SetDefault("journal.boot_id", "")
	v.SetDefault("journal.instance", "")
	v.SetDefault("journal.matches", []string{})
	v.SetDefault("journal.batch_size", d.Journal.BatchSize)
	v.SetDefault("journal.wait_interval", d.Journal.WaitInterval)
	v.SetDefault("journal.follow", false)

	v.SetDefault("transport.socket_template", d.Transport.SocketTemplate)
	v.SetDefault("transport.write_timeout", d.Transport.WriteTimeout)
	v.SetDefault("transport.chunk_size", d.Transport.ChunkSize)

	v.SetDefault("pickup.rate", d.Pickup.Rate)
	v.SetDefault("pickup.burst", d.Pickup.Burst)

	v.SetDefault("resolver.debug", false)
	v.SetDefault("resolver.include_all", false)
	v.SetDefault("resolver.allow_list", d.Resolver.AllowList)
	v.SetDefault("resolver.reporter_name", "")

	v.SetDefault("reporter.executable", d.Reporter.Executable)
	v.SetDefault("reporter.search_path", []string{})

	v.SetDefault("notifier.dev_notify", 0)
	v.SetDefault("notifier.terminal", d.Notifier.Terminal)
	v.SetDefault("notifier.viewer", d.Notifier.Viewer)
	v.SetDefault("notifier.action_timeout", d.Notifier.ActionTimeout)

	v.SetDefault("retention.dir", "")
	v.SetDefault("retention.max_age", d.Retention.MaxAge)
}
