// Package config assembles the settings of every dumptruck binary from
// defaults, an optional YAML file and DUMPTRUCK_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yairfalse/dumptruck/pkg/collectors/journald"
	"github.com/yairfalse/dumptruck/pkg/handlers"
	"github.com/yairfalse/dumptruck/pkg/metadata"
	"github.com/yairfalse/dumptruck/pkg/retention"
	"github.com/yairfalse/dumptruck/pkg/transport"
	"golang.org/x/time/rate"
)

// Config is the complete configuration
type Config struct {
	// LogLevel is one of debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	// CacheDir overrides the user cache directory
	CacheDir string `mapstructure:"cache_dir"`

	// Debug declines every crash so no reporting tool is started
	Debug bool `mapstructure:"debug"`

	// DevNotify enables developer notifications at 1 or above
	DevNotify int `mapstructure:"dev_notify"`

	// IncludeAll handles crashes of programs without a crash handler
	IncludeAll bool `mapstructure:"include_all"`

	// LibexecPath is a colon separated list searched for the reporting tool
	LibexecPath string `mapstructure:"libexec_path"`

	Journal   journald.Config         `mapstructure:"journal"`
	Transport transport.SenderConfig  `mapstructure:"transport"`
	Pickup    PickupConfig            `mapstructure:"pickup"`
	Resolver  metadata.ResolverConfig `mapstructure:"resolver"`
	Reporter  handlers.ReporterConfig `mapstructure:"reporter"`
	Notifier  handlers.NotifierConfig `mapstructure:"notifier"`
	Retention retention.Config        `mapstructure:"retention"`
}

// PickupConfig throttles login time replay of old crashes
type PickupConfig struct {
	// Rate is records forwarded per second
	Rate float64 `mapstructure:"rate"`
	// Burst is how many records may go out back to back
	Burst int `mapstructure:"burst"`
}

// Limit is Rate as a limiter value
func (p PickupConfig) Limit() rate.Limit {
	return rate.Limit(p.Rate)
}

// DefaultConfig returns a Config with defaults applied
func DefaultConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults applies default values to unset fields and folds the flat
// environment switches into their sections
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Pickup.Rate <= 0 {
		c.Pickup.Rate = 20
	}
	if c.Pickup.Burst <= 0 {
		c.Pickup.Burst = 5
	}

	if c.Debug {
		c.Resolver.Debug = true
	}
	if c.IncludeAll {
		c.Resolver.IncludeAll = true
	}
	if c.DevNotify > c.Notifier.DevNotify {
		c.Notifier.DevNotify = c.DevNotify
	}
	if c.LibexecPath != "" && len(c.Reporter.SearchPath) == 0 {
		c.Reporter.SearchPath = handlers.SearchPath(c.LibexecPath)
	}

	c.Journal.SetDefaults()
	c.Transport.SetDefaults()
	c.Reporter.SetDefaults()
	// The self-crash guard follows the configured tool unless named explicitly.
	if c.Resolver.ReporterName == "" {
		c.Resolver.ReporterName = filepath.Base(c.Reporter.Executable)
	}
	c.Resolver.SetDefaults()
	c.Notifier.SetDefaults()
	c.Retention.SetDefaults()
}

// Paths returns the on-disk layout, resolving the user cache directory
// unless CacheDir is set
func (c *Config) Paths() (metadata.Paths, error) {
	if c.CacheDir != "" {
		return metadata.Paths{CacheDir: c.CacheDir}, nil
	}
	dir, err := metadata.DefaultCacheDir()
	if err != nil {
		return metadata.Paths{}, err
	}
	return metadata.Paths{CacheDir: dir}, nil
}

// Validate checks the assembled configuration
func (c *Config) Validate() error {
	var errs []ValidationError

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, NewValidationError("log_level",
			fmt.Sprintf("unknown level %q", c.LogLevel),
			"use one of debug, info, warn, error"))
	}

	if err := c.Journal.Validate(); err != nil {
		errs = append(errs, NewValidationError("journal", err.Error(), "check the journal section"))
	}
	if !strings.Contains(c.Transport.SocketTemplate, "%UID%") {
		errs = append(errs, NewValidationError("transport.socket_template",
			"template has no %UID% placeholder",
			"every user runs their own launcher, include %UID% in the path"))
	}
	if c.Transport.WriteTimeout > time.Minute {
		errs = append(errs, NewValidationError("transport.write_timeout",
			fmt.Sprintf("%s is longer than a minute", c.Transport.WriteTimeout),
			"the processor runs inside the coredump pipeline, keep it short"))
	}
	if c.Retention.MaxAge <= 0 {
		errs = append(errs, NewValidationError("retention.max_age",
			"must be positive", "use a duration such as 168h"))
	}
	if c.Notifier.DevNotify < 0 {
		errs = append(errs, NewValidationError("dev_notify",
			"must not be negative", "use 0 to disable, 1 to enable"))
	}

	if len(errs) > 0 {
		return ValidationErrors{Errors: errs}
	}
	return nil
}
