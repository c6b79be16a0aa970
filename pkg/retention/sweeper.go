// Package retention removes stale metadata documents from the user's cache.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DefaultMaxAge is one week
const DefaultMaxAge = 7 * 24 * time.Hour

// ErrNoStore is returned when the document directory does not exist
var ErrNoStore = errors.New("document directory does not exist")

// Config configures a Sweeper
type Config struct {
	Dir    string        `mapstructure:"dir"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

// SetDefaults fills unset fields
func (c *Config) SetDefaults() {
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("retention dir is required")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max age must be positive, got %s", c.MaxAge)
	}
	return nil
}

// Report summarizes one sweep
type Report struct {
	Scanned int
	Removed int
	Failed  int
}

// Sweeper deletes documents older than the configured age
type Sweeper struct {
	config Config
	fs     afero.Fs
	now    func() time.Time
	logger *zap.Logger

	removed metric.Int64Counter
	failed  metric.Int64Counter
}

// NewSweeper creates a sweeper over fs
func NewSweeper(config Config, fs afero.Fs, logger *zap.Logger) (*Sweeper, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("retention")

	meter := otel.Meter("dumptruck/retention")
	removed, err := meter.Int64Counter(
		"retention_removed_total",
		metric.WithDescription("Documents removed for age"),
	)
	if err != nil {
		logger.Warn("Failed to create removed counter", zap.Error(err))
	}
	failed, err := meter.Int64Counter(
		"retention_failures_total",
		metric.WithDescription("Documents that could not be inspected or removed"),
	)
	if err != nil {
		logger.Warn("Failed to create failures counter", zap.Error(err))
	}

	return &Sweeper{
		config:  config,
		fs:      fs,
		now:     time.Now,
		logger:  logger,
		removed: removed,
		failed:  failed,
	}, nil
}

// Sweep removes every *.ini file whose modification time is more than
// MaxAge ago. Per file failures are logged and counted, they never stop the
// sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report

	entries, err := afero.ReadDir(s.fs, s.config.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, fmt.Errorf("%w: %s", ErrNoStore, s.config.Dir)
		}
		return report, fmt.Errorf("failed to read %s: %w", s.config.Dir, err)
	}

	now := s.now()
	for _, info := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !info.Mode().IsRegular() || filepath.Ext(info.Name()) != ".ini" {
			continue
		}
		report.Scanned++

		age := now.Sub(info.ModTime())
		if age <= s.config.MaxAge {
			continue
		}

		path := filepath.Join(s.config.Dir, info.Name())
		if err := s.fs.Remove(path); err != nil {
			report.Failed++
			s.count(ctx, s.failed)
			s.logger.Warn("Failed to remove document",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		report.Removed++
		s.count(ctx, s.removed)
		s.logger.Debug("Removed document",
			zap.String("path", path),
			zap.Duration("age", age))
	}

	s.logger.Info("Sweep complete",
		zap.String("dir", s.config.Dir),
		zap.Int("scanned", report.Scanned),
		zap.Int("removed", report.Removed),
		zap.Int("failed", report.Failed))
	return report, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
// Only a failure of the first sweep is returned.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if _, err := s.Sweep(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) count(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1)
	}
}
