package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yairfalse/dumptruck/internal/logging"
	"github.com/yairfalse/dumptruck/pkg/config"
	"github.com/yairfalse/dumptruck/pkg/retention"
	"github.com/yairfalse/dumptruck/pkg/version"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	maxAge   time.Duration
	interval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dumptruck-cleanup [dir]",
	Short: "Remove crash documents older than the retention age",
	Long: `dumptruck-cleanup deletes stored crash documents whose modification time
is older than the retention age. Without a directory it sweeps the user's
dumptruck/crashes cache. With --interval it keeps sweeping until stopped.`,
	Version:       version.Get().String(),
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCleanup,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dumptruck/config.yaml)")
	rootCmd.Flags().DurationVar(&maxAge, "max-age", 0, "remove documents older than this (default from config, 168h)")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "sweep repeatedly at this interval, 0 sweeps once")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rc := cfg.Retention
	if maxAge > 0 {
		rc.MaxAge = maxAge
	}
	if len(args) > 0 {
		rc.Dir = args[0]
	}
	if rc.Dir == "" {
		paths, err := cfg.Paths()
		if err != nil {
			return err
		}
		rc.Dir = paths.DocumentDir()
	}

	sweeper, err := retention.NewSweeper(rc, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval > 0 {
		return sweeper.Run(ctx, interval)
	}

	report, err := sweeper.Sweep(ctx)
	if err != nil {
		logger.Error("Sweep failed", zap.String("dir", rc.Dir), zap.Error(err))
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("failed to remove %d of %d documents", report.Failed, report.Scanned)
	}
	return nil
}
