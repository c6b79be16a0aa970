package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yairfalse/dumptruck/internal/launcher"
	"github.com/yairfalse/dumptruck/internal/logging"
	"github.com/yairfalse/dumptruck/pkg/config"
	"github.com/yairfalse/dumptruck/pkg/handlers"
	"github.com/yairfalse/dumptruck/pkg/notify"
	"github.com/yairfalse/dumptruck/pkg/version"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dumptruck-launcher",
	Short: "Handle one crash delivered on a socket-activated connection",
	Long: `dumptruck-launcher is started by the per-user dumptruck-launcher.socket
for every connection. It reads the crash record the processor sends,
resolves its metadata and offers it to the reporter and notifiers.`,
	Version:       version.Get().String(),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runLauncher,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dumptruck/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runLauncher(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	paths, err := cfg.Paths()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := afero.NewOsFs()
	l := launcher.New(launcher.Config{
		Paths:    paths,
		Resolver: cfg.Resolver,
		Reporter: cfg.Reporter,
		Notifier: cfg.Notifier,
	}, fs, notify.SessionFactory(logger), handlers.ExecRunner{Logger: logger}, handlers.NewEntryLocator(fs), logger)

	result, err := l.Run(ctx)
	if err != nil {
		logger.Error("Launcher failed", zap.Error(err))
		return err
	}
	logger.Debug("Crash dispatched",
		zap.String("decision", result.Resolution.Decision.String()),
		zap.String("handler", result.Handler))
	return nil
}
