package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/yairfalse/dumptruck/internal/forwarder"
	"github.com/yairfalse/dumptruck/internal/logging"
	"github.com/yairfalse/dumptruck/pkg/collectors/journald"
	"github.com/yairfalse/dumptruck/pkg/config"
	"github.com/yairfalse/dumptruck/pkg/transport"
	"github.com/yairfalse/dumptruck/pkg/version"
	"go.uber.org/zap"
)

var (
	cfgFile string
	pickup  bool
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dumptruck-processor [boot-id] [instance]",
	Short: "Forward systemd-coredump journal entries to the user's launcher",
	Long: `dumptruck-processor runs as a systemd-coredump@ companion. It waits for the
journal entry the coredump instance logs and forwards it to the crashed
user's dumptruck-launcher socket.

With --pickup it instead replays every crash of the invoking user from the
current boot and exits at the end of the journal.`,
	Version:       version.Get().String(),
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runProcessor,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dumptruck/config.yaml)")
	rootCmd.Flags().BoolVar(&pickup, "pickup", false, "replay the invoking user's crashes of this boot")
	rootCmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up waiting for the instance entry after this long, 0 waits forever")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runProcessor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.New(), cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var bootID, instance string
	if len(args) > 0 {
		if bootID, err = forwarder.NormalizeBootID(args[0]); err != nil {
			return err
		}
	} else if bootID, err = forwarder.CurrentBootID(afero.NewOsFs()); err != nil {
		return err
	}
	if len(args) > 1 {
		instance = args[1]
	}

	mode := forwarder.Instance
	if pickup {
		mode = forwarder.Pickup
		instance = ""
	} else if instance == "" {
		return errors.New("an instance is required unless --pickup is given")
	}

	journal := cfg.Journal
	journal.BootID = bootID
	journal.Instance = instance

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if mode == forwarder.Instance && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	f := forwarder.New(forwarder.Config{
		Mode:    mode,
		Journal: journal,
		UID:     os.Getuid(),
		Limit:   cfg.Pickup.Limit(),
		Burst:   cfg.Pickup.Burst,
	}, journald.NewJournalReader(""), transport.NewSender(cfg.Transport, logger), logger)

	result, err := f.Run(ctx)
	if err != nil {
		logger.Error("Processor failed",
			zap.String("mode", mode.String()),
			zap.String("instance", instance),
			zap.Error(err))
		return err
	}
	if result.Declined {
		logger.Info("Nobody to forward to, declined")
	}
	return nil
}
