// Package forwarder wires the journal watcher to the launcher socket. It is
// the body of dumptruck-processor.
package forwarder

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/dumptruck/pkg/collectors/journald"
	"github.com/yairfalse/dumptruck/pkg/collectors/journald/core"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/eventloop"
	"github.com/yairfalse/dumptruck/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Mode selects what the processor forwards
type Mode int

const (
	// Instance forwards the single crash a systemd-coredump@ instance
	// logged, waiting for it to appear
	Instance Mode = iota
	// Pickup replays every crash of one user that is already in the
	// journal and stops at the end of the log
	Pickup
)

func (m Mode) String() string {
	if m == Pickup {
		return "pickup"
	}
	return "instance"
}

// Config configures a Forwarder
type Config struct {
	Mode    Mode
	Journal journald.Config

	// UID selects the user whose crashes are replayed in pickup mode
	UID int

	// Limit and Burst throttle pickup forwarding
	Limit rate.Limit
	Burst int
}

// Sender delivers a record to the launcher
type Sender interface {
	Send(ctx context.Context, record *domain.Record, pickup bool) error
}

// Result summarizes a run
type Result struct {
	Forwarded int
	// Declined is set when no launcher was listening
	Declined bool
}

// Forwarder runs one watcher pass set and forwards what it finds
type Forwarder struct {
	config Config
	reader core.LogReader
	sender Sender
	logger *zap.Logger
}

// New creates a forwarder. The reader must not be opened yet.
func New(config Config, reader core.LogReader, sender Sender, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Limit <= 0 {
		config.Limit = rate.Inf
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	return &Forwarder{
		config: config,
		reader: reader,
		sender: sender,
		logger: logger.Named("forwarder"),
	}
}

// Run watches the journal until the mode's work is done, ctx ends or the
// watcher fails. A missing launcher is not an error.
func (f *Forwarder) Run(ctx context.Context) (Result, error) {
	var result Result

	loop := eventloop.New(f.logger)

	jc := f.config.Journal
	jc.Follow = f.config.Mode == Instance
	watcher, err := journald.NewWatcher(f.reader, loop, jc, f.logger)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			f.logger.Warn("Failed to close journal", zap.Error(err))
		}
	}()

	limiter := rate.NewLimiter(f.config.Limit, f.config.Burst)
	pickup := f.config.Mode == Pickup

	watcher.OnError(func(err error) {
		loop.Exit(err)
	})

	watcher.OnLogEnd(func() {
		if pickup {
			f.logger.Info("Pickup complete", zap.Int("forwarded", result.Forwarded))
			loop.Exit(nil)
		}
	})

	watcher.OnNewDump(func(record *domain.Record) {
		if pickup && record.UID != f.config.UID {
			return
		}
		if pickup {
			if err := limiter.Wait(ctx); err != nil {
				loop.Exit(err)
				return
			}
		}

		err := f.sender.Send(ctx, record, pickup)
		switch {
		case err == nil:
			result.Forwarded++
			f.logger.Info("Forwarded crash",
				zap.String("exe", record.Exe),
				zap.Int("pid", record.PID),
				zap.Int("uid", record.UID),
				zap.Bool("pickup", pickup))
		case errors.Is(err, transport.ErrNoLauncher):
			f.logger.Info("Declined to forward, no launcher for user",
				zap.Int("uid", record.UID),
				zap.Error(err))
			result.Declined = true
			_ = watcher.Stop()
			loop.Exit(nil)
			return
		case pickup:
			// One undeliverable record must not hold back the rest.
			f.logger.Warn("Failed to forward crash",
				zap.String("exe", record.Exe),
				zap.Int("pid", record.PID),
				zap.Error(err))
			return
		default:
			loop.Exit(fmt.Errorf("failed to forward crash: %w", err))
			return
		}

		if !pickup {
			// An instance logs exactly one crash.
			_ = watcher.Stop()
			loop.Exit(nil)
		}
	})

	f.logger.Debug("Starting journal watch",
		zap.String("mode", f.config.Mode.String()),
		zap.String("boot_id", jc.BootID),
		zap.String("instance", jc.Instance))

	if err := watcher.Start(ctx); err != nil {
		return result, err
	}
	if err := loop.Run(ctx); err != nil {
		return result, err
	}
	return result, nil
}
