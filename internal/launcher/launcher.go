// Package launcher is the body of dumptruck-launcher: it receives one crash
// record over the activated socket and runs it through the handler chain.
package launcher

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/yairfalse/dumptruck/internal/lifecycle"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/eventloop"
	"github.com/yairfalse/dumptruck/pkg/handlers"
	"github.com/yairfalse/dumptruck/pkg/metadata"
	"github.com/yairfalse/dumptruck/pkg/notify"
	"github.com/yairfalse/dumptruck/pkg/transport"
	"go.uber.org/zap"
)

// DefaultStopTimeout bounds how long the document store gets to finish
const DefaultStopTimeout = 5 * time.Second

// Config configures a Launcher
type Config struct {
	Paths    metadata.Paths
	Resolver metadata.ResolverConfig
	Reporter handlers.ReporterConfig
	Notifier handlers.NotifierConfig

	PollTimeout time.Duration
	StopTimeout time.Duration
}

// Launcher receives and dispatches a single crash
type Launcher struct {
	config   Config
	fs       afero.Fs
	notifier notify.Factory
	runner   handlers.Runner
	entries  *handlers.EntryLocator
	logger   *zap.Logger
}

// New creates a launcher. fs holds documents, scratch files and cores.
func New(config Config, fs afero.Fs, notifier notify.Factory, runner handlers.Runner, entries *handlers.EntryLocator, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	return &Launcher{
		config:   config,
		fs:       fs,
		notifier: notifier,
		runner:   runner,
		entries:  entries,
		logger:   logger.Named("launcher"),
	}
}

// Run takes the activated connection, reads the record from it and
// dispatches it
func (l *Launcher) Run(ctx context.Context) (handlers.Result, error) {
	file, err := transport.ActivatedFile()
	if err != nil {
		return handlers.Result{}, err
	}

	record, err := l.Receive(ctx, file)
	if err != nil {
		return handlers.Result{}, err
	}

	UnsetSystemdEnvironment()
	return l.Handle(ctx, record)
}

// Receive drains file and parses the payload. The file is closed.
func (l *Launcher) Receive(ctx context.Context, file *os.File) (*domain.Record, error) {
	receiver := transport.NewReceiver(file, l.config.PollTimeout, l.logger)
	defer receiver.Close()

	record, err := receiver.ReceiveRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to receive crash: %w", err)
	}
	l.logger.Debug("Received crash",
		zap.String("exe", record.Exe),
		zap.Int("pid", record.PID),
		zap.Bool("pickup", record.Pickup()))
	return record, nil
}

// Handlers returns the chain in priority order
func (l *Launcher) Handlers() []handlers.Handler {
	return []handlers.Handler{
		handlers.NewReporter(l.config.Reporter, l.runner, l.logger),
		handlers.NewDevNotifier(l.config.Notifier, l.notifier, l.runner, l.fs, l.logger),
		handlers.NewDesktopNotifier(l.config.Notifier, l.notifier, l.runner, l.entries, l.logger),
	}
}

// Handle resolves record and offers it to the handler chain. The document
// store runs for the duration of the call.
func (l *Launcher) Handle(ctx context.Context, record *domain.Record) (handlers.Result, error) {
	manager := lifecycle.NewManager(ctx, l.logger)
	store := metadata.NewStore(l.fs, l.logger)
	manager.Go("document-store", store.Run)
	defer func() {
		if err := manager.Stop(l.config.StopTimeout); err != nil {
			l.logger.Warn("Document store did not stop in time", zap.Error(err))
		}
	}()

	resolver := metadata.NewResolver(l.config.Resolver, l.config.Paths, l.fs, store, l.logger)
	chain := handlers.NewChain(resolver, l.logger, l.Handlers()...)

	loop := eventloop.New(l.logger)
	var result handlers.Result
	loop.Post(func() {
		result = chain.Dispatch(ctx, record)
		loop.Exit(nil)
	})
	if err := loop.Run(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// UnsetSystemdEnvironment removes the service manager variables from the
// process environment
func UnsetSystemdEnvironment() {
	for _, name := range handlers.SystemdVariables {
		os.Unsetenv(name)
	}
}
