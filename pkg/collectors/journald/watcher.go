package journald

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/yairfalse/dumptruck/internal/lifecycle"
	"github.com/yairfalse/dumptruck/pkg/collectors/journald/core"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"github.com/yairfalse/dumptruck/pkg/eventloop"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config is the public configuration type
type Config = core.Config

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	c := Config{}
	c.SetDefaults()
	return c
}

// Watcher tails the journal for systemd-coredump entries and hands every
// valid record to the OnNewDump callback in log order. Passes run on the
// scheduler, never on the caller's stack.
type Watcher struct {
	reader    core.LogReader
	scheduler eventloop.Scheduler
	config    Config
	logger    *zap.Logger
	lifecycle *lifecycle.Manager

	mu      sync.Mutex
	matches []string

	started atomic.Bool
	stopped atomic.Bool
	queued  atomic.Bool

	onNewDump func(*domain.Record)
	onLogEnd  func()
	onError   func(error)

	tracer          trace.Tracer
	entriesRead     metric.Int64Counter
	entriesAccepted metric.Int64Counter
	entriesFiltered metric.Int64Counter
}

// NewWatcher creates a watcher reading from reader
func NewWatcher(reader core.LogReader, scheduler eventloop.Scheduler, config Config, logger *zap.Logger) (*Watcher, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, core.NewCollectorError(core.ErrorTypeJournal, "invalid config", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("watcher")

	meter := otel.Meter("dumptruck/journald")
	entriesRead, err := meter.Int64Counter(
		"journald_entries_read_total",
		metric.WithDescription("Journal entries read by the coredump watcher"),
	)
	if err != nil {
		logger.Warn("Failed to create entries read counter", zap.Error(err))
	}
	entriesAccepted, err := meter.Int64Counter(
		"journald_entries_accepted_total",
		metric.WithDescription("Coredump records delivered to the callback"),
	)
	if err != nil {
		logger.Warn("Failed to create entries accepted counter", zap.Error(err))
	}
	entriesFiltered, err := meter.Int64Counter(
		"journald_entries_filtered_total",
		metric.WithDescription("Journal entries discarded by the watcher"),
	)
	if err != nil {
		logger.Warn("Failed to create entries filtered counter", zap.Error(err))
	}

	return &Watcher{
		reader:          reader,
		scheduler:       scheduler,
		config:          config,
		logger:          logger,
		matches:         append([]string(nil), config.Matches...),
		tracer:          otel.Tracer("dumptruck/journald"),
		entriesRead:     entriesRead,
		entriesAccepted: entriesAccepted,
		entriesFiltered: entriesFiltered,
	}, nil
}

// OnNewDump registers the record callback
func (w *Watcher) OnNewDump(fn func(*domain.Record)) { w.onNewDump = fn }

// OnLogEnd registers the callback fired when a pass drains the journal
func (w *Watcher) OnLogEnd(fn func()) { w.onLogEnd = fn }

// OnError registers the error callback
func (w *Watcher) OnError(fn func(error)) { w.onError = fn }

// AddMatch adds an inclusion filter. Only valid before Start.
func (w *Watcher) AddMatch(match string) error {
	if w.started.Load() {
		return core.ErrAlreadyStarted
	}
	if !strings.Contains(match, "=") {
		return core.NewCollectorError(core.ErrorTypeMatch, "match must be FIELD=value", errors.New(match))
	}
	w.mu.Lock()
	w.matches = append(w.matches, match)
	w.mu.Unlock()
	return nil
}

// Start installs the journal matches, seeks to the head and schedules the
// first pass. Failures are reported to OnError and returned.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return core.ErrAlreadyStarted
	}

	ctx, span := w.tracer.Start(ctx, "journald.watcher.start")
	defer span.End()

	if err := w.setup(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.reportError(err)
		return err
	}

	if w.config.Follow {
		w.lifecycle = lifecycle.NewManager(ctx, w.logger)
		w.lifecycle.Go("journal-follow", w.follow)
	}

	span.SetAttributes(
		attribute.String("instance", w.config.Instance),
		attribute.Bool("follow", w.config.Follow),
	)
	w.logger.Debug("Watcher started",
		zap.String("boot_id", w.config.BootID),
		zap.String("instance", w.config.Instance),
		zap.Bool("follow", w.config.Follow))

	w.schedulePass()
	return nil
}

func (w *Watcher) setup() error {
	if err := w.reader.Open(); err != nil {
		return core.WrapError(core.ErrorTypeJournal, "failed to open journal", err)
	}
	if err := w.reader.FlushMatches(); err != nil {
		return core.WrapError(core.ErrorTypeMatch, "failed to reset matches", err)
	}

	if err := w.reader.AddMatch(core.FieldIdentifier + "=" + core.CoredumpIdentifier); err != nil {
		return core.WrapError(core.ErrorTypeMatch, "failed to install id match", err)
	}
	if w.config.BootID != "" {
		if err := w.reader.AddMatch(core.FieldBootID + "=" + w.config.BootID); err != nil {
			return core.WrapError(core.ErrorTypeMatch, "failed to install boot id match", err)
		}
	}
	// Partially templated instances cannot be matched exactly, the prefix
	// check in the pass covers them.
	if w.config.Instance != "" && w.config.FullyTemplated() {
		unit := w.config.InstanceFilter() + ".service"
		if err := w.reader.AddMatch(core.FieldSystemdUnit + "=" + unit); err != nil {
			return core.WrapError(core.ErrorTypeMatch, "failed to install unit match", err)
		}
	}

	w.mu.Lock()
	matches := append([]string(nil), w.matches...)
	w.mu.Unlock()
	for _, m := range matches {
		if err := w.reader.AddMatch(m); err != nil {
			return core.WrapError(core.ErrorTypeMatch, "failed to install match "+m, err)
		}
	}

	if err := w.reader.Pollable(); err != nil {
		return core.WrapError(core.ErrorTypePoll, "failed to get listening socket", err)
	}
	if err := w.reader.SeekHead(); err != nil {
		return core.WrapError(core.ErrorTypeSeek, "failed to seek to head", err)
	}
	return nil
}

// Stop ends the current pass after the in-flight callback and stops
// following the journal. The reader stays open until Close.
func (w *Watcher) Stop() error {
	w.stopped.Store(true)
	if w.lifecycle != nil {
		return w.lifecycle.Stop(2 * w.config.WaitInterval)
	}
	return nil
}

// Close stops the watcher and closes the reader. Call it once no pass can
// run anymore, typically after the scheduler exited.
func (w *Watcher) Close() error {
	if err := w.Stop(); err != nil {
		w.logger.Warn("Follow goroutine did not stop in time", zap.Error(err))
	}
	return w.reader.Close()
}

func (w *Watcher) schedulePass() {
	if w.queued.CompareAndSwap(false, true) {
		w.scheduler.Post(w.processLog)
	}
}

func (w *Watcher) processLog() {
	w.queued.Store(false)

	ctx := context.Background()
	accepted := 0
	for !w.stopped.Load() {
		entry, err := w.reader.ReadEntry()
		if errors.Is(err, core.ErrNoMoreEntries) {
			if w.onLogEnd != nil {
				w.onLogEnd()
			}
			return
		}
		if err != nil {
			w.reportError(err)
			return
		}
		if w.entriesRead != nil {
			w.entriesRead.Add(ctx, 1)
		}

		record, ok := w.makeDump(entry)
		if !ok {
			if w.entriesFiltered != nil {
				w.entriesFiltered.Add(ctx, 1)
			}
			continue
		}
		if w.entriesAccepted != nil {
			w.entriesAccepted.Add(ctx, 1)
		}

		w.logger.Debug("Coredump found",
			zap.String("exe", record.Exe),
			zap.Int("pid", record.PID),
			zap.String("filename", record.Filename))

		if w.onNewDump != nil {
			w.onNewDump(record)
		}

		accepted++
		if accepted >= w.config.BatchSize {
			// Yield, the rest of the pass runs as a new task.
			w.queued.Store(true)
			w.scheduler.Post(w.processLog)
			return
		}
	}
}

// makeDump builds a record from an entry, reporting false for entries that
// must not leave the watcher.
func (w *Watcher) makeDump(entry *core.LogEntry) (*domain.Record, bool) {
	fields := make(map[string]string, len(entry.Fields)+1)
	for key, value := range entry.Fields {
		if key == domain.KeyCore {
			// The core itself is stored in the journal.
			fields[domain.KeyFilename] = domain.CoreInJournal
			continue
		}
		fields[key] = value
	}
	if entry.RealtimeTimestamp > 0 {
		if _, ok := fields["__REALTIME_TIMESTAMP"]; !ok {
			fields["__REALTIME_TIMESTAMP"] = strconv.FormatUint(entry.RealtimeTimestamp, 10)
		}
	}

	record := domain.NewRecord(entry.Cursor, fields)
	if !strings.HasPrefix(record.Unit, w.config.InstanceFilter()) {
		return nil, false
	}
	if !record.Valid() {
		w.logger.Debug("Entry doesn't look like a dump, possibly a vacuum run",
			zap.String("cursor", entry.Cursor))
		return nil, false
	}
	return record, true
}

func (w *Watcher) follow(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.reader.WaitForEntries(w.config.WaitInterval)
		switch {
		case err == nil:
			if !w.stopped.Load() {
				w.schedulePass()
			}
		case errors.Is(err, core.ErrReadTimeout):
		default:
			if ctx.Err() != nil || w.stopped.Load() {
				return
			}
			w.logger.Warn("Journal wait failed", zap.Error(err))
			w.scheduler.Post(func() { w.reportError(err) })
			return
		}
	}
}

func (w *Watcher) reportError(err error) {
	w.logger.Error("Watcher error", zap.Error(err))
	if w.onError != nil {
		w.onError(err)
	}
}
