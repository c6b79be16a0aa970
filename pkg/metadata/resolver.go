package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/yairfalse/dumptruck/pkg/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Decision is the outcome of resolving a crash
type Decision int

const (
	// Decline leaves the crash to the fallback handlers
	Decline Decision = iota
	// Accept hands the crash to the primary handler
	Accept
	// AlreadyHandled means the crash was picked up before
	AlreadyHandled
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case AlreadyHandled:
		return "already_handled"
	default:
		return "decline"
	}
}

// Resolution is what the resolver concluded for one record
type Resolution struct {
	Decision Decision
	Path     string
	Document *Document
	Reason   string
}

// ResolverConfig controls synthesis and the debug override
type ResolverConfig struct {
	// Debug forces every crash to be declined
	Debug bool `mapstructure:"debug"`

	// IncludeAll synthesizes crash handler data for any executable
	IncludeAll bool `mapstructure:"include_all"`

	// AllowList names executables that are handled without a crash
	// handler, by basename
	AllowList []string `mapstructure:"allow_list"`

	// ReporterName is the basename of the reporting tool. Its own crashes
	// are never handed back to it.
	ReporterName string `mapstructure:"reporter_name"`
}

// DefaultAllowList are executables that die before their crash handler runs
var DefaultAllowList = []string{"kwin_wayland"}

// SetDefaults fills unset fields
func (c *ResolverConfig) SetDefaults() {
	if c.AllowList == nil {
		c.AllowList = append([]string(nil), DefaultAllowList...)
	}
	if c.ReporterName == "" {
		c.ReporterName = "dumptruck-reporter"
	}
}

// Resolver decides whether a crash is actionable and persists its
// canonical document
type Resolver struct {
	config   ResolverConfig
	paths    Paths
	locators []Locator
	fs       afero.Fs
	store    *Store
	logger   *zap.Logger

	tracer    trace.Tracer
	decisions metric.Int64Counter
}

// NewResolver creates a resolver. fs is used for scratch files and core
// file checks, document I/O goes through store.
func NewResolver(config ResolverConfig, paths Paths, fs afero.Fs, store *Store, logger *zap.Logger) *Resolver {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("resolver")

	decisions, err := otel.Meter("dumptruck/metadata").Int64Counter(
		"metadata_resolutions_total",
		metric.WithDescription("Crash resolutions by decision"),
	)
	if err != nil {
		logger.Warn("Failed to create decisions counter", zap.Error(err))
	}

	return &Resolver{
		config:    config,
		paths:     paths,
		locators:  DefaultLocators(),
		fs:        fs,
		store:     store,
		logger:    logger,
		tracer:    otel.Tracer("dumptruck/metadata"),
		decisions: decisions,
	}
}

// WithLocators replaces the scratch file candidates
func (r *Resolver) WithLocators(locators ...Locator) *Resolver {
	r.locators = locators
	return r
}

// Resolve runs the decision procedure for record
func (r *Resolver) Resolve(ctx context.Context, record *domain.Record) Resolution {
	ctx, span := r.tracer.Start(ctx, "metadata.resolve",
		trace.WithAttributes(
			attribute.String("exe", record.Exe),
			attribute.Int("pid", record.PID),
		))
	defer span.End()

	res := r.resolve(ctx, record)

	span.SetAttributes(
		attribute.String("decision", res.Decision.String()),
		attribute.String("reason", res.Reason),
	)
	if r.decisions != nil {
		r.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", res.Decision.String())))
	}
	r.logger.Debug("Crash resolved",
		zap.String("exe", record.Exe),
		zap.Int("pid", record.PID),
		zap.String("decision", res.Decision.String()),
		zap.String("reason", res.Reason),
		zap.String("path", res.Path))
	return res
}

func (r *Resolver) resolve(ctx context.Context, record *domain.Record) Resolution {
	res := Resolution{Path: r.paths.DocumentPath(record), Decision: Decline}

	var (
		handled  bool
		reason   string
		consumed string
	)

	doc, err := r.store.Update(ctx, res.Path, func(current *Document) (*Document, error) {
		if current.PickedUp() {
			handled = true
			return nil, nil
		}
		if r.config.Debug {
			reason = "debug override"
			return nil, nil
		}

		next := current
		if next == nil {
			next = NewDocument()
		}

		if !next.Complete() {
			scratch := r.lookupScratch(record)
			if scratch != nil {
				consumed = scratch.Path
				if why := r.rejectScratch(record, scratch); why != "" {
					reason = why
					return nil, nil
				}
				scratch.Backfill(record)
				next.CrashHandler = scratch.CrashHandler
				next.Tags = scratch.Tags
				next.ExtraData = scratch.ExtraData
				next.GPU = scratch.GPU
			} else if synthesized := r.synthesize(record); synthesized != nil {
				next.CrashHandler = synthesized
			}
		}

		// Incomplete documents are stored too so a redelivery is recognized.
		if !next.Complete() {
			reason = "no crash handler data"
		}

		next.Journal = record.Fields()
		next.State.PickedUp = true
		return next, nil
	})

	if consumed != "" {
		if err := r.fs.Remove(consumed); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("Failed to remove scratch file", zap.String("path", consumed), zap.Error(err))
		}
	}

	if err != nil {
		// The scratch file is gone either way, a later redelivery will not
		// find it again.
		r.logger.Warn("Failed to store document",
			zap.String("path", res.Path),
			zap.Error(err))
	}

	switch {
	case handled:
		res.Decision = AlreadyHandled
		res.Reason = "picked up"
		res.Document = doc
		return res
	case reason != "":
		res.Reason = reason
		res.Document = doc
		return res
	}

	res.Document = doc
	if !doc.Complete() {
		res.Reason = "no crash handler data"
		return res
	}
	if !r.coreExists(record) {
		res.Reason = "core file missing"
		return res
	}
	res.Decision = Accept
	return res
}

// lookupScratch returns the first candidate that exists and parses
func (r *Resolver) lookupScratch(record *domain.Record) *Scratch {
	for _, locate := range r.locators {
		path := locate(r.paths, record)
		if path == "" {
			continue
		}
		data, err := afero.ReadFile(r.fs, path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("Failed to read scratch file", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		scratch, err := ParseScratch(path, data)
		if err != nil {
			r.logger.Warn("Ignoring unparsable scratch file", zap.String("path", path), zap.Error(err))
			continue
		}
		return scratch
	}
	return nil
}

// rejectScratch returns why scratch data must not be used, "" when it can
func (r *Resolver) rejectScratch(record *domain.Record, scratch *Scratch) string {
	exe := scratch.CrashHandler[KeyExe]
	if r.isReporter(exe) || r.isReporter(record.Exe) {
		r.logger.Warn("The reporter itself crashed, not invoking it again", zap.String("exe", record.Exe))
		return "reporter crashed"
	}
	if exe != "" && exe != record.Exe {
		r.logger.Warn("Scratch file exe does not match the journal entry",
			zap.String("scratch_exe", exe),
			zap.String("journal_exe", record.Exe))
		return "exe mismatch"
	}
	return ""
}

func (r *Resolver) isReporter(exe string) bool {
	return exe != "" && filepath.Base(exe) == r.config.ReporterName
}

// synthesize fabricates crash handler data from the journal alone, nil
// when no rule applies
func (r *Resolver) synthesize(record *domain.Record) map[string]string {
	if r.isReporter(record.Exe) {
		return nil
	}

	allowed := false
	for _, name := range r.config.AllowList {
		if record.Command() == name {
			allowed = true
			break
		}
	}
	if !allowed && !r.config.IncludeAll {
		return nil
	}

	fields := map[string]string{
		KeySignal:    record.Field(domain.KeySignal),
		KeyPID:       record.Field(domain.KeyPID),
		KeyRestarted: "true",
	}
	if allowed {
		fields[KeyAppName] = record.Exe
	}
	return fields
}

func (r *Resolver) coreExists(record *domain.Record) bool {
	if record.CoreInJournal() {
		return true
	}
	if record.Filename == "" {
		return false
	}
	_, err := r.fs.Stat(record.Filename)
	return err == nil
}
