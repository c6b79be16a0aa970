package handlers

import (
	"context"
	"os"
	"sort"

	"github.com/yairfalse/dumptruck/pkg/metadata"
	"go.uber.org/zap"
)

const (
	envBackend      = "DUMPTRUCK_BACKEND"
	envMetadataFile = "DUMPTRUCK_METADATA_FILE"
	backendCoredump = "COREDUMPD"
)

// ReporterConfig locates the reporting tool
type ReporterConfig struct {
	// Executable is the program name searched for
	Executable string `mapstructure:"executable"`

	// SearchPath is tried before PATH
	SearchPath []string `mapstructure:"search_path"`
}

// SetDefaults fills unset fields
func (c *ReporterConfig) SetDefaults() {
	if c.Executable == "" {
		c.Executable = "dumptruck-reporter"
	}
}

// Reporter hands accepted crashes to the interactive reporting tool
type Reporter struct {
	config  ReporterConfig
	runner  Runner
	environ func() []string
	logger  *zap.Logger
}

// NewReporter creates the primary handler
func NewReporter(config ReporterConfig, runner Runner, logger *zap.Logger) *Reporter {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		config:  config,
		runner:  runner,
		environ: os.Environ,
		logger:  logger.Named("reporter"),
	}
}

func (r *Reporter) Name() string { return "reporter" }

// Handle launches the reporting tool and waits for it. Once launched the
// crash counts as claimed even if the tool fails.
func (r *Reporter) Handle(ctx context.Context, crash *Crash) (Outcome, error) {
	res := crash.Resolution
	if res.Decision != metadata.Accept {
		return Declined, nil
	}

	exe, err := FindExecutable(r.config.Executable, r.config.SearchPath)
	if err != nil {
		r.logger.Warn("Reporting tool not found", zap.Error(err))
		return Declined, nil
	}

	cmd := Command{
		Path: exe,
		Args: ReporterArguments(res.Document.CrashHandler),
		Env: append(ScrubEnvironment(r.environ()),
			envBackend+"="+backendCoredump,
			envMetadataFile+"="+res.Path,
		),
		Wait: true,
	}

	r.logger.Info("Launching reporting tool",
		zap.String("command", cmd.String()),
		zap.String("document", res.Path))

	if err := r.runner.Run(ctx, cmd); err != nil {
		r.logger.Warn("Reporting tool failed", zap.Error(err))
	}
	return Claimed, nil
}

// ReporterArguments turns the crash handler section into --key value
// arguments, sorted by key. "true" becomes a bare flag, "false" is left out
// and exe is never forwarded.
func ReporterArguments(section map[string]string) []string {
	keys := make([]string, 0, len(section))
	for k := range section {
		if k == metadata.KeyExe {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		v := section[k]
		switch v {
		case "true":
			args = append(args, "--"+k)
		case "false":
		default:
			args = append(args, "--"+k, v)
		}
	}
	return args
}
