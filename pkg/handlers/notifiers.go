package handlers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/yairfalse/dumptruck/pkg/notify"
	"go.uber.org/zap"
)

const (
	actionGDB     = "gdb"
	actionDetails = "details"

	// DefaultActionTimeout bounds how long a notification keeps the
	// launcher alive waiting for a click
	DefaultActionTimeout = 10 * time.Minute
)

// NotifierConfig configures both notification handlers
type NotifierConfig struct {
	// DevNotify enables the developer notifier at 1 or above
	DevNotify int `mapstructure:"dev_notify"`

	// Terminal runs the debugger for the developer notifier
	Terminal string `mapstructure:"terminal"`

	// Viewer is launched with the journal cursor from the details action
	Viewer string `mapstructure:"viewer"`

	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

// SetDefaults fills unset fields
func (c *NotifierConfig) SetDefaults() {
	if c.Terminal == "" {
		c.Terminal = "konsole"
	}
	if c.Viewer == "" {
		c.Viewer = "dumptruck-viewer"
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
}

// showAndWait sends n and waits for an action. The connection is closed
// before returning.
func showAndWait(ctx context.Context, factory notify.Factory, n notify.Notification, timeout time.Duration, wait bool) (string, error) {
	notifier, err := factory(ctx)
	if err != nil {
		return "", err
	}
	defer notifier.Close()

	id, err := notifier.Notify(ctx, n)
	if err != nil {
		return "", err
	}
	if !wait {
		return "", nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	key, err := notifier.WaitAction(waitCtx, id)
	if err != nil && waitCtx.Err() != nil && ctx.Err() == nil {
		// Nobody clicked in time.
		return "", nil
	}
	return key, err
}

// DevNotifier shows unlocalized developer notifications with a debugger
// shortcut. It claims every crash it is offered once enabled.
type DevNotifier struct {
	config  NotifierConfig
	factory notify.Factory
	runner  Runner
	fs      afero.Fs
	uid     int
	logger  *zap.Logger
}

// NewDevNotifier creates the developer notifier
func NewDevNotifier(config NotifierConfig, factory notify.Factory, runner Runner, fs afero.Fs, logger *zap.Logger) *DevNotifier {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevNotifier{
		config:  config,
		factory: factory,
		runner:  runner,
		fs:      fs,
		uid:     os.Getuid(),
		logger:  logger.Named("dev-notifier"),
	}
}

func (d *DevNotifier) Name() string { return "dev-notifier" }

func (d *DevNotifier) Handle(ctx context.Context, crash *Crash) (Outcome, error) {
	if d.config.DevNotify < 1 {
		return Declined, nil
	}
	rec := crash.Record

	if !d.coreExists(crash) {
		_, err := showAndWait(ctx, d.factory, notify.Notification{
			AppName: "dumptruck",
			AppIcon: "tools-report-bug",
			Summary: "Core file missing",
			Body:    fmt.Sprintf("%s [%d] crashed but has no core file", rec.Exe, rec.PID),
			Urgency: notify.UrgencyNormal,
		}, d.config.ActionTimeout, false)
		if err != nil {
			return Declined, fmt.Errorf("failed to notify: %w", err)
		}
		return Claimed, nil
	}

	key, err := showAndWait(ctx, d.factory, notify.Notification{
		AppName: "dumptruck",
		AppIcon: "tools-report-bug",
		Summary: "Crash",
		Body:    fmt.Sprintf("%s [%d]", rec.Exe, rec.PID),
		Actions: []notify.Action{{Key: actionGDB, Label: "gdb"}},
		Urgency: notify.UrgencyNormal,
	}, d.config.ActionTimeout, true)
	if err != nil {
		return Declined, fmt.Errorf("failed to notify: %w", err)
	}

	if key == actionGDB {
		cmd := d.debuggerCommand(rec.PID, rec.UID)
		if err := d.runner.Run(ctx, cmd); err != nil {
			d.logger.Warn("Failed to launch debugger", zap.String("command", cmd.String()), zap.Error(err))
		}
	}
	return Claimed, nil
}

// debuggerCommand opens coredumpctl gdb in a terminal, through pkexec when
// the crash belongs to another user
func (d *DevNotifier) debuggerCommand(pid, uid int) Command {
	args := []string{"--nofork", "-e", "coredumpctl", "gdb", strconv.Itoa(pid)}
	if uid != d.uid {
		args = []string{"--nofork", "-e", "pkexec coredumpctl gdb " + strconv.Itoa(pid)}
	}
	return Command{
		Path: d.config.Terminal,
		Args: args,
		Env:  ScrubEnvironment(os.Environ()),
	}
}

func (d *DevNotifier) coreExists(crash *Crash) bool {
	rec := crash.Record
	if rec.CoreInJournal() {
		return true
	}
	if rec.Filename == "" {
		return false
	}
	_, err := d.fs.Stat(rec.Filename)
	return err == nil
}

// DesktopNotifier is the fallback: a plain notification naming the crashed
// application or service, with a shortcut to the crash viewer
type DesktopNotifier struct {
	config  NotifierConfig
	factory notify.Factory
	runner  Runner
	entries *EntryLocator
	logger  *zap.Logger
}

// NewDesktopNotifier creates the fallback notifier
func NewDesktopNotifier(config NotifierConfig, factory notify.Factory, runner Runner, entries *EntryLocator, logger *zap.Logger) *DesktopNotifier {
	config.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DesktopNotifier{
		config:  config,
		factory: factory,
		runner:  runner,
		entries: entries,
		logger:  logger.Named("desktop-notifier"),
	}
}

func (n *DesktopNotifier) Name() string { return "desktop-notifier" }

// Handle declines replayed crashes, there is no record of whether they were
// already announced.
func (n *DesktopNotifier) Handle(ctx context.Context, crash *Crash) (Outcome, error) {
	rec := crash.Record
	if rec.Pickup() {
		return Declined, nil
	}

	note := n.notification(rec.OwningUnit(), rec.Exe)
	key, err := showAndWait(ctx, n.factory, note, n.config.ActionTimeout, true)
	if err != nil {
		return Declined, fmt.Errorf("failed to notify: %w", err)
	}
	if key != actionDetails {
		return Claimed, nil
	}

	cmd := Command{
		Path: n.config.Viewer,
		Args: []string{rec.Cursor()},
		Env:  ScrubEnvironment(os.Environ()),
	}
	if err := n.runner.Run(ctx, cmd); err != nil {
		n.logger.Warn("Failed to launch crash viewer", zap.Error(err))
		_, nerr := showAndWait(ctx, n.factory, notify.Notification{
			AppName: "dumptruck",
			AppIcon: "tools-report-bug",
			Summary: "Failed to Launch",
			Body:    "Could not launch the crash viewer.",
			Urgency: notify.UrgencyNormal,
		}, n.config.ActionTimeout, false)
		if nerr != nil {
			n.logger.Warn("Failed to report launch failure", zap.Error(nerr))
		}
	}
	return Claimed, nil
}

func (n *DesktopNotifier) notification(unitName, exe string) notify.Notification {
	note := notify.Notification{
		AppName: "dumptruck",
		Actions: []notify.Action{{Key: actionDetails, Label: "Details"}},
		Urgency: notify.UrgencyNormal,
	}

	name := exe
	var entry *DesktopEntry
	if n.entries != nil && unitName != "" {
		entry = n.entries.ForUnit(unitName)
	}
	if entry != nil {
		name = entry.Name
		note.Summary = "Application Crash"
		note.AppIcon = entry.Icon
		note.DesktopEntry = entry.ID
	} else {
		note.Summary = "Service Crash"
	}
	note.Body = fmt.Sprintf("%s has encountered a fatal error and was closed.", name)
	return note
}
