package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// SystemdVariables are set by the service manager for the launcher and must
// not leak into the programs it starts
var SystemdVariables = []string{
	"JOURNAL_STREAM",
	"INVOCATION_ID",
	"LISTEN_FDNAMES",
	"LISTEN_FDS",
	"LISTEN_PID",
	"MANAGERPID",
}

// ErrExecutableNotFound is returned when no candidate directory holds the
// requested program
var ErrExecutableNotFound = errors.New("executable not found")

// Command is a program to start
type Command struct {
	Path string
	Args []string
	Env  []string
	// Wait blocks until the program exits, otherwise it is started detached
	Wait bool
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Runner starts commands
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes
type ExecRunner struct {
	Logger *zap.Logger
}

// Run starts cmd. Detached commands are reaped in the background and are
// not tied to ctx.
func (r ExecRunner) Run(ctx context.Context, cmd Command) error {
	var c *exec.Cmd
	if cmd.Wait {
		c = exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	} else {
		c = exec.Command(cmd.Path, cmd.Args...)
	}
	c.Env = cmd.Env
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	if cmd.Wait {
		if err := c.Run(); err != nil {
			return fmt.Errorf("%s: %w", cmd.Path, err)
		}
		return nil
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	go func() {
		if err := c.Wait(); err != nil && r.Logger != nil {
			r.Logger.Debug("Detached command exited", zap.String("command", cmd.Path), zap.Error(err))
		}
	}()
	return nil
}

// ScrubEnvironment returns environ without the service manager variables
func ScrubEnvironment(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if isSystemdVariable(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func isSystemdVariable(name string) bool {
	for _, v := range SystemdVariables {
		if v == name {
			return true
		}
	}
	return false
}

// SearchPath splits a colon separated directory list, dropping empty
// elements
func SearchPath(list string) []string {
	var dirs []string
	for _, dir := range filepath.SplitList(list) {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// FindExecutable looks for name in dirs first, then on PATH
func FindExecutable(name string, dirs []string) (string, error) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0o111 != 0 {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
	}
	return path, nil
}
