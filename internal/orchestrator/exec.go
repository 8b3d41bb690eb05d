package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultWaitDelay is how long a child may keep running after it was asked
// to stop before it is killed. It covers the child's drain window.
const DefaultWaitDelay = 15 * time.Second

// ExecLauncher runs each instance as a child process of Executable, with
// stdout and stderr appended to the instance log.
type ExecLauncher struct {
	Executable string
	Env        []string // extra environment, appended to os.Environ
	WaitDelay  time.Duration
}

// NewExecLauncher returns a launcher that re-executes the running binary.
func NewExecLauncher() (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecLauncher{Executable: exe, WaitDelay: DefaultWaitDelay}, nil
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context, inst Instance) (int, error) {
	logFile, err := os.OpenFile(inst.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return -1, fmt.Errorf("open instance log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, l.Executable, inst.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	// Interrupt rather than kill so the child drains and writes its summary.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("start instance %d: %w", inst.ID, err)
	}
	err = cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, fmt.Errorf("wait for instance %d: %w", inst.ID, err)
	}
}
