// Package procwatch confirms that launched processes have really exited.
//
// Drivers close their targets through whatever mechanism their automation
// library provides. procwatch checks the operating system afterwards and
// kills anything left behind, so a verification never leaks a process.
package procwatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrStillRunning is returned when a process survives the kill.
var ErrStillRunning = errors.New("process still running")

// Defaults.
const (
	DefaultGrace = 5 * time.Second
	DefaultPoll  = 50 * time.Millisecond
)

// Options configures a Watcher.
type Options struct {
	// Grace is how long to wait for a voluntary exit before killing.
	Grace time.Duration

	// Poll is the interval between liveness checks.
	Poll time.Duration
}

// Watcher inspects processes through gopsutil.
//
// Thread-safety: Watcher is stateless and safe for concurrent use.
type Watcher struct {
	grace time.Duration
	poll  time.Duration
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	return &Watcher{grace: opts.Grace, poll: opts.Poll}
}

// Alive reports whether pid refers to a live process.
// Zombies (exited but not yet reaped by their parent) count as dead.
func (w *Watcher) Alive(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return false, fmt.Errorf("check pid %d: %w", pid, err)
	}
	if !exists {
		return false, nil
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return false, nil
		}
		return false, fmt.Errorf("inspect pid %d: %w", pid, err)
	}

	status, err := p.StatusWithContext(ctx)
	if err != nil {
		// Vanished between the two calls.
		if ok, _ := process.PidExistsWithContext(ctx, int32(pid)); !ok {
			return false, nil
		}
		return true, nil
	}
	if slices.Contains(status, process.Zombie) {
		return false, nil
	}
	return true, nil
}

// WaitExit polls until pid is gone or the timeout elapses.
// Returns true if the process exited.
func (w *Watcher) WaitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		alive, err := w.Alive(ctx, pid)
		if err == nil && !alive {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.poll):
		}
	}
}

// EnsureExited waits up to the grace period for pid to exit and kills it if
// it has not. Returns ErrStillRunning if the process survives the kill.
func (w *Watcher) EnsureExited(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	if w.WaitExit(ctx, pid, w.grace) {
		return nil
	}

	if err := w.Kill(ctx, pid); err != nil {
		return err
	}
	if w.WaitExit(ctx, pid, w.grace) {
		return nil
	}
	return fmt.Errorf("pid %d: %w", pid, ErrStillRunning)
}

// Kill sends SIGKILL (TerminateProcess on Windows) to pid.
// A process that is already gone is not an error.
func (w *Watcher) Kill(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("inspect pid %d: %w", pid, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		if alive, aerr := w.Alive(ctx, pid); aerr == nil && !alive {
			return nil
		}
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}
