// Package display launches any executable and captures the primary display.
//
// It is the fallback driver for targets that do not speak the DevTools
// protocol. Since the harness cannot see inside such an application, the
// surface is the whole display and "load-complete" means the process stayed
// alive for a settle delay.
package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/roach88/appshot/internal/harness"
)

// Defaults.
const (
	DefaultSettle       = 2 * time.Second
	DefaultStartupGrace = 250 * time.Millisecond
)

// ErrExited is returned when the target exits before it is captured.
var ErrExited = errors.New("process exited")

// Launcher starts targets with os/exec. It implements harness.Launcher.
type Launcher struct {
	// Settle is how long the process must stay alive before the display is
	// considered ready.
	Settle time.Duration

	// StartupGrace is how long Launch watches for an immediate exit.
	StartupGrace time.Duration

	// Display selects the display index to capture.
	Display int

	// Env is appended to the inherited environment.
	Env []string

	Logger *slog.Logger
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l.Logger
}

// Launch implements harness.Launcher.
func (l *Launcher) Launch(ctx context.Context, target harness.Target) (harness.App, error) {
	if target.Executable == "" {
		return nil, errors.New("executable is required")
	}
	path, err := exec.LookPath(target.Executable)
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if target.Headless {
		l.logger().Warn("display driver cannot run headless; launching with a visible window", "executable", path)
	}

	cmd := exec.Command(path, target.Args...)
	if len(l.Env) > 0 {
		cmd.Env = append(cmd.Environ(), l.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	app := &App{
		cmd:     cmd,
		exited:  make(chan struct{}),
		settle:  l.Settle,
		display: l.Display,
	}
	if app.settle <= 0 {
		app.settle = DefaultSettle
	}
	go app.reap()

	grace := l.StartupGrace
	if grace <= 0 {
		grace = DefaultStartupGrace
	}
	select {
	case <-app.exited:
		return nil, fmt.Errorf("%w immediately: %v", ErrExited, app.waitErr)
	case <-ctx.Done():
		app.Close()
		return nil, ctx.Err()
	case <-time.After(grace):
	}

	l.logger().Debug("display target started", "pid", cmd.Process.Pid)
	return app, nil
}

// App is a process started by Launcher. It implements harness.App.
type App struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
	settle  time.Duration
	display int

	once sync.Once
}

func (a *App) reap() {
	a.waitErr = a.cmd.Wait()
	close(a.exited)
}

// PID implements harness.App.
func (a *App) PID() int {
	return a.cmd.Process.Pid
}

// Surfaces implements harness.App. The only surface is the configured
// display, present as long as the process runs and the display exists.
func (a *App) Surfaces(ctx context.Context) ([]harness.Surface, error) {
	select {
	case <-a.exited:
		return nil, fmt.Errorf("%w: %v", ErrExited, a.waitErr)
	default:
	}
	if screenshot.NumActiveDisplays() <= a.display {
		return nil, nil
	}
	return []harness.Surface{&Surface{app: a}}, nil
}

// Close implements harness.App: kills the process and waits for it to be reaped.
func (a *App) Close() error {
	a.once.Do(func() {
		select {
		case <-a.exited:
			return
		default:
		}
		_ = a.cmd.Process.Kill()
		<-a.exited
	})
	return nil
}

// Surface is a display. It implements harness.Surface.
type Surface struct {
	app *App
}

// WaitLoad implements harness.Surface: the process must survive the settle delay.
func (s *Surface) WaitLoad(ctx context.Context) error {
	select {
	case <-s.app.exited:
		return fmt.Errorf("%w before ready: %v", ErrExited, s.app.waitErr)
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.app.settle):
		return nil
	}
}

// Screenshot implements harness.Surface and returns PNG bytes.
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	bounds := screenshot.GetDisplayBounds(s.app.display)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", s.app.display, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
