// Package preview runs a local development server for the duration of a
// verification.
//
// The server is an arbitrary command (for example "npm run preview"). An
// optional build command (for example "npm run build") runs to completion
// first. Once started, WaitReady polls its URL with HEAD requests until it answers, and
// Stop terminates it with SIGTERM, escalating to SIGKILL after a grace period.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Defaults match the readiness loop of the original visual test script.
const (
	DefaultAttempts = 30
	DefaultInterval = 500 * time.Millisecond
	DefaultGrace    = 5 * time.Second
	DefaultURL      = "http://localhost:4173"
)

// ErrNotReady is returned when the server never answered.
var ErrNotReady = errors.New("server not ready")

// ErrExited is returned when the server process exits while being waited on.
var ErrExited = errors.New("server exited")

// maxBuildOutput bounds how much build output is quoted in errors.
const maxBuildOutput = 2048

// Build runs command (program followed by its arguments) to completion.
// A non-zero exit is an error carrying the tail of the command's output.
func Build(ctx context.Context, command []string, logger *slog.Logger) error {
	if len(command) == 0 {
		return errors.New("build command is empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	path, err := exec.LookPath(command[0])
	if err != nil {
		return fmt.Errorf("resolve build command: %w", err)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, command[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if logger.Enabled(ctx, slog.LevelDebug) {
		cmd.Stdout = io.MultiWriter(&out, os.Stderr)
		cmd.Stderr = cmd.Stdout
	}

	logger.Info("running build", "command", command)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(out.String())
		if len(tail) > maxBuildOutput {
			tail = "..." + tail[len(tail)-maxBuildOutput:]
		}
		if tail == "" {
			return fmt.Errorf("build %s: %w", command[0], err)
		}
		return fmt.Errorf("build %s: %w\n%s", command[0], err, tail)
	}
	logger.Debug("build finished", "elapsed", time.Since(start))
	return nil
}

// Server is a running preview server process.
type Server struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
	logger *slog.Logger

	stopOnce sync.Once
}

// Start launches command (program followed by its arguments). Output of the
// server goes to stderr when logger is at debug level, and is discarded
// otherwise.
func Start(ctx context.Context, command []string, logger *slog.Logger) (*Server, error) {
	if len(command) == 0 {
		return nil, errors.New("serve command is empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	path, err := exec.LookPath(command[0])
	if err != nil {
		return nil, fmt.Errorf("resolve serve command: %w", err)
	}

	cmd := exec.Command(path, command[1:]...)
	if logger.Enabled(ctx, slog.LevelDebug) {
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start serve command: %w", err)
	}

	s := &Server{
		cmd:    cmd,
		exited: make(chan struct{}),
		logger: logger,
	}
	go func() {
		s.err = cmd.Wait()
		close(s.exited)
	}()

	logger.Info("preview server started", "command", command, "pid", cmd.Process.Pid)
	return s, nil
}

// PID returns the server's process id.
func (s *Server) PID() int {
	return s.cmd.Process.Pid
}

// Exited is closed once the server process has been reaped.
func (s *Server) Exited() <-chan struct{} {
	return s.exited
}

// Stop sends SIGTERM and waits up to grace for the process to exit, then
// kills it. Safe to call more than once.
func (s *Server) Stop(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGrace
	}

	var err error
	s.stopOnce.Do(func() {
		select {
		case <-s.exited:
			return
		default:
		}

		if serr := s.cmd.Process.Signal(syscall.SIGTERM); serr != nil && !errors.Is(serr, os.ErrProcessDone) {
			s.logger.Warn("signal preview server", "error", serr)
		}
		select {
		case <-s.exited:
			s.logger.Debug("preview server stopped", "pid", s.PID())
			return
		case <-time.After(grace):
		}

		s.logger.Warn("preview server ignored SIGTERM; killing", "pid", s.PID())
		if kerr := s.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("kill preview server: %w", kerr)
			return
		}
		<-s.exited
	})
	return err
}

// ReadyCheck configures WaitReady.
type ReadyCheck struct {
	Attempts int
	Interval time.Duration
	Client   *http.Client

	// Exited, when set, aborts the wait as soon as it is closed.
	Exited <-chan struct{}
}

// WaitReady issues HEAD requests against url until one returns a 2xx status.
// It gives up after the configured number of attempts.
func WaitReady(ctx context.Context, url string, p ReadyCheck) error {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: p.Interval * 4}
	}

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		ok, err := head(ctx, client, url)
		if ok {
			return nil
		}
		last = err

		if attempt == p.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Exited:
			return fmt.Errorf("%w before answering %s", ErrExited, url)
		case <-time.After(p.Interval):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrNotReady, url, p.Attempts, last)
}

func head(ctx context.Context, client *http.Client, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}
	return true, nil
}
