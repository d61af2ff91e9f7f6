package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/appshot/internal/procwatch"
)

// Default lifecycle limits.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultExitGrace    = 5 * time.Second
)

// Options configures a Harness. Zero values select the defaults.
type Options struct {
	// Timeout bounds surface acquisition, load-complete and capture, each
	// separately. Defaults to 30 seconds.
	Timeout time.Duration

	// PollInterval is how often the app is asked for surfaces while none exist.
	PollInterval time.Duration

	// ExitGrace is how long teardown waits for the process to disappear
	// before killing it.
	ExitGrace time.Duration

	// Logger receives lifecycle logs. Defaults to a discarding logger.
	Logger *slog.Logger

	// Watcher confirms process exit after teardown. Defaults to a
	// procwatch.Watcher using ExitGrace.
	Watcher ProcessWatcher

	// Now returns the current time. Used for step timings in reports.
	Now func() time.Time

	// NewID generates session ids. Defaults to UUIDv7.
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ExitGrace <= 0 {
		o.ExitGrace = DefaultExitGrace
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Watcher == nil {
		o.Watcher = procwatch.New(procwatch.Options{Grace: o.ExitGrace})
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return o
}

// Harness runs verifications against a single Launcher.
//
// A Harness holds no per-call state and is safe for concurrent use; every
// Verify call gets its own Session and process.
type Harness struct {
	launcher Launcher
	opts     Options
}

// New creates a Harness.
func New(launcher Launcher, opts Options) *Harness {
	return &Harness{
		launcher: launcher,
		opts:     opts.withDefaults(),
	}
}

// Timeout returns the effective per-step timeout.
func (h *Harness) Timeout() time.Duration {
	return h.opts.Timeout
}

// Verify launches the target, waits for its first surface to finish loading,
// writes a screenshot to req.Output and tears the target down.
//
// Every failure is a *VerificationError. Teardown runs on every path out of
// Verify, including cancellation of ctx and panics raised by the driver.
func (h *Harness) Verify(ctx context.Context, req Request) (*Artifact, error) {
	id := h.opts.NewID()
	logger := h.opts.Logger.With("session", id)
	report := NewReport(id)

	if req.Output == "" {
		return nil, &VerificationError{
			Kind:   KindCapture,
			Step:   StepCapture,
			Err:    errors.New("output path is required"),
			Report: report,
		}
	}

	// Launch
	logger.Info("launching target", "executable", req.Executable, "args", req.Args, "headless", req.Headless)
	start := h.opts.Now()
	app, err := h.launcher.Launch(ctx, Target{
		Executable: req.Executable,
		Args:       req.Args,
		Headless:   req.Headless,
	})
	if err == nil && app == nil {
		err = errors.New("driver returned no application")
	}
	elapsed := h.opts.Now().Sub(start)
	report.Add(StepLaunch, elapsed, err)
	if err != nil {
		logger.Warn("launch failed", "error", err)
		return nil, &VerificationError{
			Kind:       KindLaunch,
			Step:       StepLaunch,
			Executable: req.Executable,
			Elapsed:    elapsed,
			Err:        err,
			Report:     report,
		}
	}

	sess := newSession(id, app)
	defer h.teardown(sess, report, logger)
	logger.Debug("target launched", "pid", sess.PID())

	// Acquire surface
	start = h.opts.Now()
	surface, err := withTimeout(ctx, h.opts.Timeout, func(ctx context.Context) (Surface, error) {
		return sess.acquire(ctx, h.opts.PollInterval)
	})
	elapsed = h.opts.Now().Sub(start)
	report.Add(StepAcquire, elapsed, err)
	if err != nil {
		logger.Warn("no surface", "elapsed", elapsed, "error", err)
		return nil, &VerificationError{
			Kind:       KindNoSurface,
			Step:       StepAcquire,
			Executable: req.Executable,
			Elapsed:    elapsed,
			Err:        err,
			Report:     report,
		}
	}

	// Await ready
	start = h.opts.Now()
	_, err = withTimeout(ctx, h.opts.Timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, surface.WaitLoad(ctx)
	})
	elapsed = h.opts.Now().Sub(start)
	report.Add(StepAwait, elapsed, err)
	if err != nil {
		logger.Warn("surface not ready", "elapsed", elapsed, "error", err)
		return nil, &VerificationError{
			Kind:       KindTimeout,
			Step:       StepAwait,
			Executable: req.Executable,
			Elapsed:    elapsed,
			Err:        err,
			Report:     report,
		}
	}
	sess.setState(StateReady)
	logger.Debug("surface ready", "elapsed", elapsed)

	// Capture
	start = h.opts.Now()
	data, err := withTimeout(ctx, h.opts.Timeout, surface.Screenshot)
	var art *Artifact
	if err == nil {
		art, err = writeArtifact(req.Output, data, h.opts.Now())
	}
	elapsed = h.opts.Now().Sub(start)
	report.Add(StepCapture, elapsed, err)
	if err != nil {
		logger.Warn("capture failed", "output", req.Output, "error", err)
		return nil, &VerificationError{
			Kind:       KindCapture,
			Step:       StepCapture,
			Executable: req.Executable,
			Output:     req.Output,
			Elapsed:    elapsed,
			Err:        err,
			Report:     report,
		}
	}
	sess.setState(StateCaptureComplete)

	art.SessionID = id
	art.Report = report
	logger.Info("capture written", "output", art.Path, "bytes", art.Bytes, "width", art.Width, "height", art.Height)
	return art, nil
}

// teardown closes the session and confirms the process is gone.
// It never fails: problems are logged and recorded in the report.
func (h *Harness) teardown(sess *Session, report *Report, logger *slog.Logger) {
	start := h.opts.Now()
	pid := sess.PID()

	sess.Close(logger)

	var err error
	if pid > 0 {
		// Fresh context: the caller's may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*h.opts.ExitGrace+time.Second)
		err = h.opts.Watcher.EnsureExited(ctx, pid)
		cancel()
		if err != nil {
			logger.Warn("process survived teardown", "pid", pid, "error", err)
		}
	}

	report.Add(StepTeardown, h.opts.Now().Sub(start), err)
	logger.Debug("session closed", "pid", pid)
}

// stepResult carries a step's outcome (or panic) back from its goroutine.
type stepResult[T any] struct {
	val      T
	err      error
	panicked bool
	panicVal any
}

// withTimeout runs fn under a deadline. fn runs in its own goroutine so a
// driver that ignores ctx cannot hold Verify past the deadline; teardown
// then unblocks it. A panic inside fn is re-raised with its original value on
// the caller's goroutine so deferred teardown still runs.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan stepResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepResult[T]{panicked: true, panicVal: r}
			}
		}()
		v, err := fn(ctx)
		done <- stepResult[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		if res.panicked {
			panic(res.panicVal)
		}
		if res.err != nil && ctx.Err() != nil && !errors.Is(res.err, ctx.Err()) {
			return res.val, fmt.Errorf("%w: %v", ctx.Err(), res.err)
		}
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
