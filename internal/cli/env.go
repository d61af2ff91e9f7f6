package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/appshot/internal/cdp"
	"github.com/roach88/appshot/internal/config"
	"github.com/roach88/appshot/internal/display"
	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/manifest"
)

// Env supplies configuration and drivers to commands.
type Env struct {
	// Config, when set, is used instead of loading the config file.
	Config *config.Config

	// NewLauncher builds drivers. Defaults to DefaultLauncher.
	NewLauncher LauncherFactory

	// Harness, when set, adjusts harness options before each run.
	Harness func(*harness.Options)
}

// DriverSpec describes the driver one verification needs.
type DriverSpec struct {
	Driver   string // manifest.DriverApp, DriverBrowser or DriverDisplay
	URL      string
	Viewport cdp.Viewport
	FullPage bool
	Settle   time.Duration
}

// LauncherFactory builds the harness.Launcher for a DriverSpec.
type LauncherFactory func(spec DriverSpec, cfg *config.Config, logger *slog.Logger) (harness.Launcher, error)

// DefaultLauncher builds the real drivers.
func DefaultLauncher(spec DriverSpec, cfg *config.Config, logger *slog.Logger) (harness.Launcher, error) {
	cdpOpts := cdp.Options{
		NoSandbox:   cfg.NoSandbox,
		Flags:       cfg.Browser.Flags,
		ExitGrace:   cfg.ExitGrace,
		NetworkIdle: cfg.Browser.Idle,
		Logger:      logger,
	}

	switch spec.Driver {
	case manifest.DriverApp, "":
		return &cdp.AppLauncher{Options: cdpOpts}, nil
	case manifest.DriverBrowser:
		settle := spec.Settle
		if settle == 0 {
			settle = cfg.Browser.Settle
		}
		return &cdp.BrowserLauncher{
			Options:  cdpOpts,
			URL:      spec.URL,
			Viewport: spec.Viewport,
			FullPage: spec.FullPage,
			Settle:   settle,
		}, nil
	case manifest.DriverDisplay:
		settle := spec.Settle
		if settle == 0 {
			settle = cfg.Display.Settle
		}
		return &display.Launcher{
			Settle:  settle,
			Display: cfg.Display.Index,
			Logger:  logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", spec.Driver)
	}
}

// loadConfig returns the injected config or loads it from disk.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.Env.Config != nil {
		return o.Env.Config, nil
	}
	return config.Load(config.Options{File: o.ConfigFile})
}

// logger writes text logs to the command's stderr; --verbose enables debug.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	logLevel := slog.LevelInfo
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler)
}

// newHarness builds a harness for spec with the configured limits.
func (o *RootOptions) newHarness(spec DriverSpec, cfg *config.Config, logger *slog.Logger, timeout time.Duration) (*harness.Harness, error) {
	factory := o.Env.NewLauncher
	if factory == nil {
		factory = DefaultLauncher
	}
	launcher, err := factory(spec, cfg, logger)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = cfg.Timeout
	}
	hopts := harness.Options{
		Timeout:      timeout,
		PollInterval: cfg.PollInterval,
		ExitGrace:    cfg.ExitGrace,
		Logger:       logger,
	}
	if o.Env.Harness != nil {
		o.Env.Harness(&hopts)
	}
	return harness.New(launcher, hopts), nil
}

// signalContext derives a context that is cancelled on SIGINT/SIGTERM, so
// an interrupted command still tears its target down.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
