// Package cdp drives Chromium-based targets over the Chrome DevTools Protocol.
//
// Two launchers are provided:
//
//   - AppLauncher starts an arbitrary Chromium-based executable (an Electron
//     shell such as ./node_modules/.bin/electron, or a browser) and exposes its
//     page targets as surfaces.
//   - BrowserLauncher starts a browser, opens a single page at a URL and
//     exposes only that page. It backs the preview flow.
//
// Both are built on go-rod: the rod launcher supervises the process (with
// leakless, so a crashed harness still takes the target down) and the rod
// client talks CDP to it.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/procwatch"
)

// Options are shared by AppLauncher and BrowserLauncher.
type Options struct {
	// NoSandbox disables the Chromium sandbox. Needed when running as root,
	// typically inside containers.
	NoSandbox bool

	// DisableLeakless turns off rod's leakless guard process.
	DisableLeakless bool

	// Flags are extra command-line switches in "name" or "name=value" form,
	// without leading dashes.
	Flags []string

	// ExitGrace bounds how long Close waits for the process to go away.
	ExitGrace time.Duration

	// NetworkIdle is how long a page must go without network requests
	// before it counts as loaded. Zero selects DefaultNetworkIdle; negative
	// waits for the load event only.
	NetworkIdle time.Duration

	// Logger receives driver logs. Defaults to a discarding logger.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// DefaultNetworkIdle is the quiet window used when Options.NetworkIdle is zero.
const DefaultNetworkIdle = 500 * time.Millisecond

func (o Options) idle() time.Duration {
	switch {
	case o.NetworkIdle < 0:
		return 0
	case o.NetworkIdle == 0:
		return DefaultNetworkIdle
	}
	return o.NetworkIdle
}

func (o Options) grace() time.Duration {
	if o.ExitGrace <= 0 {
		return procwatch.DefaultGrace
	}
	return o.ExitGrace
}

// configure builds the rod launcher for one target.
func (o Options) configure(bin string, target harness.Target, profileDir string) *launcher.Launcher {
	l := launcher.New().
		Headless(target.Headless).
		Leakless(!o.DisableLeakless).
		UserDataDir(profileDir)

	if bin != "" {
		l = l.Bin(bin)
	}
	if o.NoSandbox {
		l = l.NoSandbox(true)
	}
	for _, f := range o.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	if len(target.Args) > 0 {
		l = l.Append(flags.Arguments, target.Args...)
	}
	return l
}

// start launches the process and connects a CDP client to it. On failure the
// process (if any) is killed and the profile directory removed before
// returning.
func (o Options) start(ctx context.Context, bin string, target harness.Target) (*App, error) {
	logger := o.logger()

	profileDir, err := os.MkdirTemp("", "appshot-profile-*")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	l := o.configure(bin, target, profileDir).Context(ctx)
	app := &App{
		launcher:   l,
		profileDir: profileDir,
		watcher:    procwatch.New(procwatch.Options{Grace: o.grace()}),
		grace:      o.grace(),
		idle:       o.idle(),
		logger:     logger,
	}

	logger.Debug("starting cdp target", "bin", bin, "args", target.Args, "headless", target.Headless)
	u, err := l.Launch()
	if err != nil {
		app.abort()
		return nil, fmt.Errorf("launch %s: %w", displayBin(bin), err)
	}
	app.pid = l.PID()

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		app.abort()
		return nil, fmt.Errorf("connect devtools at %s: %w", u, err)
	}
	app.browser = browser

	logger.Debug("cdp target connected", "pid", app.pid, "control_url", u)
	return app, nil
}

func displayBin(bin string) string {
	if bin == "" {
		return "default browser"
	}
	return bin
}

// App is a running CDP target. It implements harness.App.
type App struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	profileDir string
	watcher    *procwatch.Watcher
	grace      time.Duration
	idle       time.Duration
	logger     *slog.Logger
	pid        int

	// pages, when set, pins the surface list (BrowserLauncher); url is
	// opened in them when they are awaited.
	pages    []*rod.Page
	url      string
	fullPage bool
	settle   time.Duration

	once     sync.Once
	closeErr error
}

// PID implements harness.App.
func (a *App) PID() int {
	return a.pid
}

// Surfaces implements harness.App. Only targets of type "page" are surfaces.
func (a *App) Surfaces(ctx context.Context) ([]harness.Surface, error) {
	pages := a.pages
	if pages == nil {
		found, err := a.browser.Context(ctx).Pages()
		if err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}
		pages = found
	}

	surfaces := make([]harness.Surface, 0, len(pages))
	for _, p := range pages {
		surfaces = append(surfaces, &Surface{
			page:     p,
			url:      a.url,
			idle:     a.idle,
			fullPage: a.fullPage,
			settle:   a.settle,
		})
	}
	return surfaces, nil
}

// Close implements harness.App. It asks the browser to close over CDP, kills
// the process tree, confirms the exit and removes the temporary profile.
func (a *App) Close() error {
	a.once.Do(func() {
		var errs []error
		if a.browser != nil {
			if err := a.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if err := a.kill(); err != nil {
			errs = append(errs, err)
		}
		if err := os.RemoveAll(a.profileDir); err != nil {
			errs = append(errs, fmt.Errorf("remove profile: %w", err))
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// abort is Close for a half-started target.
func (a *App) abort() {
	if err := a.kill(); err != nil {
		a.logger.Warn("aborting launch", "error", err)
	}
	_ = os.RemoveAll(a.profileDir)
}

func (a *App) kill() error {
	pid := a.pid
	if pid == 0 {
		pid = a.launcher.PID()
	}
	if pid == 0 {
		return nil
	}
	a.launcher.Kill()

	ctx, cancel := context.WithTimeout(context.Background(), 2*a.grace+time.Second)
	defer cancel()
	if err := a.watcher.EnsureExited(ctx, pid); err != nil {
		return fmt.Errorf("stop pid %d: %w", pid, err)
	}
	return nil
}

// Surface is a CDP page. It implements harness.Surface.
type Surface struct {
	page     *rod.Page
	url      string
	idle     time.Duration
	fullPage bool
	settle   time.Duration
}

// WaitLoad implements harness.Surface. It navigates to the surface URL if
// there is one, waits for the load event and for the network to go idle,
// then for the settle delay.
func (s *Surface) WaitLoad(ctx context.Context) error {
	page := s.page.Context(ctx)

	// Subscribe before navigating so early requests are counted.
	var waitIdle func()
	if s.idle > 0 {
		waitIdle = page.WaitRequestIdle(s.idle, nil, nil, nil)
	}
	if s.url != "" {
		if err := page.Navigate(s.url); err != nil {
			return fmt.Errorf("navigate to %s: %w", s.url, err)
		}
	}
	if err := page.WaitLoad(); err != nil {
		return err
	}
	if waitIdle != nil {
		waitIdle()
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if s.settle <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settle):
		return nil
	}
}

// Screenshot implements harness.Surface and returns PNG bytes.
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(s.fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}
