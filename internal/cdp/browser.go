package cdp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/roach88/appshot/internal/harness"
)

// DefaultViewport matches the preview capture size of the visual test flow.
var DefaultViewport = Viewport{Width: 1365, Height: 768}

// Viewport is a page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// String formats the viewport as WIDTHxHEIGHT.
func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// IsZero reports whether no viewport is set.
func (v Viewport) IsZero() bool {
	return v.Width == 0 && v.Height == 0
}

// ParseViewport parses "WIDTHxHEIGHT", e.g. "1365x768".
func ParseViewport(s string) (Viewport, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Viewport{}, fmt.Errorf("invalid viewport %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Viewport{}, fmt.Errorf("invalid viewport width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Viewport{}, fmt.Errorf("invalid viewport height in %q", s)
	}
	return Viewport{Width: width, Height: height}, nil
}

// BrowserLauncher starts a browser, opens a fresh page and exposes that page
// as the only surface. Navigation to URL happens when the surface is awaited,
// so a server that never answers counts against the ready timeout.
// It implements harness.Launcher.
//
// Target.Executable selects the browser binary; when empty the system
// browser is used, falling back to rod's pinned Chromium download.
type BrowserLauncher struct {
	Options

	URL      string
	Viewport Viewport
	FullPage bool

	// Settle is an extra delay after the page went network idle, for pages
	// that keep rendering.
	Settle time.Duration
}

// Launch implements harness.Launcher.
func (l *BrowserLauncher) Launch(ctx context.Context, target harness.Target) (harness.App, error) {
	if l.URL == "" {
		return nil, errors.New("url is required")
	}

	bin := target.Executable
	if bin != "" {
		resolved, err := exec.LookPath(bin)
		if err != nil {
			return nil, fmt.Errorf("resolve browser: %w", err)
		}
		bin = resolved
	} else if found, ok := launcher.LookPath(); ok {
		bin = found
	}

	app, err := l.start(ctx, bin, target)
	if err != nil {
		return nil, err
	}

	page, err := app.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}

	vp := l.Viewport
	if vp.IsZero() {
		vp = DefaultViewport
	}
	if err := page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		app.Close()
		return nil, fmt.Errorf("set viewport %s: %w", vp, err)
	}

	app.url = l.URL
	app.pages = []*rod.Page{page}
	app.fullPage = l.FullPage
	app.settle = l.Settle
	return app, nil
}
