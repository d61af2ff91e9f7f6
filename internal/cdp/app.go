package cdp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/roach88/appshot/internal/harness"
)

// AppLauncher launches a Chromium-based executable and exposes every page
// target it opens. It implements harness.Launcher.
//
// Example (Electron):
//
//	h := harness.New(&cdp.AppLauncher{}, harness.Options{})
//	h.Verify(ctx, harness.Request{
//	    Executable: "./node_modules/.bin/electron",
//	    Args:       []string{"."},
//	    Output:     "verification.png",
//	    Headless:   true,
//	})
type AppLauncher struct {
	Options
}

// Launch implements harness.Launcher.
func (l *AppLauncher) Launch(ctx context.Context, target harness.Target) (harness.App, error) {
	if target.Executable == "" {
		return nil, errors.New("executable is required")
	}
	bin, err := exec.LookPath(target.Executable)
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	app, err := l.start(ctx, bin, target)
	if err != nil {
		return nil, err
	}
	return app, nil
}
