// Package harness produces one screenshot of a target application's first
// surface, with guaranteed cleanup.
//
// # Lifecycle
//
// A call to Harness.Verify owns exactly one Session and walks it through a
// strictly sequential lifecycle:
//
//	launch -> acquire surface -> await ready -> capture -> teardown
//
// Each step depends on the postcondition of the one before it. A failure in
// any step is terminal for that call and is returned as a *VerificationError
// whose Kind names the step that failed:
//
//   - LaunchError: the executable could not be found or exited immediately
//   - NoSurfaceError: no surface appeared before the timeout
//   - TimeoutError: the surface never signalled load-complete
//   - CaptureError: the image could not be rendered or written
//
// Teardown runs on every exit path, including caller cancellation and panics
// raised by a driver. Teardown problems are logged and never returned, so
// they cannot mask the failure being reported.
//
// # Drivers
//
// The harness knows nothing about how a target renders. It depends on the
// Launcher, App and Surface interfaces, implemented by the cdp package
// (Chromium and Electron over the DevTools protocol) and the display package
// (any executable, captured from the primary display).
//
// # Usage
//
//	h := harness.New(&cdp.AppLauncher{}, harness.Options{Timeout: 30 * time.Second})
//	art, err := h.Verify(ctx, harness.Request{
//	    Executable: "./node_modules/.bin/electron",
//	    Args:       []string{"."},
//	    Output:     "artifacts/verification.png",
//	    Headless:   true,
//	})
//	if harness.IsTimeoutError(err) {
//	    // the window never finished loading
//	}
package harness
