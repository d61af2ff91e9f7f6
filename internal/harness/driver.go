package harness

import "context"

// Target describes what a Launcher should start.
type Target struct {
	// Executable is the path (or PATH-resolvable name) of the program.
	// Drivers that can locate a default binary may accept an empty value.
	Executable string

	// Args are passed to the program verbatim.
	Args []string

	// Headless is passed through to the driver. Drivers that cannot honour
	// it log and ignore it.
	Headless bool
}

// Launcher starts target applications.
//
// A Launcher that fails after a process was started must terminate that
// process itself before returning; the harness only tears down Apps that
// were successfully returned.
type Launcher interface {
	Launch(ctx context.Context, target Target) (App, error)
}

// App is a running target application.
type App interface {
	// PID returns the operating-system process id, or 0 if unknown.
	PID() int

	// Surfaces returns the surfaces currently exposed by the process, in the
	// order the driver reports them. An empty slice means none exist yet.
	Surfaces(ctx context.Context) ([]Surface, error)

	// Close terminates the process and releases driver resources.
	// Close must be safe to call on an already-dead process.
	Close() error
}

// Surface is a renderable window or page.
type Surface interface {
	// WaitLoad blocks until the surface reports load-complete or ctx ends.
	WaitLoad(ctx context.Context) error

	// Screenshot renders the current contents as an encoded image (PNG for
	// every driver in this module).
	Screenshot(ctx context.Context) ([]byte, error)
}

// ProcessWatcher confirms that a process has exited after teardown.
// Implemented by procwatch.Watcher.
type ProcessWatcher interface {
	EnsureExited(ctx context.Context, pid int) error
}
