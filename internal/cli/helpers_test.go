package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/appshot/internal/config"
	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/procwatch"
	"github.com/roach88/appshot/internal/testutil"
)

// testEnv wires commands to fake drivers with short limits and predictable
// session ids ("run-1", "run-2", ...).
type testEnv struct {
	cfg       *config.Config
	launchers map[string]*testutil.FakeLauncher
	fallback  *testutil.FakeLauncher

	mu    sync.Mutex
	specs []DriverSpec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Timeout = 2 * time.Second
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ExitGrace = 500 * time.Millisecond
	cfg.DB = ""
	cfg.Preview.Attempts = 20
	cfg.Preview.Interval = 10 * time.Millisecond
	cfg.Preview.Grace = time.Second

	return &testEnv{
		cfg:       cfg,
		launchers: map[string]*testutil.FakeLauncher{},
		fallback:  testutil.NewFakeLauncher(t),
	}
}

// forDriver gives one driver its own fake launcher.
func (e *testEnv) forDriver(t *testing.T, driver string) *testutil.FakeLauncher {
	l := testutil.NewFakeLauncher(t)
	e.launchers[driver] = l
	return l
}

func (e *testEnv) Specs() []DriverSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]DriverSpec(nil), e.specs...)
}

func (e *testEnv) options() *RootOptions {
	ids := testutil.NewSequenceIDs("run")
	return &RootOptions{
		Env: Env{
			Config: e.cfg,
			NewLauncher: func(spec DriverSpec, _ *config.Config, _ *slog.Logger) (harness.Launcher, error) {
				e.mu.Lock()
				e.specs = append(e.specs, spec)
				e.mu.Unlock()
				if l, ok := e.launchers[spec.Driver]; ok {
					return l, nil
				}
				return e.fallback, nil
			},
			Harness: func(o *harness.Options) {
				o.NewID = ids.Next
			},
		},
	}
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// requireAllExited asserts every process a fake launcher started is gone.
func requireAllExited(t *testing.T, l *testutil.FakeLauncher) {
	t.Helper()

	w := procwatch.New(procwatch.Options{Grace: time.Second})
	for _, pid := range l.PIDs() {
		require.True(t, w.WaitExit(context.Background(), pid, time.Second), "pid %d still running", pid)
	}
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appshot.manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
