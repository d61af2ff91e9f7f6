package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/manifest"
	"github.com/roach88/appshot/internal/store"
	"github.com/roach88/appshot/internal/testutil"
)

func TestVerify_Success(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "shots", "app.png")

	stdout, err := execute(t, env.options(), "verify", "-o", out, "./node_modules/.bin/electron", ".")
	require.NoError(t, err)

	assert.Contains(t, stdout, "✓ electron: captured "+out)
	assert.Contains(t, stdout, "64x48")
	assert.FileExists(t, out)

	targets := env.fallback.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "./node_modules/.bin/electron", targets[0].Executable)
	assert.Equal(t, []string{"."}, targets[0].Args)
	assert.True(t, targets[0].Headless, "headless comes from config by default")

	requireAllExited(t, env.fallback)
}

func TestVerify_ArgsPassThrough(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "app.png")

	_, err := execute(t, env.options(), "verify", "-o", out, "my-app", "--inspect", "-o", "other")
	require.NoError(t, err)

	targets := env.fallback.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, []string{"--inspect", "-o", "other"}, targets[0].Args)
}

func TestVerify_Headful(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "app.png")

	_, err := execute(t, env.options(), "verify", "--headless=false", "-o", out, "my-app")
	require.NoError(t, err)

	targets := env.fallback.Targets()
	require.Len(t, targets, 1)
	assert.False(t, targets[0].Headless)
}

func TestVerify_JSONOutput(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "app.png")

	stdout, err := execute(t, env.options(), "--format", "json", "verify", "--name", "shell", "-o", out, "my-app")
	require.NoError(t, err)

	var resp struct {
		Status    string `json:"status"`
		SessionID string `json:"session_id"`
		Data      struct {
			Name      string `json:"name"`
			Status    string `json:"status"`
			SessionID string `json:"session_id"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			Steps     []struct {
				Step    string `json:"step"`
				Outcome string `json:"outcome"`
			} `json:"steps"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.SessionID)
	assert.Equal(t, "shell", resp.Data.Name)
	assert.Equal(t, "ok", resp.Data.Status)
	assert.Equal(t, "run-1", resp.Data.SessionID)
	assert.Equal(t, 64, resp.Data.Width)
	assert.Equal(t, 48, resp.Data.Height)

	var steps []string
	for _, s := range resp.Data.Steps {
		steps = append(steps, s.Step)
		assert.Equal(t, "ok", s.Outcome, s.Step)
	}
	assert.Equal(t, []string{"launch", "acquire", "await", "capture", "teardown"}, steps)
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(l *testutil.FakeLauncher)
		args     []string
		wantCode string
		wantKind harness.ErrorKind
	}{
		{
			name:     "launch error",
			setup:    func(l *testutil.FakeLauncher) { l.LaunchErr = errors.New("spawn failed") },
			wantCode: ErrCodeLaunch,
			wantKind: harness.KindLaunch,
		},
		{
			name:     "no surface",
			setup:    func(l *testutil.FakeLauncher) { l.HideSurfaces = true },
			args:     []string{"--timeout", "150ms"},
			wantCode: ErrCodeNoSurface,
			wantKind: harness.KindNoSurface,
		},
		{
			name:     "never ready",
			setup:    func(l *testutil.FakeLauncher) { l.NeverReady = true },
			args:     []string{"--timeout", "150ms"},
			wantCode: ErrCodeTimeout,
			wantKind: harness.KindTimeout,
		},
		{
			name:     "screenshot fails",
			setup:    func(l *testutil.FakeLauncher) { l.ShotErr = errors.New("gpu lost") },
			wantCode: ErrCodeCapture,
			wantKind: harness.KindCapture,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env.fallback)
			out := filepath.Join(t.TempDir(), "app.png")

			args := append([]string{"verify", "-o", out}, tt.args...)
			args = append(args, "my-app")
			stdout, err := execute(t, env.options(), args...)

			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Equal(t, tt.wantCode, ErrorCode(err))
			kind, ok := harness.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
			assert.Contains(t, stdout, "Error ["+tt.wantCode+"]")
			assert.NoFileExists(t, out)

			requireAllExited(t, env.fallback)
			for _, app := range env.fallback.Apps() {
				assert.Equal(t, 1, app.CloseCount())
			}
		})
	}
}

func TestVerify_FailureJSON(t *testing.T) {
	env := newTestEnv(t)
	env.fallback.NeverReady = true
	out := filepath.Join(t.TempDir(), "app.png")

	stdout, err := execute(t, env.options(), "--format", "json", "verify", "--timeout", "100ms", "-o", out, "my-app")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status    string `json:"status"`
		SessionID string `json:"session_id"`
		Error     struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details []struct {
				Step    string `json:"step"`
				Outcome string `json:"outcome"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))

	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "run-1", resp.SessionID, "failed runs still report their session")
	assert.Equal(t, ErrCodeTimeout, resp.Error.Code)
	require.NotEmpty(t, resp.Error.Details)
	last := resp.Error.Details[len(resp.Error.Details)-1]
	assert.Equal(t, "teardown", last.Step)
	assert.Equal(t, "ok", last.Outcome)
}

func TestVerify_MissingOutput(t *testing.T) {
	env := newTestEnv(t)

	_, err := execute(t, env.options(), "verify", "my-app")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Empty(t, env.fallback.Targets(), "nothing is launched without an output path")
}

func TestVerify_MissingExecutable(t *testing.T) {
	env := newTestEnv(t)

	_, err := execute(t, env.options(), "verify", "-o", "x.png")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerify_InvalidDriver(t *testing.T) {
	env := newTestEnv(t)

	stdout, err := execute(t, env.options(), "verify", "--driver", "browser", "-o", "x.png", "my-app")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeUsage)
	assert.Empty(t, env.Specs())
}

func TestVerify_DisplayDriver(t *testing.T) {
	env := newTestEnv(t)
	display := env.forDriver(t, manifest.DriverDisplay)
	out := filepath.Join(t.TempDir(), "desk.png")

	_, err := execute(t, env.options(), "verify", "--driver", "display", "-o", out, "xclock")
	require.NoError(t, err)

	specs := env.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, manifest.DriverDisplay, specs[0].Driver)
	assert.Len(t, display.Targets(), 1)
	assert.Empty(t, env.fallback.Targets())
}

func TestVerify_RecordsLedger(t *testing.T) {
	env := newTestEnv(t)
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	dir := t.TempDir()

	opts := env.options()

	_, err := execute(t, opts, "verify", "--db", dbPath, "-o", filepath.Join(dir, "ok.png"), "my-app")
	require.NoError(t, err)

	env.fallback.ShotErr = errors.New("gpu lost")
	_, err = execute(t, opts, "verify", "--db", dbPath, "--name", "broken", "-o", filepath.Join(dir, "bad.png"), "my-app")
	require.Error(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.Equal(t, "broken", runs[0].Name)
	assert.Equal(t, harness.OutcomeFailed, runs[0].Status)
	assert.Equal(t, string(harness.KindCapture), runs[0].ErrorKind)
	assert.Equal(t, "my-app", runs[1].Name)
	assert.Equal(t, harness.OutcomeOK, runs[1].Status)
	assert.Equal(t, "my-app", runs[1].Executable)
	assert.Equal(t, 64, runs[1].Width)
	assert.NotEmpty(t, runs[1].SHA256)
}

func TestVerify_ReplacesExistingOutput(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "app.png")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	_, err := execute(t, env.options(), "verify", "-o", out, "my-app")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, testutil.PNG(64, 48), data)
}
