package cli

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/appshot/internal/cdp"
	"github.com/roach88/appshot/internal/manifest"
)

func TestPreview_CapturesURL(t *testing.T) {
	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "preview.png")

	stdout, err := execute(t, env.options(), "preview", "http://localhost:8080/about",
		"-o", out, "--browser", "fake-browser", "--full-page", "--settle", "50ms")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ preview: captured "+out)
	assert.FileExists(t, out)

	specs := env.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, manifest.DriverBrowser, specs[0].Driver)
	assert.Equal(t, "http://localhost:8080/about", specs[0].URL)
	assert.Equal(t, cdp.Viewport{Width: 1365, Height: 768}, specs[0].Viewport)
	assert.True(t, specs[0].FullPage)
	assert.Equal(t, 50*time.Millisecond, specs[0].Settle)

	targets := env.fallback.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "fake-browser", targets[0].Executable)
	requireAllExited(t, env.fallback)
}

func TestPreview_DefaultURLAndViewport(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Browser.Bin = "configured-browser"
	out := filepath.Join(t.TempDir(), "preview.png")

	_, err := execute(t, env.options(), "preview", "-o", out, "--viewport", "1280x800")
	require.NoError(t, err)

	specs := env.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "http://localhost:4173", specs[0].URL)
	assert.Equal(t, cdp.Viewport{Width: 1280, Height: 800}, specs[0].Viewport)
	assert.Equal(t, "configured-browser", env.fallback.Targets()[0].Executable)
}

func TestPreview_InvalidViewport(t *testing.T) {
	env := newTestEnv(t)

	stdout, err := execute(t, env.options(), "preview", "-o", "x.png", "--viewport", "wide")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeUsage)
	assert.Empty(t, env.Specs())
}

func TestPreview_ServeWaitsForServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := newTestEnv(t)
	out := filepath.Join(t.TempDir(), "preview.png")

	_, err := execute(t, env.options(), "preview", srv.URL,
		"--serve", "sleep 30", "-o", out, "--browser", "fake-browser")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.FileExists(t, out)
}

func TestPreview_ServeCommandMissing(t *testing.T) {
	env := newTestEnv(t)

	stdout, err := execute(t, env.options(), "preview", "--serve", "appshot-no-such-server --port 1", "-o", "x.png")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeServe)
	assert.Empty(t, env.Specs(), "no browser is started without a server")
}

func TestPreview_ServerNeverReady(t *testing.T) {
	env := newTestEnv(t)

	// "true" exits at once and nothing listens on port 1.
	stdout, err := execute(t, env.options(), "preview", "http://127.0.0.1:1/",
		"--serve", "true", "-o", "x.png", "--browser", "fake-browser")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeServe)
	assert.Empty(t, env.fallback.Targets())
}

func TestPreview_CaptureFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fallback.NeverReady = true

	stdout, err := execute(t, env.options(), "preview", "http://localhost:8080/",
		"-o", filepath.Join(t.TempDir(), "p.png"), "--browser", "fake-browser", "--timeout", "100ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeTimeout)
	requireAllExited(t, env.fallback)
}

func TestPreview_FullPageFromConfig(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	_, err := execute(t, env.options(), "preview", "-o", filepath.Join(dir, "a.png"), "--browser", "fake-browser")
	require.NoError(t, err)

	env.cfg.Preview.FullPage = false
	_, err = execute(t, env.options(), "preview", "-o", filepath.Join(dir, "b.png"), "--browser", "fake-browser")
	require.NoError(t, err)

	_, err = execute(t, env.options(), "preview", "--full-page", "-o", filepath.Join(dir, "c.png"), "--browser", "fake-browser")
	require.NoError(t, err)

	specs := env.Specs()
	require.Len(t, specs, 3)
	assert.True(t, specs[0].FullPage, "full page is the default")
	assert.False(t, specs[1].FullPage)
	assert.True(t, specs[2].FullPage, "an explicit flag wins over config")
}

func TestPreview_BuildRunsFirst(t *testing.T) {
	env := newTestEnv(t)
	dist := filepath.Join(t.TempDir(), "dist")
	out := filepath.Join(t.TempDir(), "preview.png")

	_, err := execute(t, env.options(), "preview", "http://localhost:8080/",
		"--build", "mkdir "+dist, "-o", out, "--browser", "fake-browser")
	require.NoError(t, err)

	info, err := os.Stat(dist)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.FileExists(t, out)
}

func TestPreview_BuildFails(t *testing.T) {
	env := newTestEnv(t)

	stdout, err := execute(t, env.options(), "preview", "http://localhost:8080/",
		"--build", "false", "--serve", "sleep 30", "-o", "x.png", "--browser", "fake-browser")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeBuild)
	assert.Empty(t, env.Specs(), "nothing is served or captured after a failed build")
}

func TestPreview_ServeFromConfig(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Preview.Serve = "appshot-no-such-server"

	stdout, err := execute(t, env.options(), "preview", "-o", "x.png", "--browser", "fake-browser")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeServe)
}
