package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{SearchPaths: []string{t.TempDir()}})
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.ExitGrace)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "app", cfg.Driver)
	assert.Empty(t, cfg.DB)
	assert.Equal(t, "1365x768", cfg.Browser.Viewport)
	assert.Equal(t, 2*time.Second, cfg.Display.Settle)
	assert.Equal(t, time.Second, cfg.Browser.Settle)
	assert.Equal(t, 500*time.Millisecond, cfg.Browser.Idle)
	assert.True(t, cfg.Preview.FullPage)
	assert.Empty(t, cfg.Preview.Build)
	assert.Empty(t, cfg.Preview.Serve)
	assert.Equal(t, 30, cfg.Preview.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Preview.Interval)
	assert.Equal(t, "http://localhost:4173", cfg.Preview.URL)
	assert.Empty(t, cfg.File)
}

func TestLoad_SearchPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "appshot.yaml", `
timeout: 45s
headless: false
db: runs.db
browser:
  viewport: 800x600
  flags: ["disable-gpu", "lang=en-US"]
display:
  settle: 500ms
`)

	cfg, err := Load(Options{SearchPaths: []string{dir}})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.False(t, cfg.Headless)
	assert.Equal(t, "runs.db", cfg.DB)
	assert.Equal(t, "800x600", cfg.Browser.Viewport)
	assert.Equal(t, []string{"disable-gpu", "lang=en-US"}, cfg.Browser.Flags)
	assert.Equal(t, 500*time.Millisecond, cfg.Display.Settle)
	assert.Equal(t, 5*time.Second, cfg.ExitGrace, "unset keys keep defaults")
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "custom.yaml", "timeout: 2m\ndriver: display\n")

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, "display", cfg.Driver)
}

func TestLoad_ExplicitFileMissing(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_Environment(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "appshot.yaml", "timeout: 45s\n")

	t.Setenv("APPSHOT_TIMEOUT", "10s")
	t.Setenv("APPSHOT_HEADLESS", "false")
	t.Setenv("APPSHOT_BROWSER_VIEWPORT", "1024x768")
	t.Setenv("APPSHOT_PREVIEW_ATTEMPTS", "5")

	cfg, err := Load(Options{SearchPaths: []string{dir}})
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Timeout, "environment beats file")
	assert.False(t, cfg.Headless)
	assert.Equal(t, "1024x768", cfg.Browser.Viewport)
	assert.Equal(t, 5, cfg.Preview.Attempts)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"negative timeout", "timeout: -1s\n", "timeout must be positive"},
		{"unknown driver", "driver: webview\n", "driver must be app or display"},
		{"zero attempts", "preview:\n  attempts: 0\n", "preview.attempts"},
		{"bad yaml", "timeout: [\n", "read config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "appshot.yaml", tt.content)

			_, err := Load(Options{SearchPaths: []string{dir}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.File)
}

func TestDefault_IgnoresEnvironment(t *testing.T) {
	t.Setenv("APPSHOT_TIMEOUT", "5s")
	t.Setenv("APPSHOT_DRIVER", "bogus")

	var cfg *Config
	require.NotPanics(t, func() { cfg = Default() })
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "app", cfg.Driver)
}

func TestLoad_IgnoreEnv(t *testing.T) {
	t.Setenv("APPSHOT_TIMEOUT", "5s")

	cfg, err := Load(Options{SearchPaths: []string{t.TempDir()}})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	cfg, err = Load(Options{SearchPaths: []string{t.TempDir()}, IgnoreEnv: true})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}
