package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/store"
)

// seedLedger records two runs of "shell" and one failed run of "preview".
func seedLedger(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok := []harness.StepEvent{
		{Step: harness.StepLaunch, Outcome: harness.OutcomeOK, ElapsedMS: 400},
		{Step: harness.StepCapture, Outcome: harness.OutcomeOK, ElapsedMS: 30},
	}
	runs := []store.Run{
		{ID: "run-a", Name: "shell", Driver: "app", Executable: "electron", Output: "a.png", Status: harness.OutcomeOK,
			ElapsedMS: 1200, Bytes: 512, SHA256: "abc123", Width: 64, Height: 48, Steps: ok, StartedAt: started},
		{ID: "run-b", Batch: "nightly", Name: "preview", Driver: "browser", Output: "p.png", Status: harness.OutcomeFailed,
			ErrorKind: string(harness.KindTimeout), Error: "TimeoutError: surface not ready after 30s",
			ElapsedMS: 30000, StartedAt: started.Add(time.Minute)},
		{ID: "run-c", Name: "shell", Driver: "app", Executable: "electron", Output: "a.png", Status: harness.OutcomeOK,
			ElapsedMS: 900, Steps: ok, StartedAt: started.Add(2 * time.Minute)},
	}
	for _, r := range runs {
		require.NoError(t, st.RecordRun(context.Background(), r))
	}
	return path
}

func TestHistory_List(t *testing.T) {
	env := newTestEnv(t)
	db := seedLedger(t)

	stdout, err := execute(t, env.options(), "history", "--db", db)
	require.NoError(t, err)

	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, "STATUS")
	assert.Contains(t, stdout, "run-a")
	assert.Contains(t, stdout, "TimeoutError")
	// Newest first.
	assert.Less(t, strings.Index(stdout, "run-c"), strings.Index(stdout, "run-a"))
}

func TestHistory_Filters(t *testing.T) {
	env := newTestEnv(t)
	db := seedLedger(t)

	stdout, err := execute(t, env.options(), "--format", "json", "history", "--db", db, "--name", "shell", "--limit", "1")
	require.NoError(t, err)

	var resp struct {
		Data []store.Run `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "run-c", resp.Data[0].ID)

	stdout, err = execute(t, env.options(), "--format", "json", "history", "--db", db, "--failed")
	require.NoError(t, err)
	resp.Data = nil
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "run-b", resp.Data[0].ID)
	assert.Equal(t, "nightly", resp.Data[0].Batch)
}

func TestHistory_Show(t *testing.T) {
	env := newTestEnv(t)
	db := seedLedger(t)

	stdout, err := execute(t, env.options(), "history", "--db", db, "run-a")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Run run-a")
	assert.Contains(t, stdout, "image:    64x48, 512 bytes, sha256 abc123")
	assert.Contains(t, stdout, "launch")
	assert.Contains(t, stdout, "400ms")
}

func TestHistory_ShowNotFound(t *testing.T) {
	env := newTestEnv(t)
	db := seedLedger(t)

	stdout, err := execute(t, env.options(), "history", "--db", db, "run-z")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeNotFound)
}

func TestHistory_Empty(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "new.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	stdout, err := execute(t, env.options(), "history", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No runs recorded.")
}

func TestHistory_MissingLedger(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "typo.db")

	stdout, err := execute(t, env.options(), "history", "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeNotFound)
	assert.Contains(t, stdout, "ledger not found")
	assert.NoFileExists(t, path, "reading history never creates a ledger")
}

func TestHistory_NoLedger(t *testing.T) {
	env := newTestEnv(t)

	stdout, err := execute(t, env.options(), "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, ErrCodeLedger)
}

func TestHistory_ConfigLedger(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.DB = seedLedger(t)

	stdout, err := execute(t, env.options(), "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "run-b")
}
