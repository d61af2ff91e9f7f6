package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/report"
	"github.com/roach88/appshot/internal/store"
)

// ledger records verification outcomes when a database is configured.
// A nil *ledger records nothing.
type ledger struct {
	st     *store.Store
	logger *slog.Logger
}

// openLedger opens the run ledger at path. An empty path disables it.
func openLedger(path string, logger *slog.Logger) (*ledger, error) {
	if path == "" {
		return nil, nil
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("run ledger open", "path", path)
	return &ledger{st: st, logger: logger}, nil
}

func (l *ledger) Close() {
	if l == nil {
		return
	}
	if err := l.st.Close(); err != nil {
		l.logger.Error("error closing database", "error", err)
	}
}

// record stores one result. Failures are logged, never returned: a broken
// ledger must not turn a passing verification into a failing one.
func (l *ledger) record(ctx context.Context, batch string, res report.Result, req harness.Request, started time.Time) {
	if l == nil {
		return
	}

	id := res.SessionID
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	run := store.Run{
		ID:         id,
		Batch:      batch,
		Name:       res.Name,
		Driver:     res.Driver,
		Executable: req.Executable,
		Output:     res.Output,
		Status:     res.Status,
		ErrorKind:  res.ErrorKind,
		Error:      res.Error,
		ElapsedMS:  res.ElapsedMS,
		Bytes:      res.Bytes,
		SHA256:     res.SHA256,
		Width:      res.Width,
		Height:     res.Height,
		Steps:      res.Steps,
		StartedAt:  started,
	}

	// The caller's context may be cancelled already; the row still matters.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := l.st.RecordRun(ctx, run); err != nil {
		l.logger.Error("failed to record run", "id", id, "error", err)
		return
	}
	l.logger.Debug("run recorded", "id", id, "status", run.Status)
}
