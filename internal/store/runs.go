package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/report"
)

// ErrNotFound is returned by GetRun for unknown ids.
var ErrNotFound = errors.New("run not found")

// Run is one recorded verification.
type Run struct {
	Seq        int64               `json:"seq"`
	ID         string              `json:"id"`
	Batch      string              `json:"batch,omitempty"`
	Name       string              `json:"name,omitempty"`
	Driver     string              `json:"driver"`
	Executable string              `json:"executable,omitempty"`
	Output     string              `json:"output"`
	Status     string              `json:"status"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	Error      string              `json:"error,omitempty"`
	ElapsedMS  int64               `json:"elapsed_ms"`
	Bytes      int64               `json:"bytes,omitempty"`
	SHA256     string              `json:"sha256,omitempty"`
	Width      int                 `json:"width,omitempty"`
	Height     int                 `json:"height,omitempty"`
	Steps      []harness.StepEvent `json:"steps"`
	StartedAt  time.Time           `json:"started_at"`
}

// RecordRun inserts a run.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - recording the same
// session twice is silently ignored.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return errors.New("record run: id is required")
	}
	if r.Status != harness.OutcomeOK && r.Status != harness.OutcomeFailed {
		return fmt.Errorf("record run: invalid status %q", r.Status)
	}

	steps := r.Steps
	if steps == nil {
		steps = []harness.StepEvent{}
	}
	stepsJSON, err := report.Canonical(steps)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, batch, name, driver, executable, output, status, error_kind, error,
		 elapsed_ms, bytes, sha256, width, height, steps, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		r.Batch,
		r.Name,
		r.Driver,
		r.Executable,
		r.Output,
		r.Status,
		r.ErrorKind,
		r.Error,
		r.ElapsedMS,
		r.Bytes,
		r.SHA256,
		r.Width,
		r.Height,
		string(stepsJSON),
		r.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Filter narrows ListRuns.
type Filter struct {
	// Limit caps the number of rows. Zero means no limit.
	Limit int

	// Name, when set, selects runs of one verification.
	Name string

	// Status, when set, selects "ok" or "failed" runs.
	Status string
}

const selectRuns = `
	SELECT seq, id, batch, name, driver, executable, output, status, error_kind, error,
	       elapsed_ms, bytes, sha256, width, height, steps, started_at
	FROM runs`

// ListRuns returns the most recently recorded runs first.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListRuns(ctx context.Context, f Filter) ([]Run, error) {
	query := selectRuns + `
	WHERE (? = '' OR name = ?) AND (? = '' OR status = ?)
	ORDER BY seq DESC`
	args := []any{f.Name, f.Name, f.Status, f.Status}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns the run with the given id, or ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r         Run
		stepsJSON string
		startedAt string
	)
	err := sc.Scan(
		&r.Seq, &r.ID, &r.Batch, &r.Name, &r.Driver, &r.Executable, &r.Output,
		&r.Status, &r.ErrorKind, &r.Error, &r.ElapsedMS, &r.Bytes, &r.SHA256,
		&r.Width, &r.Height, &stepsJSON, &startedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(stepsJSON), &r.Steps); err != nil {
		return Run{}, fmt.Errorf("decode steps of run %s: %w", r.ID, err)
	}
	r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("decode started_at of run %s: %w", r.ID, err)
	}
	return r, nil
}
