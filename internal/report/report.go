// Package report renders the outcome of a batch of verifications.
//
// Reports are written as canonical JSON so the same batch produces the same
// bytes, which keeps them diffable and usable as golden files.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/appshot/internal/harness"
)

// Result is the outcome of one verification.
type Result struct {
	Name      string              `json:"name"`
	Driver    string              `json:"driver"`
	Output    string              `json:"output"`
	Status    string              `json:"status"`
	SessionID string              `json:"session_id,omitempty"`
	ErrorKind string              `json:"error_kind,omitempty"`
	Error     string              `json:"error,omitempty"`
	ElapsedMS int64               `json:"elapsed_ms"`
	Bytes     int64               `json:"bytes,omitempty"`
	SHA256    string              `json:"sha256,omitempty"`
	Width     int                 `json:"width,omitempty"`
	Height    int                 `json:"height,omitempty"`
	Steps     []harness.StepEvent `json:"steps"`
}

// Batch collects results in execution order.
type Batch struct {
	Name    string   `json:"name"`
	Total   int      `json:"total"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Results []Result `json:"results"`
}

// NewBatch creates an empty batch report.
func NewBatch(name string) *Batch {
	return &Batch{Name: name, Results: []Result{}}
}

// NewResult builds a Result from what Verify returned.
func NewResult(name, driver, output string, art *harness.Artifact, err error, elapsed time.Duration) Result {
	r := Result{
		Name:      name,
		Driver:    driver,
		Output:    output,
		Status:    harness.OutcomeOK,
		ElapsedMS: elapsed.Milliseconds(),
		Steps:     []harness.StepEvent{},
	}

	if err != nil {
		r.Status = harness.OutcomeFailed
		r.Error = err.Error()
		var verr *harness.VerificationError
		if errors.As(err, &verr) {
			r.ErrorKind = string(verr.Kind)
			if verr.Report != nil {
				r.SessionID = verr.Report.SessionID
				r.Steps = append(r.Steps, verr.Report.Steps...)
			}
		}
		return r
	}

	if art != nil {
		r.SessionID = art.SessionID
		r.Bytes = art.Bytes
		r.SHA256 = art.SHA256
		r.Width = art.Width
		r.Height = art.Height
		if art.Report != nil {
			r.Steps = append(r.Steps, art.Report.Steps...)
		}
	}
	return r
}

// Add appends a result and updates the counters.
func (b *Batch) Add(r Result) {
	b.Results = append(b.Results, r)
	b.Total++
	if r.Status == harness.OutcomeOK {
		b.Passed++
	} else {
		b.Failed++
	}
}

// OK reports whether every verification passed.
func (b *Batch) OK() bool {
	return b.Failed == 0
}

// Write emits the canonical JSON form followed by a newline.
func (b *Batch) Write(w io.Writer) error {
	data, err := Canonical(b)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteFile writes the report to path, creating parent directories.
func (b *Batch) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := b.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
