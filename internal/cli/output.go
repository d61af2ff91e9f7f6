package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/appshot/internal/harness"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Verification failure (launch, surface, timeout, capture)
	ExitCommandError = 2 // Command error (bad flags, unreadable manifest, database not found, etc.)
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric   = "E001" // Generic/unknown error
	ErrCodeNotFound  = "E005" // Path not found
	ErrCodeManifest  = "E010" // Manifest invalid
	ErrCodeConfig    = "E020" // Config invalid
	ErrCodeLedger    = "E030" // Run ledger unavailable
	ErrCodeUsage     = "E040" // Invalid flag value
	ErrCodeServe     = "E050" // Preview server failed
	ErrCodeBuild     = "E051" // Preview build failed
	ErrCodeLaunch    = "E_LAUNCH"
	ErrCodeNoSurface = "E_NO_SURFACE"
	ErrCodeTimeout   = "E_TIMEOUT"
	ErrCodeCapture   = "E_CAPTURE"
)

// ErrorCode maps a verification failure to its CLI error code.
func ErrorCode(err error) string {
	kind, ok := harness.KindOf(err)
	if !ok {
		return ErrCodeGeneric
	}
	switch kind {
	case harness.KindLaunch:
		return ErrCodeLaunch
	case harness.KindNoSurface:
		return ErrCodeNoSurface
	case harness.KindTimeout:
		return ErrCodeTimeout
	case harness.KindCapture:
		return ErrCodeCapture
	default:
		return ErrCodeGeneric
	}
}

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError (2) if the error is not an ExitError: those come
// from cobra itself (unknown flags, missing arguments).
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool

	// SessionID is attached to JSON responses when set.
	SessionID string
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status    string      `json:"status"`               // "ok" or "error"
	Data      interface{} `json:"data,omitempty"`       // success payload
	Error     *CLIError   `json:"error,omitempty"`      // error details
	SessionID string      `json:"session_id,omitempty"` // verification session, when there is one
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E_TIMEOUT", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status:    "ok",
			Data:      data,
			SessionID: f.SessionID,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
			SessionID: f.SessionID,
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
