package harness

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind names the lifecycle step that failed.
type ErrorKind string

const (
	// KindLaunch indicates the executable could not be started or exited immediately.
	KindLaunch ErrorKind = "LaunchError"

	// KindNoSurface indicates no surface appeared within the timeout.
	KindNoSurface ErrorKind = "NoSurfaceError"

	// KindTimeout indicates the surface never signalled load-complete.
	KindTimeout ErrorKind = "TimeoutError"

	// KindCapture indicates rendering or writing the image failed.
	KindCapture ErrorKind = "CaptureError"
)

// VerificationError is returned by Verify for every failure.
//
// Only the context fields relevant to the failing step are populated:
// Executable for launch failures, Elapsed for wait failures, Output (and the
// wrapped filesystem error) for capture failures.
type VerificationError struct {
	Kind       ErrorKind
	Step       Step
	Executable string
	Output     string
	Elapsed    time.Duration
	Err        error

	// Report holds the step events recorded up to and including teardown.
	Report *Report
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	var detail string
	switch e.Kind {
	case KindLaunch:
		// Drivers with a default binary (the system browser) leave
		// Executable empty; their own error names what they tried.
		if e.Executable == "" && e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		detail = fmt.Sprintf("launch %s", e.Executable)
	case KindNoSurface:
		detail = fmt.Sprintf("no surface after %s", e.Elapsed.Round(time.Millisecond))
	case KindTimeout:
		detail = fmt.Sprintf("surface not ready after %s", e.Elapsed.Round(time.Millisecond))
	case KindCapture:
		detail = fmt.Sprintf("capture to %s", e.Output)
	default:
		detail = string(e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, detail)
}

// Unwrap returns the underlying cause.
func (e *VerificationError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) (ErrorKind, bool) {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return "", false
}

// IsLaunchError returns true if err is a launch failure.
func IsLaunchError(err error) bool { return isKind(err, KindLaunch) }

// IsNoSurfaceError returns true if err is a missing-surface failure.
func IsNoSurfaceError(err error) bool { return isKind(err, KindNoSurface) }

// IsTimeoutError returns true if err is a readiness timeout.
func IsTimeoutError(err error) bool { return isKind(err, KindTimeout) }

// IsCaptureError returns true if err is a capture failure.
func IsCaptureError(err error) bool { return isKind(err, KindCapture) }

func isKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
