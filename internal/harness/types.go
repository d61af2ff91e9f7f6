package harness

import "time"

// Request holds the four invocation parameters of a verification.
type Request struct {
	Executable string
	Args       []string
	Output     string
	Headless   bool
}

// State is the lifecycle state of a Session.
type State int

const (
	StateLaunching State = iota
	StateReady
	StateCaptureComplete
	StateClosed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateCaptureComplete:
		return "capture_complete"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Step names one lifecycle step.
type Step string

const (
	StepLaunch   Step = "launch"
	StepAcquire  Step = "acquire"
	StepAwait    Step = "await"
	StepCapture  Step = "capture"
	StepTeardown Step = "teardown"
)

// Step outcomes recorded in a Report.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// StepEvent records how one lifecycle step ended.
type StepEvent struct {
	Step      Step   `json:"step"`
	Outcome   string `json:"outcome"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// Report is the ordered record of a single Verify call.
type Report struct {
	SessionID string      `json:"session_id"`
	Steps     []StepEvent `json:"steps"`
}

// NewReport creates an empty report for a session.
func NewReport(sessionID string) *Report {
	return &Report{
		SessionID: sessionID,
		Steps:     []StepEvent{},
	}
}

// Add appends a step event. A nil err records OutcomeOK.
func (r *Report) Add(step Step, elapsed time.Duration, err error) {
	ev := StepEvent{
		Step:      step,
		Outcome:   OutcomeOK,
		ElapsedMS: elapsed.Milliseconds(),
	}
	if err != nil {
		ev.Outcome = OutcomeFailed
		ev.Error = err.Error()
	}
	r.Steps = append(r.Steps, ev)
}

// Artifact is the capture written by a successful Verify.
type Artifact struct {
	SessionID  string
	Path       string
	Bytes      int64
	SHA256     string
	Width      int
	Height     int
	CapturedAt time.Time
	Report     *Report
}
