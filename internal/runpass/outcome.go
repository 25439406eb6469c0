package runpass

import (
	"time"
)

// Status is the classification of one fixture run.
type Status int

const (
	// StatusPass means the binary exited successfully.
	StatusPass Status = iota

	// StatusFail means the fixture could not be run or exited unsuccessfully.
	StatusFail

	// StatusSkip means a fixture directive disabled the fixture for the target.
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "ok"
	case StatusFail:
		return "FAILED"
	case StatusSkip:
		return "ignored"
	default:
		return "unknown"
	}
}

// Reason explains a failed outcome.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonLaunch   Reason = "launch error"
	ReasonExit     Reason = "unexpected failure"
	ReasonTimeout  Reason = "timeout"
	ReasonFixture  Reason = "unreadable fixture"
	ReasonCanceled Reason = "canceled"
)

// Outcome is the result of running one fixture under one target.
type Outcome struct {
	// Mode names the fixture class, e.g. run-pass.
	Mode string

	Target  string
	Fixture string
	Status  Status
	Reason  Reason

	// ExitCode is the exit status of the binary, or -1 if it did not exit
	// normally.
	ExitCode int

	Stdout string
	Stderr string

	// Err holds the launch, timeout or fixture error.
	Err error

	// Note carries the skip reason or other context for the report.
	Note string

	Duration time.Duration
}

// Failed reports whether the outcome counts against the run verdict.
func (o Outcome) Failed() bool {
	return o.Status == StatusFail
}
