package ir

import "time"

// Status is the outcome class of one (engine, case) execution.
type Status string

// Test statuses.
const (
	// StatusPassed means the engine ran and satisfied the case's assertions.
	StatusPassed Status = "passed"

	// StatusFailed means the engine ran and produced a provably wrong outcome.
	StatusFailed Status = "failed"

	// StatusSkipped means the case was not applicable: an unmet dependency
	// or a capability the engine does not have.
	StatusSkipped Status = "skipped"

	// StatusError is reserved for execution-infrastructure failures: crash,
	// timeout, malformed catalog entry.
	StatusError Status = "error"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusError:
		return true
	}
	return false
}

// TestResult is the outcome record for one case on one engine.
// Created exactly once per (engine, case) per run; never mutated afterwards.
type TestResult struct {
	Set     string        `json:"test_set"`
	Case    string        `json:"test_case"`
	Status  Status        `json:"status"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Message string        `json:"message,omitempty"`
}

// ID returns the case identity "set/case".
func (r TestResult) ID() string {
	return r.Set + "/" + r.Case
}
