package models

import "fmt"

// OutcomeKind tags the result of a verifier check or a repair attempt
type OutcomeKind string

const (
	// OutcomePassed indicates the check or repair succeeded
	OutcomePassed OutcomeKind = "passed"
	// OutcomeFailed indicates an ordinary, potentially repairable condition
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeError indicates the host can no longer be trusted for further checks
	OutcomeError OutcomeKind = "error"
)

// Outcome is the tagged result of a single node execution
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

// Passed returns a passing outcome
func Passed() Outcome {
	return Outcome{Kind: OutcomePassed}
}

// Failed returns a failing outcome with the given reason
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// Errored returns an infrastructure error outcome with the given reason
func Errored(reason string) Outcome {
	return Outcome{Kind: OutcomeError, Reason: reason}
}

// IsPassed reports whether the outcome passed
func (o Outcome) IsPassed() bool {
	return o.Kind == OutcomePassed
}

// String returns a human-readable representation
func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}
