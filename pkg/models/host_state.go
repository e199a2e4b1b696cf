package models

import "fmt"

// HostState is the per-host health state of a single strategy run
type HostState string

const (
	HostStateUnknown     HostState = "unknown"
	HostStateVerifying   HostState = "verifying"
	HostStateNeedsRepair HostState = "needs_repair"
	HostStateRepairing   HostState = "repairing"
	HostStateHealthy     HostState = "healthy"
	HostStateBroken      HostState = "broken"
	// HostStateAborted ends a run cut short by an infrastructure error,
	// timeout or cancellation.
	HostStateAborted HostState = "aborted"
)

var hostStateTransitions = map[HostState][]HostState{
	HostStateUnknown:     {HostStateVerifying},
	HostStateVerifying:   {HostStateHealthy, HostStateNeedsRepair, HostStateBroken, HostStateAborted},
	HostStateNeedsRepair: {HostStateRepairing, HostStateBroken, HostStateAborted},
	HostStateRepairing:   {HostStateVerifying, HostStateAborted},
}

// IsTerminal reports whether no transition leaves the state
func (s HostState) IsTerminal() bool {
	return s == HostStateHealthy || s == HostStateBroken || s == HostStateAborted
}

// CanTransition reports whether moving from s to next is allowed
func (s HostState) CanTransition(next HostState) bool {
	for _, allowed := range hostStateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error for a transition outside the state machine
func (s HostState) ValidateTransition(next HostState) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("illegal host state transition %s -> %s", s, next)
	}
	return nil
}
