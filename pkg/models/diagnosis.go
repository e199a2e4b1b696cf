package models

import (
	"fmt"
	"strings"
	"time"
)

// DiagnosisEntry is the final status of one node in a strategy run
type DiagnosisEntry struct {
	Name         string     `json:"name"`
	Kind         NodeKind   `json:"kind"`
	Status       NodeStatus `json:"status"`
	Detail       string     `json:"detail,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Triggers     []string   `json:"triggers,omitempty"`
}

// RepairRecord is one repair action execution, in the order it happened
type RepairRecord struct {
	Action    string        `json:"action"`
	Targets   []string      `json:"targets"`
	Result    Outcome       `json:"result"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Diagnosis is the per-node health report produced by one strategy invocation
type Diagnosis struct {
	ID          string           `json:"id"`
	Host        string           `json:"host"`
	Strategy    string           `json:"strategy"`
	State       HostState        `json:"state"`
	Healthy     bool             `json:"healthy"`
	AbortCause  string           `json:"abort_cause,omitempty"`
	Entries     []DiagnosisEntry `json:"entries"`
	Repairs     []RepairRecord   `json:"repairs,omitempty"`
	Transitions []HostState      `json:"transitions"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// NewDiagnosis creates an empty diagnosis in the unknown state
func NewDiagnosis(id, host, strategy string) *Diagnosis {
	return &Diagnosis{
		ID:          id,
		Host:        host,
		Strategy:    strategy,
		State:       HostStateUnknown,
		Entries:     []DiagnosisEntry{},
		Transitions: []HostState{HostStateUnknown},
		StartedAt:   time.Now(),
	}
}

// AddEntry registers a node with NotRun status
func (d *Diagnosis) AddEntry(name string, kind NodeKind, detail string, dependencies, triggers []string) {
	d.Entries = append(d.Entries, DiagnosisEntry{
		Name:         name,
		Kind:         kind,
		Status:       NotRunStatus(),
		Detail:       detail,
		Dependencies: dependencies,
		Triggers:     triggers,
	})
}

// Entry returns the entry for name, or nil
func (d *Diagnosis) Entry(name string) *DiagnosisEntry {
	for i := range d.Entries {
		if d.Entries[i].Name == name {
			return &d.Entries[i]
		}
	}
	return nil
}

// Status returns the status of name; unknown names report NotRun
func (d *Diagnosis) Status(name string) NodeStatus {
	if e := d.Entry(name); e != nil {
		return e.Status
	}
	return NotRunStatus()
}

// SetStatus overwrites the status of name
func (d *Diagnosis) SetStatus(name string, status NodeStatus) {
	if e := d.Entry(name); e != nil {
		e.Status = status
	}
}

// FailedVerifiers returns verifier names currently Failed, in entry order
func (d *Diagnosis) FailedVerifiers() []string {
	var failed []string
	for _, e := range d.Entries {
		if e.Kind == NodeKindVerifier && e.Status.State == NodeStateFailed {
			failed = append(failed, e.Name)
		}
	}
	return failed
}

// VerifiersPassed reports whether every verifier has status Passed
func (d *Diagnosis) VerifiersPassed() bool {
	for _, e := range d.Entries {
		if e.Kind == NodeKindVerifier && !e.Status.IsPassed() {
			return false
		}
	}
	return true
}

// RecordRepair appends a repair execution to the audit trail
func (d *Diagnosis) RecordRepair(record RepairRecord) {
	d.Repairs = append(d.Repairs, record)
}

// Transition moves the diagnosis to next, enforcing the host state machine
func (d *Diagnosis) Transition(next HostState) error {
	if err := d.State.ValidateTransition(next); err != nil {
		return err
	}
	d.State = next
	d.Transitions = append(d.Transitions, next)
	return nil
}

// Complete stamps the completion time and computes overall health
func (d *Diagnosis) Complete() {
	now := time.Now()
	d.CompletedAt = &now
	d.Healthy = d.VerifiersPassed()
}

// Duration returns the run duration
func (d *Diagnosis) Duration() time.Duration {
	end := time.Now()
	if d.CompletedAt != nil {
		end = *d.CompletedAt
	}
	return end.Sub(d.StartedAt)
}

// Summary renders a plain-text report of the run
func (d *Diagnosis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnosis %s for %s (strategy %s): %s\n", d.ID, d.Host, d.Strategy, d.State)
	if d.AbortCause != "" {
		fmt.Fprintf(&b, "  aborted: %s\n", d.AbortCause)
	}
	for _, e := range d.Entries {
		fmt.Fprintf(&b, "  %-8s %-24s %s\n", e.Kind, e.Name, e.Status)
	}
	for _, r := range d.Repairs {
		fmt.Fprintf(&b, "  repair %s on [%s] -> %s (%s)\n",
			r.Action, strings.Join(r.Targets, ","), r.Result, r.Duration.Round(time.Millisecond))
	}
	return b.String()
}
