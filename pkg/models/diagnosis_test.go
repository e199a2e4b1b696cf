package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiagnosis() *Diagnosis {
	d := NewDiagnosis("diag-1", "labstation-1", "labstation")
	d.AddEntry("ssh", NodeKindVerifier, "host is reachable", nil, nil)
	d.AddEntry("update", NodeKindVerifier, "", []string{"ssh"}, nil)
	d.AddEntry("rpm", NodeKindRepair, "", nil, []string{"ssh"})
	return d
}

func TestNewDiagnosis(t *testing.T) {
	d := newTestDiagnosis()

	assert.Equal(t, HostStateUnknown, d.State)
	assert.Equal(t, []HostState{HostStateUnknown}, d.Transitions)
	assert.Len(t, d.Entries, 3)
	assert.Equal(t, NodeStateNotRun, d.Status("ssh").State)
	assert.Equal(t, NodeStateNotRun, d.Status("missing").State)
	assert.Nil(t, d.Entry("missing"))
}

func TestDiagnosis_FailedVerifiersIgnoresRepairsAndBlocked(t *testing.T) {
	d := newTestDiagnosis()
	d.SetStatus("ssh", FailedStatus("unreachable"))
	d.SetStatus("update", BlockedStatus("ssh"))
	d.SetStatus("rpm", FailedStatus("outlet busy"))

	assert.Equal(t, []string{"ssh"}, d.FailedVerifiers())
	assert.False(t, d.VerifiersPassed())
}

func TestDiagnosis_CompleteComputesHealth(t *testing.T) {
	d := newTestDiagnosis()
	d.SetStatus("ssh", PassedStatus())
	d.SetStatus("update", PassedStatus())

	d.Complete()

	assert.True(t, d.Healthy)
	require.NotNil(t, d.CompletedAt)
	assert.GreaterOrEqual(t, d.Duration(), time.Duration(0))
}

func TestDiagnosis_TransitionRejectsIllegalMoves(t *testing.T) {
	d := newTestDiagnosis()

	require.NoError(t, d.Transition(HostStateVerifying))
	require.NoError(t, d.Transition(HostStateNeedsRepair))
	require.NoError(t, d.Transition(HostStateRepairing))
	require.NoError(t, d.Transition(HostStateVerifying))
	require.NoError(t, d.Transition(HostStateHealthy))

	err := d.Transition(HostStateVerifying)
	assert.Error(t, err)
	assert.Equal(t, HostStateHealthy, d.State)
	assert.Len(t, d.Transitions, 6)
}

func TestDiagnosis_JSONRoundTripKeepsLookups(t *testing.T) {
	d := newTestDiagnosis()
	d.SetStatus("ssh", RepairAttemptedStatus("rpm", Passed()))

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var decoded Diagnosis
	require.NoError(t, json.Unmarshal(data, &decoded))

	status := decoded.Status("ssh")
	assert.Equal(t, NodeStateRepairAttempted, status.State)
	assert.Equal(t, "rpm", status.Action)
	assert.Equal(t, OutcomePassed, status.ActionResult)
}

func TestDiagnosis_Summary(t *testing.T) {
	d := newTestDiagnosis()
	d.SetStatus("ssh", FailedStatus("unreachable"))
	d.SetStatus("update", BlockedStatus("ssh"))
	d.RecordRepair(RepairRecord{Action: "rpm", Targets: []string{"ssh"}, Result: Failed("outlet busy")})

	summary := d.Summary()

	assert.Contains(t, summary, "labstation-1")
	assert.Contains(t, summary, "failed: unreachable")
	assert.Contains(t, summary, "blocked(ssh)")
	assert.Contains(t, summary, "repair rpm on [ssh] -> failed: outlet busy")
}

func TestNodeStatus_String(t *testing.T) {
	tests := []struct {
		status   NodeStatus
		expected string
	}{
		{NotRunStatus(), "not_run"},
		{PassedStatus(), "passed"},
		{FailedStatus(""), "failed"},
		{FailedStatus("boom"), "failed: boom"},
		{BlockedStatus(CauseTimeout), "blocked(timeout)"},
		{RepairAttemptedStatus("rpm", Failed("x")), "repair_attempted(rpm: failed)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestStatusFromOutcome(t *testing.T) {
	assert.Equal(t, PassedStatus(), StatusFromOutcome(Passed()))
	assert.Equal(t, FailedStatus("disk full"), StatusFromOutcome(Failed("disk full")))

	errStatus := StatusFromOutcome(Errored("connection reset"))
	assert.Equal(t, NodeStateFailed, errStatus.State)
	assert.Equal(t, "infrastructure error: connection reset", errStatus.Reason)
}

func TestHostState_Terminal(t *testing.T) {
	assert.True(t, HostStateHealthy.IsTerminal())
	assert.True(t, HostStateBroken.IsTerminal())
	assert.True(t, HostStateAborted.IsTerminal())
	assert.False(t, HostStateRepairing.IsTerminal())

	assert.False(t, HostStateBroken.CanTransition(HostStateUnknown))
	assert.True(t, HostStateNeedsRepair.CanTransition(HostStateBroken))
}
