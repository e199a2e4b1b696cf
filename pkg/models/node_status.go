package models

import "fmt"

// NodeState is the per-run state of a verifier or repair node
type NodeState string

const (
	NodeStateNotRun          NodeState = "not_run"
	NodeStateBlocked         NodeState = "blocked"
	NodeStatePassed          NodeState = "passed"
	NodeStateFailed          NodeState = "failed"
	NodeStateRepairAttempted NodeState = "repair_attempted"
)

// Blocked causes recorded when a run ends before a node completes
const (
	CauseInfrastructureError = "infrastructure error"
	CauseTimeout             = "timeout"
	CauseCancelled           = "cancelled"
)

// NodeKind distinguishes verifier nodes from repair nodes
type NodeKind string

const (
	NodeKindVerifier NodeKind = "verifier"
	NodeKindRepair   NodeKind = "repair"
)

// NodeStatus is the status of one node within a single strategy run
type NodeStatus struct {
	State NodeState `json:"state"`
	// Cause names the dependency (or run-level condition) that blocked the node
	Cause string `json:"cause,omitempty"`
	// Reason carries the failure message of a failed check or repair
	Reason string `json:"reason,omitempty"`
	// Action and ActionResult are set for RepairAttempted
	Action       string      `json:"action,omitempty"`
	ActionResult OutcomeKind `json:"action_result,omitempty"`
}

// NotRunStatus returns the initial status of every node
func NotRunStatus() NodeStatus {
	return NodeStatus{State: NodeStateNotRun}
}

// BlockedStatus returns a blocked status with the given cause
func BlockedStatus(cause string) NodeStatus {
	return NodeStatus{State: NodeStateBlocked, Cause: cause}
}

// PassedStatus returns a passed status
func PassedStatus() NodeStatus {
	return NodeStatus{State: NodeStatePassed}
}

// FailedStatus returns a failed status with the given reason
func FailedStatus(reason string) NodeStatus {
	return NodeStatus{State: NodeStateFailed, Reason: reason}
}

// RepairAttemptedStatus records that action ran against the node with result
func RepairAttemptedStatus(action string, result Outcome) NodeStatus {
	return NodeStatus{
		State:        NodeStateRepairAttempted,
		Action:       action,
		ActionResult: result.Kind,
		Reason:       result.Reason,
	}
}

// StatusFromOutcome maps a check outcome onto a node status
func StatusFromOutcome(o Outcome) NodeStatus {
	switch o.Kind {
	case OutcomePassed:
		return PassedStatus()
	case OutcomeError:
		return FailedStatus(CauseInfrastructureError + ": " + o.Reason)
	default:
		return FailedStatus(o.Reason)
	}
}

// IsPassed reports whether the node passed
func (s NodeStatus) IsPassed() bool {
	return s.State == NodeStatePassed
}

// String returns a compact representation used in reports
func (s NodeStatus) String() string {
	switch s.State {
	case NodeStateBlocked:
		return fmt.Sprintf("blocked(%s)", s.Cause)
	case NodeStateFailed:
		if s.Reason == "" {
			return "failed"
		}
		return fmt.Sprintf("failed: %s", s.Reason)
	case NodeStateRepairAttempted:
		return fmt.Sprintf("repair_attempted(%s: %s)", s.Action, s.ActionResult)
	default:
		return string(s.State)
	}
}
