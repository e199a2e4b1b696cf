package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/pkg/models"
)

// scheduler picks and runs repair actions for failed verifiers. Each action
// runs at most once per scheduler, and a scheduler lives for one run.
type scheduler struct {
	exec  *executor
	tried map[string]bool
}

func newScheduler(exec *executor) *scheduler {
	return &scheduler{
		exec:  exec,
		tried: make(map[string]bool),
	}
}

// next returns the first untried action, in declaration order, that claims
// a currently failed verifier and whose dependencies have all passed. The
// returned targets are the action's triggers that are currently failed.
func (s *scheduler) next() (RepairNode, []string, bool) {
	failed := make(map[string]bool)
	for _, name := range s.exec.diag.FailedVerifiers() {
		failed[name] = true
	}
	if len(failed) == 0 {
		return RepairNode{}, nil, false
	}

	for _, r := range s.exec.strategy.repairs {
		if s.tried[r.Name] {
			continue
		}

		var targets []string
		for _, trigger := range r.Triggers {
			if failed[trigger] {
				targets = append(targets, trigger)
			}
		}
		if len(targets) == 0 {
			continue
		}

		if blocker := s.exec.firstUnpassed(r.Dependencies); blocker != "" {
			s.exec.log.WithFields(logrus.Fields{
				"action": r.Name,
				"cause":  blocker,
			}).Debug("Repair not eligible, dependency has not passed")
			continue
		}

		return r, targets, true
	}

	return RepairNode{}, nil, false
}

// attempt runs the action and records RepairAttempted on every target.
// The action runs detached from ctx cancellation so it is never interrupted
// part way through; callers check ctx once it returns.
func (s *scheduler) attempt(ctx context.Context, r RepairNode, targets []string) models.Outcome {
	s.tried[r.Name] = true

	log := s.exec.log.WithFields(logrus.Fields{
		"action":  r.Name,
		"targets": targets,
	})
	log.Info("Running repair action")

	start := time.Now()
	outcome := s.repair(context.WithoutCancel(ctx), r)
	elapsed := time.Since(start)

	s.exec.diag.SetStatus(r.Name, models.StatusFromOutcome(outcome))
	for _, target := range targets {
		s.exec.diag.SetStatus(target, models.RepairAttemptedStatus(r.Name, outcome))
	}
	s.exec.diag.RecordRepair(models.RepairRecord{
		Action:    r.Name,
		Targets:   append([]string(nil), targets...),
		Result:    outcome,
		StartedAt: start,
		Duration:  elapsed,
	})
	RecordRepairAttempt(s.exec.strategy.name, r.Name, outcome.Kind, elapsed)

	fields := logrus.Fields{
		"result":      outcome.Kind,
		"duration_ms": elapsed.Milliseconds(),
	}
	if outcome.IsPassed() {
		log.WithFields(fields).Info("Repair action succeeded")
	} else {
		log.WithFields(fields).WithField("reason", outcome.Reason).Warn("Repair action failed")
	}

	return outcome
}

func (s *scheduler) repair(ctx context.Context, r RepairNode) (outcome models.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			outcome = models.Errored(fmt.Sprintf("repair panicked: %v", rec))
		}
	}()
	return classify(r.Action.Repair(ctx, s.exec.host))
}
