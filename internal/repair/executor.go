package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/host"
	"github.com/labfleet/repair-engine/pkg/models"
)

// executor runs verifiers of one strategy against one host in topological
// order, writing statuses into the diagnosis.
type executor struct {
	strategy *Strategy
	host     host.Host
	diag     *models.Diagnosis
	log      *logrus.Entry
}

// run executes the verifiers in subset (all verifiers when subset is nil).
// It returns a non-empty abort cause when the run must stop; every node of
// the pass that did not complete has then been marked Blocked with that cause.
func (e *executor) run(ctx context.Context, subset map[string]bool) string {
	order := e.strategy.order
	for i, name := range order {
		if subset != nil && !subset[name] {
			continue
		}

		if cause := contextCause(ctx); cause != "" {
			e.blockRemaining(order[i:], subset, cause)
			return cause
		}

		node, _ := e.strategy.Verifier(name)

		if blocker := e.firstUnpassed(node.Dependencies); blocker != "" {
			e.diag.SetStatus(name, models.BlockedStatus(blocker))
			e.log.WithFields(logrus.Fields{
				"node":  name,
				"cause": blocker,
			}).Debug("Verifier blocked by dependency")
			continue
		}

		outcome, elapsed := e.check(ctx, node)
		RecordVerifierCheck(e.strategy.name, name, outcome.Kind, elapsed)

		if !outcome.IsPassed() {
			if cause := contextCause(ctx); cause != "" {
				e.log.WithFields(logrus.Fields{
					"node":  name,
					"cause": cause,
				}).Warn("Verifier interrupted")
				e.blockRemaining(order[i:], subset, cause)
				return cause
			}
		}

		status := models.StatusFromOutcome(outcome)
		e.diag.SetStatus(name, status)

		fields := logrus.Fields{
			"node":        name,
			"outcome":     outcome.Kind,
			"duration_ms": elapsed.Milliseconds(),
		}
		switch outcome.Kind {
		case models.OutcomePassed:
			e.log.WithFields(fields).Debug("Verifier passed")
		case models.OutcomeFailed:
			e.log.WithFields(fields).WithField("reason", outcome.Reason).Info("Verifier failed")
		case models.OutcomeError:
			e.log.WithFields(fields).WithField("reason", outcome.Reason).Error("Infrastructure error, aborting run")
			e.blockRemaining(order[i+1:], subset, models.CauseInfrastructureError)
			return models.CauseInfrastructureError
		}
	}
	return ""
}

// check invokes the verifier. A panic is reported as an infrastructure error.
func (e *executor) check(ctx context.Context, node VerifyNode) (outcome models.Outcome, elapsed time.Duration) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Errored(fmt.Sprintf("verifier panicked: %v", r))
		}
		elapsed = time.Since(start)
	}()

	return classify(node.Verifier.Verify(ctx, e.host)), 0
}

func (e *executor) firstUnpassed(deps []string) string {
	for _, dep := range deps {
		if !e.diag.Status(dep).IsPassed() {
			return dep
		}
	}
	return ""
}

func (e *executor) blockRemaining(names []string, subset map[string]bool, cause string) {
	for _, name := range names {
		if subset != nil && !subset[name] {
			continue
		}
		e.diag.SetStatus(name, models.BlockedStatus(cause))
	}
}

// contextCause maps a finished context onto the Blocked cause it implies
func contextCause(ctx context.Context) string {
	switch err := ctx.Err(); {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return models.CauseTimeout
	default:
		return models.CauseCancelled
	}
}
