package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/host"
	"github.com/labfleet/repair-engine/pkg/models"
)

// Engine runs strategies against hosts. It keeps no per-run state, so one
// Engine may serve any number of concurrent runs.
type Engine struct {
	log            *logrus.Logger
	newID          func() string
	defaultTimeout time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithIDGenerator overrides how diagnosis ids are generated
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// WithDefaultTimeout sets the timeout applied when Run is given none
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.defaultTimeout = d
	}
}

// NewEngine creates a new engine
func NewEngine(log *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		log: log,
		newID: func() string {
			return "diag-" + uuid.New().String()[:8]
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine(logrus.StandardLogger())

// Run runs strategy against h with the package default engine
func Run(ctx context.Context, strategy *Strategy, h host.Host, timeout time.Duration) (*models.Diagnosis, error) {
	return defaultEngine.Run(ctx, strategy, h, timeout)
}

// Run verifies h, repairs what it can and returns the resulting diagnosis.
// Failed checks, failed repairs, infrastructure errors, timeouts and
// cancellation are all reported in the diagnosis with a nil error. An error
// is returned only for a nil strategy or host, or an internal state fault.
func (e *Engine) Run(ctx context.Context, strategy *Strategy, h host.Host, timeout time.Duration) (*models.Diagnosis, error) {
	if strategy == nil {
		return nil, errors.New("strategy is required")
	}
	if h == nil {
		return nil, errors.New("host is required")
	}

	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	diag := models.NewDiagnosis(e.newID(), h.Hostname(), strategy.name)
	for _, name := range strategy.order {
		v, _ := strategy.Verifier(name)
		diag.AddEntry(v.Name, models.NodeKindVerifier, v.Verifier.Description(), v.Dependencies, nil)
	}
	for _, r := range strategy.repairs {
		diag.AddEntry(r.Name, models.NodeKindRepair, r.Action.Description(), r.Dependencies, r.Triggers)
	}

	log := e.log.WithFields(logrus.Fields{
		"diagnosis_id": diag.ID,
		"host":         diag.Host,
		"strategy":     diag.Strategy,
	})
	log.WithField("timeout", timeout).Info("Starting strategy run")

	ActiveRuns.WithLabelValues(strategy.name).Inc()
	defer ActiveRuns.WithLabelValues(strategy.name).Dec()

	exec := &executor{
		strategy: strategy,
		host:     h,
		diag:     diag,
		log:      log,
	}
	err := e.drive(ctx, exec)
	diag.Complete()

	RecordRun(strategy.name, diag.State, diag.Duration())

	fields := logrus.Fields{
		"state":       diag.State,
		"healthy":     diag.Healthy,
		"repairs":     len(diag.Repairs),
		"duration_ms": diag.Duration().Milliseconds(),
	}
	switch {
	case err != nil:
		log.WithError(err).WithFields(fields).Error("Strategy run failed")
		return diag, fmt.Errorf("run %s on %s: %w", strategy.name, diag.Host, err)
	case diag.State == models.HostStateAborted:
		log.WithFields(fields).WithField("abort_cause", diag.AbortCause).Warn("Strategy run aborted")
	case diag.Healthy:
		log.WithFields(fields).Info("Strategy run completed, host healthy")
	default:
		log.WithFields(fields).WithField("failed", diag.FailedVerifiers()).Warn("Strategy run completed, host broken")
	}

	return diag, nil
}

// drive walks the host state machine: verify, then alternate repair and
// re-verification until healthy, out of eligible actions, or aborted.
func (e *Engine) drive(ctx context.Context, exec *executor) error {
	diag := exec.diag
	sched := newScheduler(exec)

	if err := diag.Transition(models.HostStateVerifying); err != nil {
		return err
	}
	if cause := exec.run(ctx, nil); cause != "" {
		return abort(diag, cause)
	}
	if diag.VerifiersPassed() {
		return diag.Transition(models.HostStateHealthy)
	}
	if err := diag.Transition(models.HostStateNeedsRepair); err != nil {
		return err
	}

	for {
		action, targets, ok := sched.next()
		if !ok {
			return diag.Transition(models.HostStateBroken)
		}
		// No repair may start once the run has timed out or been cancelled.
		if cause := contextCause(ctx); cause != "" {
			return abort(diag, cause)
		}

		if err := diag.Transition(models.HostStateRepairing); err != nil {
			return err
		}
		sched.attempt(ctx, action, targets)

		if err := diag.Transition(models.HostStateVerifying); err != nil {
			return err
		}
		if cause := exec.run(ctx, exec.strategy.affected(targets)); cause != "" {
			return abort(diag, cause)
		}
		if diag.VerifiersPassed() {
			return diag.Transition(models.HostStateHealthy)
		}
		if _, _, ok := sched.next(); !ok {
			return diag.Transition(models.HostStateBroken)
		}
		if err := diag.Transition(models.HostStateNeedsRepair); err != nil {
			return err
		}
	}
}

// abort blocks every node that never ran and ends the run
func abort(diag *models.Diagnosis, cause string) error {
	diag.AbortCause = cause
	for i := range diag.Entries {
		if diag.Entries[i].Status.State == models.NodeStateNotRun {
			diag.Entries[i].Status = models.BlockedStatus(cause)
		}
	}
	return diag.Transition(models.HostStateAborted)
}
