// Package fleet runs strategies across many hosts.
package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/labfleet/repair-engine/internal/coordination"
	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/pkg/models"
)

// Runner runs the strategy of one host
type Runner interface {
	RunHost(ctx context.Context, hostname string) (*models.Diagnosis, error)
}

// ResultStatus classifies a host's sweep result
type ResultStatus string

const (
	ResultHealthy   ResultStatus = "healthy"
	ResultUnhealthy ResultStatus = "unhealthy"
	ResultSkipped   ResultStatus = "skipped"
	ResultError     ResultStatus = "error"
)

// HostResult is the outcome of one host in a sweep
type HostResult struct {
	Host        string           `json:"host"`
	Status      ResultStatus     `json:"status"`
	DiagnosisID string           `json:"diagnosis_id,omitempty"`
	HostState   models.HostState `json:"host_state,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Report summarizes a sweep. Results follow the order hosts were given in.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []HostResult  `json:"results"`
}

// Count returns how many results have status
func (r *Report) Count(status ResultStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Sweeper runs a Runner across the fleet with bounded concurrency and a
// paced start rate
type Sweeper struct {
	runner      Runner
	inventory   inventory.Store
	concurrency int
	limiter     *rate.Limiter
	log         *logrus.Logger
}

// NewSweeper creates a sweeper running at most concurrency hosts at once and
// starting at most perSecond runs per second (<= 0 disables pacing)
func NewSweeper(runner Runner, inv inventory.Store, concurrency int, perSecond float64, log *logrus.Logger) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Sweeper{
		runner:      runner,
		inventory:   inv,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, 1),
		log:         log,
	}
}

// Sweep runs every given host, or the whole inventory when hostnames is
// empty. Per-host failures are recorded in the report. The returned error is
// non-nil only when the inventory cannot be listed or ctx ends early.
func (s *Sweeper) Sweep(ctx context.Context, hostnames []string) (*Report, error) {
	if len(hostnames) == 0 {
		hosts, err := s.inventory.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, h := range hosts {
			hostnames = append(hostnames, h.Hostname)
		}
	}

	report := &Report{
		StartedAt: time.Now(),
		Results:   make([]HostResult, len(hostnames)),
	}
	s.log.WithFields(logrus.Fields{
		"hosts":       len(hostnames),
		"concurrency": s.concurrency,
	}).Info("Starting fleet sweep")

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, hostname := range hostnames {
		if err := s.limiter.Wait(gCtx); err != nil {
			for j := i; j < len(hostnames); j++ {
				report.Results[j] = HostResult{Host: hostnames[j], Status: ResultSkipped, Error: err.Error()}
			}
			break
		}
		g.Go(func() error {
			report.Results[i] = s.runOne(gCtx, hostname)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.StartedAt)
	RecordSweep(report, ctx.Err() != nil)

	s.log.WithFields(logrus.Fields{
		"hosts":     len(hostnames),
		"healthy":   report.Count(ResultHealthy),
		"unhealthy": report.Count(ResultUnhealthy),
		"skipped":   report.Count(ResultSkipped),
		"errors":    report.Count(ResultError),
		"duration":  report.Duration.String(),
	}).Info("Fleet sweep completed")

	return report, ctx.Err()
}

func (s *Sweeper) runOne(ctx context.Context, hostname string) HostResult {
	result := HostResult{Host: hostname}

	diag, err := s.runner.RunHost(ctx, hostname)
	switch {
	case errors.Is(err, coordination.ErrRunInProgress):
		result.Status = ResultSkipped
		result.Error = err.Error()
	case err != nil:
		result.Status = ResultError
		result.Error = err.Error()
		s.log.WithError(err).WithField("host", hostname).Warn("Sweep run failed")
	default:
		result.DiagnosisID = diag.ID
		result.HostState = diag.State
		result.Status = ResultUnhealthy
		if diag.Healthy {
			result.Status = ResultHealthy
		}
	}
	return result
}

// Run sweeps the whole inventory every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx, nil); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("Fleet sweep failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
