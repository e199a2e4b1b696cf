// Package coordination resolves hosts to strategies and runs the repair
// engine against them, synchronously or as tracked background jobs.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/internal/repair"
	"github.com/labfleet/repair-engine/internal/store"
	"github.com/labfleet/repair-engine/pkg/models"
)

var (
	// ErrRunInProgress is returned when a host already has an active run
	ErrRunInProgress = errors.New("run already in progress for host")

	// ErrNoStrategy is returned when no strategy serves the host's class
	ErrNoStrategy = errors.New("no strategy registered for host class")

	// ErrJobNotFound is returned for unknown job IDs
	ErrJobNotFound = errors.New("job not found")
)

// Coordinator runs strategies against inventory hosts. At most one run per
// host is active at a time.
type Coordinator struct {
	inventory  inventory.Store
	hosts      HostFactory
	engine     *repair.Engine
	store      store.Store
	timeout    time.Duration
	strategies map[string]*repair.Strategy
	jobs       map[string]*models.RepairJob
	running    map[string]struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	log        *logrus.Logger
}

// NewCoordinator creates a coordinator. timeout bounds every run.
func NewCoordinator(
	inv inventory.Store,
	hosts HostFactory,
	engine *repair.Engine,
	diagnoses store.Store,
	timeout time.Duration,
	log *logrus.Logger,
) *Coordinator {
	return &Coordinator{
		inventory:  inv,
		hosts:      hosts,
		engine:     engine,
		store:      diagnoses,
		timeout:    timeout,
		strategies: make(map[string]*repair.Strategy),
		jobs:       make(map[string]*models.RepairJob),
		running:    make(map[string]struct{}),
		log:        log,
	}
}

// Register serves hosts of class with strategy
func (c *Coordinator) Register(class string, strategy *repair.Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[class] = strategy
}

// Strategies returns the registered strategies sorted by name
func (c *Coordinator) Strategies() []*repair.Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[*repair.Strategy]bool)
	out := make([]*repair.Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Strategy returns the registered strategy called name
func (c *Coordinator) Strategy(name string) (*repair.Strategy, bool) {
	for _, s := range c.Strategies() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Inventory returns the host inventory
func (c *Coordinator) Inventory() inventory.Store {
	return c.inventory
}

// run is a resolved, reserved run
type run struct {
	info     *inventory.HostInfo
	strategy *repair.Strategy
}

// prepare resolves hostname and reserves it. The caller must release it.
func (c *Coordinator) prepare(ctx context.Context, hostname string) (*run, error) {
	info, err := c.inventory.Get(ctx, hostname)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	strategy, ok := c.strategies[info.Class]
	if !ok {
		return nil, fmt.Errorf("%w: %s (host %s)", ErrNoStrategy, info.Class, hostname)
	}
	if _, busy := c.running[hostname]; busy {
		RecordRunRejected("in_progress")
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, hostname)
	}
	c.running[hostname] = struct{}{}

	return &run{info: info, strategy: strategy}, nil
}

func (c *Coordinator) release(hostname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, hostname)
}

// RunHost runs the host's strategy and waits for the diagnosis
func (c *Coordinator) RunHost(ctx context.Context, hostname string) (*models.Diagnosis, error) {
	r, err := c.prepare(ctx, hostname)
	if err != nil {
		return nil, err
	}
	defer c.release(hostname)

	return c.execute(ctx, r)
}

// execute builds the host, runs the engine and persists the diagnosis
func (c *Coordinator) execute(ctx context.Context, r *run) (*models.Diagnosis, error) {
	h, err := c.hosts(r.info)
	if err != nil {
		return nil, fmt.Errorf("failed to create host %s: %w", r.info.Hostname, err)
	}
	if closer, ok := h.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				c.log.WithError(err).WithField("host", r.info.Hostname).Debug("Failed to close host")
			}
		}()
	}

	c.log.WithFields(logrus.Fields{
		"host":     r.info.Hostname,
		"class":    r.info.Class,
		"board":    r.info.Board,
		"model":    r.info.Model,
		"strategy": r.strategy.Name(),
	}).Info("Beginning repair run")

	diag, err := c.engine.Run(ctx, r.strategy, h, c.timeout)
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		// Saved even when ctx was cancelled during the run.
		if err := c.store.Save(context.WithoutCancel(ctx), diag); err != nil {
			RecordPersistFailure()
			c.log.WithError(err).WithField("diagnosis_id", diag.ID).Error("Failed to persist diagnosis")
		}
	}
	return diag, nil
}

// StartRepair validates the host and starts a background run. The returned
// job snapshot is pending; poll GetJob for progress.
func (c *Coordinator) StartRepair(ctx context.Context, hostname string) (*models.RepairJob, error) {
	r, err := c.prepare(ctx, hostname)
	if err != nil {
		return nil, err
	}

	job := &models.RepairJob{
		ID:        "job-" + uuid.New().String()[:8],
		Host:      hostname,
		Strategy:  r.strategy.Name(),
		Status:    models.JobStatusPending,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.jobs[job.ID] = job
	snapshot := *job
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"host":     hostname,
		"strategy": job.Strategy,
	}).Info("Repair job accepted")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(hostname)
		c.executeJob(context.WithoutCancel(ctx), job, r)
	}()

	return &snapshot, nil
}

func (c *Coordinator) executeJob(ctx context.Context, job *models.RepairJob, r *run) {
	RecordJobStart()
	startTime := time.Now()

	c.updateJob(job, func(j *models.RepairJob) {
		j.Status = models.JobStatusRunning
		j.StartedAt = &startTime
	})

	diag, err := c.execute(ctx, r)

	completedTime := time.Now()
	c.updateJob(job, func(j *models.RepairJob) {
		j.CompletedAt = &completedTime
		if err != nil {
			j.Status = models.JobStatusFailed
			j.ErrorMessage = err.Error()
			return
		}
		j.Status = models.JobStatusCompleted
		j.DiagnosisID = diag.ID
		j.HostState = diag.State
		j.Healthy = diag.Healthy
	})

	var state models.HostState
	if diag != nil {
		state = diag.State
	}
	c.mu.RLock()
	status := job.Status
	c.mu.RUnlock()
	RecordJobEnd(job.Strategy, status, state, completedTime.Sub(startTime).Seconds())

	entry := c.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"host":     job.Host,
		"status":   status,
		"duration": completedTime.Sub(startTime).String(),
	})
	if err != nil {
		entry.WithError(err).Error("Repair job failed")
		return
	}
	entry.WithFields(logrus.Fields{
		"diagnosis_id": diag.ID,
		"host_state":   diag.State,
		"healthy":      diag.Healthy,
	}).Info("Repair job completed")
}

func (c *Coordinator) updateJob(job *models.RepairJob, fn func(*models.RepairJob)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(job)
}

// GetJob returns a snapshot of the job
func (c *Coordinator) GetJob(id string) (*models.RepairJob, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	job, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	snapshot := *job
	return &snapshot, nil
}

// ListJobs returns snapshots of all jobs, newest first
func (c *Coordinator) ListJobs() []*models.RepairJob {
	c.mu.RLock()
	defer c.mu.RUnlock()

	jobs := make([]*models.RepairJob, 0, len(c.jobs))
	for _, job := range c.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs
}

// Diagnosis returns a stored diagnosis
func (c *Coordinator) Diagnosis(ctx context.Context, id string) (*models.Diagnosis, error) {
	if c.store == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return c.store.Get(ctx, id)
}

// HostDiagnoses returns the newest diagnoses of hostname
func (c *Coordinator) HostDiagnoses(ctx context.Context, hostname string, limit int) ([]*models.Diagnosis, error) {
	if c.store == nil {
		return []*models.Diagnosis{}, nil
	}
	return c.store.List(ctx, hostname, limit)
}

// Wait blocks until every background job has finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// ActiveRuns returns the number of hosts with a run in progress
func (c *Coordinator) ActiveRuns() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.running)
}
