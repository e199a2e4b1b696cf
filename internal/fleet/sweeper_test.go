package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/labfleet/repair-engine/internal/coordination"
	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// fakeRunner answers RunHost from a per-host table and tracks concurrency
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	healthy map[string]bool
	errs    map[string]error
	onRun   func(hostname string)
}

func (r *fakeRunner) RunHost(ctx context.Context, hostname string) (*models.Diagnosis, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, hostname)
	hook := r.onRun
	r.mu.Unlock()
	if hook != nil {
		hook(hostname)
	}

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if err := r.errs[hostname]; err != nil {
		return nil, err
	}

	diag := models.NewDiagnosis("diag-"+hostname, hostname, "labstation")
	diag.Healthy = r.healthy[hostname]
	diag.State = models.HostStateBroken
	if diag.Healthy {
		diag.State = models.HostStateHealthy
	}
	return diag, nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type listInventory []inventory.HostInfo

func (l listInventory) Get(ctx context.Context, hostname string) (*inventory.HostInfo, error) {
	for i := range l {
		if l[i].Hostname == hostname {
			return &l[i], nil
		}
	}
	return nil, inventory.ErrHostNotFound
}

func (l listInventory) List(ctx context.Context) ([]inventory.HostInfo, error) {
	return l, nil
}

func (l listInventory) HostState(ctx context.Context, hostname string) (map[string]string, error) {
	return nil, nil
}

func TestSweep_Results(t *testing.T) {
	runner := &fakeRunner{
		healthy: map[string]bool{"labstation1": true},
		errs: map[string]error{
			"labstation3": fmt.Errorf("%w: labstation3", coordination.ErrRunInProgress),
			"labstation4": errors.New("failed to create host"),
		},
	}
	s := NewSweeper(runner, listInventory{}, 2, 0, quietLogger())

	report, err := s.Sweep(context.Background(), []string{"labstation1", "labstation2", "labstation3", "labstation4"})
	require.NoError(t, err)

	require.Len(t, report.Results, 4)
	assert.Equal(t, HostResult{Host: "labstation1", Status: ResultHealthy, DiagnosisID: "diag-labstation1", HostState: models.HostStateHealthy}, report.Results[0])
	assert.Equal(t, ResultUnhealthy, report.Results[1].Status)
	assert.Equal(t, models.HostStateBroken, report.Results[1].HostState)
	assert.Equal(t, ResultSkipped, report.Results[2].Status)
	assert.Equal(t, ResultError, report.Results[3].Status)
	assert.Equal(t, "failed to create host", report.Results[3].Error)

	assert.Equal(t, 1, report.Count(ResultHealthy))
	assert.Equal(t, 1, report.Count(ResultUnhealthy))
	assert.Equal(t, 1, report.Count(ResultSkipped))
	assert.Equal(t, 1, report.Count(ResultError))
}

func TestSweep_WholeInventory(t *testing.T) {
	runner := &fakeRunner{}
	inv := listInventory{{Hostname: "a"}, {Hostname: "b"}, {Hostname: "c"}}
	s := NewSweeper(runner, inv, 1, 0, quietLogger())

	report, err := s.Sweep(context.Background(), nil)
	require.NoError(t, err)

	assert.Len(t, report.Results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, runner.Calls())
}

func TestSweep_BoundedConcurrency(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	hosts := make([]string, 12)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("labstation%d", i)
	}
	s := NewSweeper(runner, listInventory{}, 3, 0, quietLogger())

	report, err := s.Sweep(context.Background(), hosts)
	require.NoError(t, err)

	assert.Len(t, runner.Calls(), 12)
	assert.LessOrEqual(t, runner.peak.Load(), int32(3))
	assert.Equal(t, 12, report.Count(ResultUnhealthy))
}

func TestSweep_Paced(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSweeper(runner, listInventory{}, 4, 20, quietLogger())

	start := time.Now()
	_, err := s.Sweep(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	// Burst of one: the second and third starts wait 50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestSweep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{onRun: func(hostname string) {
		if hostname == "b" {
			cancel()
		}
	}}
	s := NewSweeper(runner, listInventory{}, 1, 0, quietLogger())

	report, err := s.Sweep(ctx, []string{"a", "b", "c", "d"})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 4)
	assert.Equal(t, ResultSkipped, report.Results[3].Status)
	assert.NotContains(t, runner.Calls(), "d")
}

func TestSweeper_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sweeps atomic.Int32
	runner := &fakeRunner{onRun: func(string) {
		if sweeps.Add(1) == 3 {
			cancel()
		}
	}}
	s := NewSweeper(runner, listInventory{{Hostname: "a"}}, 1, 0, quietLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, 5*time.Millisecond)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.Equal(t, int32(3), sweeps.Load())
}
