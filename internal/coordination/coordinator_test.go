package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/labfleet/repair-engine/internal/host"
	"github.com/labfleet/repair-engine/internal/host/hosttest"
	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/internal/repair"
	"github.com/labfleet/repair-engine/internal/store"
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

// memInventory is a map-backed inventory.Store
type memInventory map[string]inventory.HostInfo

func (m memInventory) Get(ctx context.Context, hostname string) (*inventory.HostInfo, error) {
	info, ok := m[hostname]
	if !ok {
		return nil, fmt.Errorf("%w: %s", inventory.ErrHostNotFound, hostname)
	}
	return &info, nil
}

func (m memInventory) List(ctx context.Context) ([]inventory.HostInfo, error) {
	out := make([]inventory.HostInfo, 0, len(m))
	for _, info := range m {
		out = append(out, info)
	}
	return out, nil
}

func (m memInventory) HostState(ctx context.Context, hostname string) (map[string]string, error) {
	info, err := m.Get(ctx, hostname)
	if err != nil {
		return nil, err
	}
	return info.State(), nil
}

// closingHost records Close calls
type closingHost struct {
	*hosttest.FakeHost
	closed *atomic.Int32
}

func (h closingHost) Close() error {
	h.closed.Add(1)
	return nil
}

type fixture struct {
	coord  *Coordinator
	hosts  map[string]*hosttest.FakeHost
	store  *store.MemoryStore
	closed atomic.Int32
}

// newFixture serves class "labstation" with a single reachability check
// and class "servo" with a check that blocks until release is closed
func newFixture(t *testing.T, release <-chan struct{}) *fixture {
	t.Helper()
	f := &fixture{
		hosts: map[string]*hosttest.FakeHost{
			"labstation1": hosttest.New("labstation1"),
			"labstation2": hosttest.New("labstation2"),
			"servo1":      hosttest.New("servo1"),
		},
		store: store.NewMemoryStore(0),
	}
	f.hosts["labstation2"].SetReachable(false)

	inv := memInventory{
		"labstation1": {Hostname: "labstation1", Class: "labstation"},
		"labstation2": {Hostname: "labstation2", Class: "labstation"},
		"servo1":      {Hostname: "servo1", Class: "servo"},
		"dut1":        {Hostname: "dut1", Class: "dut"},
	}

	factory := func(info *inventory.HostInfo) (host.Host, error) {
		h, ok := f.hosts[info.Hostname]
		if !ok {
			return nil, errors.New("no transport for host")
		}
		return closingHost{FakeHost: h, closed: &f.closed}, nil
	}

	engine := repair.NewEngine(quietLogger())
	f.coord = NewCoordinator(inv, factory, engine, f.store, time.Minute, quietLogger())

	f.coord.Register("labstation", repair.MustNewStrategy("labstation",
		[]repair.VerifyNode{{Name: "ssh", Verifier: repair.VerifierFunc(func(ctx context.Context, h host.Host) error {
			if !h.IsReachable(ctx) {
				return errors.New("unreachable")
			}
			return nil
		})}},
		nil))
	f.coord.Register("servo", repair.MustNewStrategy("servo",
		[]repair.VerifyNode{{Name: "servod", Verifier: repair.VerifierFunc(func(ctx context.Context, h host.Host) error {
			<-release
			return nil
		})}},
		nil))
	return f
}

func TestCoordinator_RunHost(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	diag, err := f.coord.RunHost(ctx, "labstation1")
	require.NoError(t, err)
	assert.True(t, diag.Healthy)
	assert.Equal(t, "labstation", diag.Strategy)
	assert.Equal(t, int32(1), f.closed.Load())

	stored, err := f.coord.Diagnosis(ctx, diag.ID)
	require.NoError(t, err)
	assert.Equal(t, diag.ID, stored.ID)

	diag2, err := f.coord.RunHost(ctx, "labstation2")
	require.NoError(t, err)
	assert.False(t, diag2.Healthy)
	assert.Equal(t, models.HostStateBroken, diag2.State)

	history, err := f.coord.HostDiagnoses(ctx, "labstation2", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, diag2.ID, history[0].ID)
}

func TestCoordinator_RunHostErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name    string
		host    string
		wantErr error
		msg     string
	}{
		{name: "unknown host", host: "nope", wantErr: inventory.ErrHostNotFound},
		{name: "no strategy for class", host: "dut1", wantErr: ErrNoStrategy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.RunHost(context.Background(), tt.host)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("host factory error", func(t *testing.T) {
		delete(f.hosts, "labstation1")

		_, err := f.coord.RunHost(context.Background(), "labstation1")

		assert.ErrorContains(t, err, "failed to create host labstation1: no transport for host")
	})
}

func TestCoordinator_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, release)

	job, err := f.coord.StartRepair(context.Background(), "servo1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	_, err = f.coord.RunHost(context.Background(), "servo1")
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = f.coord.StartRepair(context.Background(), "servo1")
	assert.ErrorIs(t, err, ErrRunInProgress)

	// Other hosts are unaffected.
	_, err = f.coord.RunHost(context.Background(), "labstation1")
	assert.NoError(t, err)
	assert.Equal(t, 1, f.coord.ActiveRuns())

	close(release)
	f.coord.Wait()
	assert.Equal(t, 0, f.coord.ActiveRuns())

	_, err = f.coord.RunHost(context.Background(), "servo1")
	assert.NoError(t, err)
}

func TestCoordinator_StartRepair(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.coord.StartRepair(context.Background(), "labstation2")
	require.NoError(t, err)
	assert.Equal(t, "labstation2", job.Host)
	assert.Equal(t, "labstation", job.Strategy)
	assert.Regexp(t, `^job-[0-9a-f]{8}$`, job.ID)

	f.coord.Wait()

	done, err := f.coord.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, models.HostStateBroken, done.HostState)
	assert.False(t, done.Healthy)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.IsActive())

	diag, err := f.coord.Diagnosis(context.Background(), done.DiagnosisID)
	require.NoError(t, err)
	assert.Equal(t, "labstation2", diag.Host)
}

func TestCoordinator_StartRepairFailure(t *testing.T) {
	f := newFixture(t, nil)
	delete(f.hosts, "labstation1")

	job, err := f.coord.StartRepair(context.Background(), "labstation1")
	require.NoError(t, err)
	f.coord.Wait()

	done, err := f.coord.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "no transport for host")
	assert.Empty(t, done.DiagnosisID)
}

func TestCoordinator_Jobs(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.coord.GetJob("job-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	first, err := f.coord.StartRepair(context.Background(), "labstation1")
	require.NoError(t, err)
	f.coord.Wait()
	time.Sleep(time.Millisecond)
	second, err := f.coord.StartRepair(context.Background(), "labstation2")
	require.NoError(t, err)
	f.coord.Wait()

	jobs := f.coord.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestCoordinator_Strategies(t *testing.T) {
	f := newFixture(t, nil)

	names := []string{}
	for _, s := range f.coord.Strategies() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"labstation", "servo"}, names)

	s, ok := f.coord.Strategy("servo")
	require.True(t, ok)
	assert.Equal(t, []string{"servod"}, s.Order())

	_, ok = f.coord.Strategy("dut")
	assert.False(t, ok)
}

func TestCoordinator_NoStore(t *testing.T) {
	inv := memInventory{"labstation1": {Hostname: "labstation1", Class: "labstation"}}
	factory := func(info *inventory.HostInfo) (host.Host, error) { return hosttest.New(info.Hostname), nil }
	coord := NewCoordinator(inv, factory, repair.NewEngine(quietLogger()), nil, time.Minute, quietLogger())
	coord.Register("labstation", repair.MustNewStrategy("labstation",
		[]repair.VerifyNode{{Name: "ssh", Verifier: repair.VerifierFunc(func(ctx context.Context, h host.Host) error { return nil })}}, nil))

	diag, err := coord.RunHost(context.Background(), "labstation1")
	require.NoError(t, err)

	_, err = coord.Diagnosis(context.Background(), diag.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	history, err := coord.HostDiagnoses(context.Background(), "labstation1", 5)
	require.NoError(t, err)
	assert.Empty(t, history)
}
