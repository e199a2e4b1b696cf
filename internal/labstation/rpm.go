package labstation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/labfleet/repair-engine/internal/host"
	"github.com/labfleet/repair-engine/internal/integrations"
)

var errNoPowerService = errors.New("no power service configured")

// rpmRepair power-cycles the host through the remote power service, waits
// for the outlet to report on and then for the host to answer again
type rpmRepair struct {
	power PowerCycler
	opts  Options
	log   *logrus.Logger
}

func (r *rpmRepair) Repair(ctx context.Context, h host.Host) error {
	if r.power == nil {
		return errNoPowerService
	}

	log := r.log.WithField("host", h.Hostname())
	start := time.Now()

	status, err := r.power.CycleOutlet(ctx, h.Hostname(), &integrations.CycleRequest{
		Reason:    "host unreachable over ssh",
		RequestID: uuid.New().String(),
	})
	if err != nil {
		return err
	}
	log.WithField("outlet", status.Outlet).Info("Waiting for outlet after power cycle")

	if status.State != integrations.OutletOn {
		err = wait.PollUntilContextTimeout(ctx, r.opts.PollInterval, r.opts.PowerCycleWait, false,
			func(ctx context.Context) (bool, error) {
				status, err := r.power.GetOutlet(ctx, h.Hostname())
				if err != nil {
					return false, err
				}
				return status.State == integrations.OutletOn, nil
			})
		if err != nil {
			return fmt.Errorf("outlet for %s not back on: %w", h.Hostname(), err)
		}
	}

	err = wait.PollUntilContextTimeout(ctx, r.opts.PollInterval, r.opts.PowerCycleWait, false,
		func(ctx context.Context) (bool, error) {
			return h.IsReachable(ctx), nil
		})
	if err != nil {
		return fmt.Errorf("host %s not reachable %s after power cycle: %w", h.Hostname(), r.opts.PowerCycleWait, err)
	}

	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Host back after power cycle")
	return nil
}

func (r *rpmRepair) Description() string {
	return "Power-cycle the host through its RPM outlet"
}
