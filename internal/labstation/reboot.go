package labstation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/labfleet/repair-engine/internal/host"
)

// rebootRepair clears the reboot request markers, reboots the labstation
// and waits for it to go down and answer again
type rebootRepair struct {
	opts Options
	log  *logrus.Logger
}

func (r *rebootRepair) Repair(ctx context.Context, h host.Host) error {
	log := r.log.WithField("host", h.Hostname())
	start := time.Now()

	// Markers go first; the host is gone once the reboot starts.
	if _, err := run(ctx, h, fmt.Sprintf("rm -f %s/*_reboot", host.ShellQuote(r.opts.FileDir))); err != nil {
		return err
	}
	result, err := run(ctx, h, rebootCommand)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("reboot exited %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	log.Info("Labstation reboot issued")

	err = wait.PollUntilContextTimeout(ctx, r.opts.PollInterval, r.opts.PowerCycleWait, true,
		func(ctx context.Context) (bool, error) {
			return !h.IsReachable(ctx), nil
		})
	if err != nil {
		return fmt.Errorf("host %s did not go down within %s of reboot: %w", h.Hostname(), r.opts.PowerCycleWait, err)
	}

	err = wait.PollUntilContextTimeout(ctx, r.opts.PollInterval, r.opts.PowerCycleWait, false,
		func(ctx context.Context) (bool, error) {
			return h.IsReachable(ctx), nil
		})
	if err != nil {
		return fmt.Errorf("host %s not reachable %s after reboot: %w", h.Hostname(), r.opts.PowerCycleWait, err)
	}

	log.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Labstation back after reboot")
	return nil
}

func (r *rebootRepair) Description() string {
	return "Reboot the labstation and clear its reboot requests"
}
