package labstation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/host"
	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/internal/repair"
)

const (
	updateStatusCommand = "update_engine_client --status 2>/dev/null"
	uptimeCommand       = "cat /proc/uptime"
	rebootCommand       = "nohup sh -c 'sleep 1; reboot' >/dev/null 2>&1 &"
)

// Update engine operations during which a reboot would corrupt the update
var updateInProgress = []string{
	"UPDATE_STATUS_CHECKING_FOR_UPDATE",
	"UPDATE_STATUS_UPDATE_AVAILABLE",
	"UPDATE_STATUS_DOWNLOADING",
	"UPDATE_STATUS_VERIFYING",
	"UPDATE_STATUS_FINALIZING",
}

var (
	errUnreachable = errors.New("host is not reachable over ssh")
	errRebootDue   = errors.New("reboot requested and safe to perform")
)

type sshVerifier struct{}

func (v *sshVerifier) Verify(ctx context.Context, h host.Host) error {
	if !h.IsReachable(ctx) {
		return fmt.Errorf("%s: %w", h.Hostname(), errUnreachable)
	}
	return nil
}

func (v *sshVerifier) Description() string {
	return "Host is reachable over ssh"
}

// updateVerifier starts an update to the stable version. It does not wait
// for the update and passes whether or not the host is already current.
type updateVerifier struct {
	opts Options
	log  *logrus.Logger
}

func (v *updateVerifier) Verify(ctx context.Context, h host.Host) error {
	if !v.opts.InLab {
		return nil
	}

	state, err := h.ReadPersistentState(ctx)
	if err != nil {
		return repair.Infrastructure(fmt.Errorf("read host info: %w", err))
	}

	pools := inventory.PoolsFromState(state)
	for _, pool := range pools {
		if v.exempt(pool) {
			v.log.WithFields(logrus.Fields{
				"host":  h.Hostname(),
				"pools": pools,
			}).Info("Skipping update, labstation is in an exempt pool")
			return nil
		}
	}

	version := state[inventory.StableVersionPrefix+inventory.StableVersionCrOS]
	if version == "" {
		return errors.New("no stable_version found in host info, cannot check or update labstation")
	}

	if err := h.TriggerRemoteUpdate(ctx, version); err != nil {
		return fmt.Errorf("trigger update to %s: %w", version, err)
	}
	return nil
}

func (v *updateVerifier) exempt(pool string) bool {
	for _, p := range v.opts.ExemptPools {
		if p == pool {
			return true
		}
	}
	return false
}

func (v *updateVerifier) Description() string {
	return "Labstation image is updated to current stable-version"
}

// rebootVerifier fails when a reboot was requested and the labstation can
// take it: no servo is in use and no update is running
type rebootVerifier struct {
	opts Options
	log  *logrus.Logger
}

func (v *rebootVerifier) Verify(ctx context.Context, h host.Host) error {
	log := v.log.WithField("host", h.Hostname())

	pending, err := h.IsRebootPending(ctx)
	if err != nil {
		return repair.Infrastructure(fmt.Errorf("check reboot request: %w", err))
	}
	if !pending {
		return nil
	}

	status, err := updateStatus(ctx, h)
	if err != nil {
		return err
	}

	if status != host.NeedRebootStatus {
		uptime, err := readUptime(ctx, h)
		if err != nil {
			return err
		}
		if uptime <= v.opts.UptimeThreshold {
			log.WithField("uptime", uptime.Round(time.Second).String()).
				Info("Ignoring DUT reboot request, labstation rebooted recently")
			return nil
		}
	}

	inUse, err := v.servoInUse(ctx, h)
	if err != nil {
		return err
	}
	if inUse || isUpdating(status) {
		log.WithFields(logrus.Fields{
			"servo_in_use":  inUse,
			"update_status": status,
		}).Info("Deferring reboot, servo in use or update in progress")
		return nil
	}

	log.Info("Labstation reboot requested and safe to perform")
	return fmt.Errorf("%s: %w", h.Hostname(), errRebootDue)
}

func (v *rebootVerifier) servoInUse(ctx context.Context, h host.Host) (bool, error) {
	minutes := int(math.Ceil(v.opts.InUseExpiry.Minutes()))
	cmd := fmt.Sprintf("find %s -maxdepth 1 -name '*_lock' -mmin -%d 2>/dev/null", host.ShellQuote(v.opts.FileDir), minutes)
	result, err := run(ctx, h, cmd)
	if err != nil {
		return false, err
	}
	return result.Output() != "", nil
}

func (v *rebootVerifier) Description() string {
	return "No reboot is requested while the labstation is idle"
}

// run executes cmd; transport failures are infrastructure errors because
// ssh already passed
func run(ctx context.Context, h host.Host, cmd string) (host.Result, error) {
	result, err := h.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return result, err
		}
		return result, repair.Infrastructure(fmt.Errorf("run %q: %w", cmd, err))
	}
	return result, nil
}

// updateStatus returns the update engine's CURRENT_OP, or "" when unknown
func updateStatus(ctx context.Context, h host.Host) (string, error) {
	result, err := run(ctx, h, updateStatusCommand)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(result.Stdout, "\n") {
		if op, ok := strings.CutPrefix(strings.TrimSpace(line), "CURRENT_OP="); ok {
			return op, nil
		}
	}
	return "", nil
}

func isUpdating(status string) bool {
	for _, s := range updateInProgress {
		if status == s {
			return true
		}
	}
	return false
}

func readUptime(ctx context.Context, h host.Host) (time.Duration, error) {
	result, err := run(ctx, h, uptimeCommand)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(result.Stdout)
	if !result.Success() || len(fields) == 0 {
		return 0, fmt.Errorf("read uptime: exit %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse uptime %q: %w", fields[0], err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
