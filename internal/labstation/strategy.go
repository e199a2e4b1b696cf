// Package labstation provides the verify/repair strategy for labstation hosts.
//
// The graph has three verifiers and two repairs:
//
//	ssh    -> []
//	update -> [ssh]
//	reboot -> [ssh]
//	rpm               triggers [ssh],    depends on []
//	reboot_labstation triggers [reboot], depends on [ssh]
package labstation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/integrations"
	"github.com/labfleet/repair-engine/internal/repair"
	"github.com/labfleet/repair-engine/pkg/config"
)

const (
	// Class is the inventory class served by this strategy
	Class = "labstation"

	// Node names
	VerifierSSH    = "ssh"
	VerifierUpdate = "update"
	VerifierReboot = "reboot"
	RepairRPM      = "rpm"
	RepairReboot   = "reboot_labstation"

	defaultPollInterval = 10 * time.Second
)

// PowerCycler power-cycles the outlet feeding a host
type PowerCycler interface {
	CycleOutlet(ctx context.Context, hostname string, req *integrations.CycleRequest) (*integrations.OutletStatus, error)
	GetOutlet(ctx context.Context, hostname string) (*integrations.OutletStatus, error)
}

// Options tunes the labstation checks
type Options struct {
	// InLab enables the auto-update verifier
	InLab bool
	// ExemptPools never receive auto-updates
	ExemptPools []string
	// UptimeThreshold gates reboot requests coming from DUTs
	UptimeThreshold time.Duration
	// InUseExpiry is how long a servo *_lock marker keeps a labstation busy
	InUseExpiry time.Duration
	// FileDir holds the servod *_lock and *_reboot markers
	FileDir string
	// PowerCycleWait bounds each wait for the host after a power cycle or reboot
	PowerCycleWait time.Duration
	// PollInterval is the reachability poll interval after a power cycle or reboot
	PollInterval time.Duration
}

// OptionsFromConfig derives Options from the service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InLab:           cfg.InLab,
		ExemptPools:     cfg.UpdateExemptPools,
		UptimeThreshold: cfg.RebootUptimeThreshold,
		InUseExpiry:     cfg.InUseFileExpiry,
		FileDir:         cfg.RebootFileDir,
		PowerCycleWait:  cfg.PowerCycleWait,
		PollInterval:    defaultPollInterval,
	}
}

// NewStrategy builds the labstation strategy. power may be nil, in which
// case the rpm repair always fails.
func NewStrategy(opts Options, power PowerCycler, log *logrus.Logger) (*repair.Strategy, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	verifiers := []repair.VerifyNode{
		{Name: VerifierSSH, Verifier: &sshVerifier{}},
		{Name: VerifierUpdate, Verifier: &updateVerifier{opts: opts, log: log}, Dependencies: []string{VerifierSSH}},
		{Name: VerifierReboot, Verifier: &rebootVerifier{opts: opts, log: log}, Dependencies: []string{VerifierSSH}},
	}
	repairs := []repair.RepairNode{
		{Name: RepairRPM, Action: &rpmRepair{power: power, opts: opts, log: log}, Triggers: []string{VerifierSSH}},
		{
			Name:         RepairReboot,
			Action:       &rebootRepair{opts: opts, log: log},
			Triggers:     []string{VerifierReboot},
			Dependencies: []string{VerifierSSH},
		},
	}
	return repair.NewStrategy(Class, verifiers, repairs)
}
