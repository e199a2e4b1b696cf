package host

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// StateSource supplies the persistent inventory attributes of hosts
type StateSource interface {
	HostState(ctx context.Context, hostname string) (map[string]string, error)
}

// Options configures the command conventions a CommandHost relies on
type Options struct {
	// RebootFileDir holds <hostname>_reboot request markers
	RebootFileDir string
	// UpdateCommand starts an OS update; {version} is replaced with the
	// shell-quoted target version
	UpdateCommand string
}

// NeedRebootStatus is reported by update_engine_client when an applied
// update waits for a reboot
const NeedRebootStatus = "UPDATE_STATUS_UPDATED_NEED_REBOOT"

// CommandHost implements Host by running shell commands over a Transport
type CommandHost struct {
	hostname  string
	transport Transport
	state     StateSource
	opts      Options
	log       *logrus.Logger
}

// NewCommandHost creates a host backed by transport
func NewCommandHost(hostname string, transport Transport, state StateSource, opts Options, log *logrus.Logger) *CommandHost {
	return &CommandHost{
		hostname:  hostname,
		transport: transport,
		state:     state,
		opts:      opts,
		log:       log,
	}
}

// Hostname implements Host
func (h *CommandHost) Hostname() string {
	return h.hostname
}

// IsReachable implements Host
func (h *CommandHost) IsReachable(ctx context.Context) bool {
	result, err := h.transport.Run(ctx, "true")
	if err != nil {
		h.log.WithError(err).WithField("host", h.hostname).Debug("Host not reachable")
		return false
	}
	return result.Success()
}

// Run implements Host
func (h *CommandHost) Run(ctx context.Context, command string) (Result, error) {
	result, err := h.transport.Run(ctx, command)
	if err != nil {
		return result, err
	}
	h.log.WithFields(logrus.Fields{
		"host":      h.hostname,
		"command":   command,
		"exit_code": result.ExitCode,
	}).Debug("Command finished")
	return result, nil
}

// ReadPersistentState implements Host
func (h *CommandHost) ReadPersistentState(ctx context.Context) (map[string]string, error) {
	if h.state == nil {
		return map[string]string{}, nil
	}
	return h.state.HostState(ctx, h.hostname)
}

func (h *CommandHost) rebootMarker() string {
	return path.Join(h.opts.RebootFileDir, h.hostname+"_reboot")
}

// RequestReboot implements Host by dropping a reboot request marker
func (h *CommandHost) RequestReboot(ctx context.Context) error {
	cmd := fmt.Sprintf("mkdir -p %s && touch %s", ShellQuote(h.opts.RebootFileDir), ShellQuote(h.rebootMarker()))
	return h.mustSucceed(ctx, cmd)
}

// IsRebootPending implements Host. A reboot is pending when any request
// marker exists or the update engine is waiting for one.
func (h *CommandHost) IsRebootPending(ctx context.Context) (bool, error) {
	markers, err := h.RebootRequests(ctx)
	if err != nil {
		return false, err
	}
	if len(markers) > 0 {
		return true, nil
	}
	return h.UpdateNeedsReboot(ctx)
}

// RebootRequests lists reboot request markers on the host
func (h *CommandHost) RebootRequests(ctx context.Context) ([]string, error) {
	cmd := fmt.Sprintf("find %s -maxdepth 1 -type f -name '*_reboot' 2>/dev/null", ShellQuote(h.opts.RebootFileDir))
	result, err := h.transport.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return lines(result.Stdout), nil
}

// UpdateNeedsReboot reports whether an applied update is waiting for a reboot
func (h *CommandHost) UpdateNeedsReboot(ctx context.Context) (bool, error) {
	result, err := h.transport.Run(ctx, "update_engine_client --status 2>/dev/null")
	if err != nil {
		return false, err
	}
	return strings.Contains(result.Stdout, NeedRebootStatus), nil
}

// TriggerRemoteUpdate implements Host. The update command is started
// detached and the call returns as soon as it has been launched.
func (h *CommandHost) TriggerRemoteUpdate(ctx context.Context, version string) error {
	update := strings.ReplaceAll(h.opts.UpdateCommand, "{version}", ShellQuote(version))
	cmd := fmt.Sprintf("nohup sh -c %s >/dev/null 2>&1 &", ShellQuote(update))

	h.log.WithFields(logrus.Fields{
		"host":    h.hostname,
		"version": version,
	}).Info("Triggering remote update")
	return h.mustSucceed(ctx, cmd)
}

func (h *CommandHost) mustSucceed(ctx context.Context, cmd string) error {
	result, err := h.transport.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("command %q exited %d: %s", cmd, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Close releases the underlying transport
func (h *CommandHost) Close() error {
	return h.transport.Close()
}

// ShellQuote quotes s for POSIX sh
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func lines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

var _ Host = (*CommandHost)(nil)
