package host

import (
	"context"
	"strings"
)

// Result is the outcome of a command executed on a host
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Success reports whether the command exited with status 0
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns trimmed stdout
func (r Result) Output() string {
	return strings.TrimSpace(r.Stdout)
}

// Host is the capability set verifiers and repair actions may use.
// The engine itself never calls it.
type Host interface {
	// Hostname returns the host's identifier
	Hostname() string

	// IsReachable reports whether the host answers within the context deadline
	IsReachable(ctx context.Context) bool

	// Run executes command on the host. A non-zero exit is reported in Result,
	// not as an error; errors mean the command could not be run at all.
	Run(ctx context.Context, command string) (Result, error)

	// ReadPersistentState returns inventory attributes for the host
	ReadPersistentState(ctx context.Context) (map[string]string, error)

	// RequestReboot records a reboot request for the host
	RequestReboot(ctx context.Context) error

	// IsRebootPending reports whether a reboot has been requested or is required
	IsRebootPending(ctx context.Context) (bool, error)

	// TriggerRemoteUpdate starts an update to version and returns without waiting
	TriggerRemoteUpdate(ctx context.Context, version string) error
}
