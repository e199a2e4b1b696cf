package repair

import (
	"context"

	"github.com/labfleet/repair-engine/internal/host"
)

// Verifier is a named health check registered in a Strategy
type Verifier interface {
	// Verify checks the host. A nil return passes; an error wrapping
	// ErrInfrastructure aborts the run; any other error fails the check.
	// Verify must not change the host's persistent state.
	Verify(ctx context.Context, h host.Host) error

	// Description returns a short human-readable summary of the check
	Description() string
}

// Action is a remediation procedure registered in a Strategy
type Action interface {
	// Repair attempts to fix the host. Any error counts as a failed attempt.
	Repair(ctx context.Context, h host.Host) error

	// Description returns a short human-readable summary of the repair
	Description() string
}

// VerifierFunc adapts a function to the Verifier interface
type VerifierFunc func(ctx context.Context, h host.Host) error

// Verify calls f(ctx, h)
func (f VerifierFunc) Verify(ctx context.Context, h host.Host) error {
	return f(ctx, h)
}

// Description implements Verifier
func (f VerifierFunc) Description() string {
	return ""
}

// ActionFunc adapts a function to the Action interface
type ActionFunc func(ctx context.Context, h host.Host) error

// Repair calls f(ctx, h)
func (f ActionFunc) Repair(ctx context.Context, h host.Host) error {
	return f(ctx, h)
}

// Description implements Action
func (f ActionFunc) Description() string {
	return ""
}
