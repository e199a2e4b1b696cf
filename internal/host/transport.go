package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Transport executes shell commands on one machine
type Transport interface {
	// Run executes command and reports its exit status in Result
	Run(ctx context.Context, command string) (Result, error)

	// Close releases any connection held by the transport
	Close() error
}

// LocalTransport runs commands on the machine the engine runs on
type LocalTransport struct {
	// Shell is the interpreter invoked with -c; defaults to sh
	Shell string
}

// Run implements Transport
func (t *LocalTransport) Run(ctx context.Context, command string) (Result, error) {
	shell := t.Shell
	if shell == "" {
		shell = "sh"
	}

	// #nosec G204 -- commands come from strategy code, not user input
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("failed to run %q: %w", command, err)
}

// Close implements Transport
func (t *LocalTransport) Close() error {
	return nil
}
