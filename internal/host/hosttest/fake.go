// Package hosttest provides an in-memory host.Host for tests.
package hosttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/labfleet/repair-engine/internal/host"
)

// FakeHost is a scriptable host.Host. Its zero value is unreachable and
// answers every command with exit status 127.
type FakeHost struct {
	Name string

	mu              sync.Mutex
	reachable       bool
	state           map[string]string
	commands        map[string]host.Result
	commandErr      error
	rebootPending   bool
	rebootRequests  int
	updateVersions  []string
	ran             []string
	onRun           func(command string)
	reachableAfterN int
}

// New creates a reachable fake host
func New(name string) *FakeHost {
	return &FakeHost{
		Name:      name,
		reachable: true,
		state:     make(map[string]string),
		commands:  make(map[string]host.Result),
	}
}

// SetReachable changes what IsReachable reports
func (f *FakeHost) SetReachable(reachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable = reachable
	f.reachableAfterN = 0
}

// ReachableAfter makes IsReachable report false for the first n calls and
// true afterwards
func (f *FakeHost) ReachableAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable = false
	f.reachableAfterN = n
}

// SetState replaces the persistent state
func (f *FakeHost) SetState(state map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = make(map[string]string, len(state))
	for k, v := range state {
		f.state[k] = v
	}
}

// SetCommand scripts the result returned for command
func (f *FakeHost) SetCommand(command string, result host.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commands == nil {
		f.commands = make(map[string]host.Result)
	}
	f.commands[command] = result
}

// SetCommandError makes every Run call fail with err
func (f *FakeHost) SetCommandError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commandErr = err
}

// SetRebootPending changes what IsRebootPending reports
func (f *FakeHost) SetRebootPending(pending bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebootPending = pending
}

// OnRun registers a hook called with every command before it is answered
func (f *FakeHost) OnRun(fn func(command string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRun = fn
}

// Ran returns the commands executed so far
func (f *FakeHost) Ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

// RebootRequests returns how many times RequestReboot was called
func (f *FakeHost) RebootRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rebootRequests
}

// UpdateVersions returns the versions passed to TriggerRemoteUpdate
func (f *FakeHost) UpdateVersions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updateVersions...)
}

// Hostname implements host.Host
func (f *FakeHost) Hostname() string {
	return f.Name
}

// IsReachable implements host.Host
func (f *FakeHost) IsReachable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	if f.reachableAfterN > 0 {
		f.reachableAfterN--
		if f.reachableAfterN == 0 {
			f.reachable = true
		}
		return false
	}
	return f.reachable
}

// Run implements host.Host
func (f *FakeHost) Run(ctx context.Context, command string) (host.Result, error) {
	f.mu.Lock()
	hook := f.onRun
	f.ran = append(f.ran, command)
	result, ok := f.commands[command]
	err := f.commandErr
	f.mu.Unlock()

	if hook != nil {
		hook(command)
	}
	if err != nil {
		return host.Result{}, err
	}
	if cerr := ctx.Err(); cerr != nil {
		return host.Result{}, cerr
	}
	if !ok {
		return host.Result{ExitCode: 127, Stderr: fmt.Sprintf("%s: command not found", command)}, nil
	}
	return result, nil
}

// ReadPersistentState implements host.Host
func (f *FakeHost) ReadPersistentState(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.state))
	for k, v := range f.state {
		out[k] = v
	}
	return out, nil
}

// RequestReboot implements host.Host
func (f *FakeHost) RequestReboot(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebootRequests++
	f.rebootPending = true
	return nil
}

// IsRebootPending implements host.Host
func (f *FakeHost) IsRebootPending(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rebootPending, nil
}

// TriggerRemoteUpdate implements host.Host
func (f *FakeHost) TriggerRemoteUpdate(ctx context.Context, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateVersions = append(f.updateVersions, version)
	return nil
}

var _ host.Host = (*FakeHost)(nil)
