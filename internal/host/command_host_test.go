package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

type staticState map[string]map[string]string

func (s staticState) HostState(ctx context.Context, hostname string) (map[string]string, error) {
	return s[hostname], nil
}

func TestLocalTransport_Run(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		exitCode int
		stdout   string
		stderr   string
	}{
		{name: "success", command: "echo hello", stdout: "hello\n"},
		{name: "non-zero exit", command: "echo oops >&2; exit 3", exitCode: 3, stderr: "oops\n"},
		{name: "false", command: "false", exitCode: 1},
	}

	transport := &LocalTransport{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := transport.Run(context.Background(), tt.command)

			require.NoError(t, err)
			assert.Equal(t, tt.exitCode, result.ExitCode)
			assert.Equal(t, tt.stdout, result.Stdout)
			assert.Equal(t, tt.stderr, result.Stderr)
		})
	}
}

func TestLocalTransport_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := (&LocalTransport{}).Run(ctx, "sleep 5")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func newLocalHost(t *testing.T, dir string) *CommandHost {
	t.Helper()
	return NewCommandHost("labstation-1", &LocalTransport{},
		staticState{"labstation-1": {"board": "fizz"}},
		Options{
			RebootFileDir: dir,
			UpdateCommand: "echo {version} > " + filepath.Join(dir, "version"),
		},
		testLogger(),
	)
}

func TestCommandHost_Reachability(t *testing.T) {
	h := newLocalHost(t, t.TempDir())

	assert.Equal(t, "labstation-1", h.Hostname())
	assert.True(t, h.IsReachable(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, h.IsReachable(ctx))
}

func TestCommandHost_RebootRequests(t *testing.T) {
	dir := t.TempDir()
	h := newLocalHost(t, filepath.Join(dir, "servod"))
	ctx := context.Background()

	pending, err := h.IsRebootPending(ctx)
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, h.RequestReboot(ctx))

	pending, err = h.IsRebootPending(ctx)
	require.NoError(t, err)
	assert.True(t, pending)

	markers, err := h.RebootRequests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "servod", "labstation-1_reboot")}, markers)
}

func TestCommandHost_TriggerRemoteUpdate(t *testing.T) {
	dir := t.TempDir()
	h := newLocalHost(t, dir)

	require.NoError(t, h.TriggerRemoteUpdate(context.Background(), "fizz-labstation-release/R100-14500.0.0"))

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "version"))
		return err == nil && strings.TrimSpace(string(data)) == "fizz-labstation-release/R100-14500.0.0"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCommandHost_ReadPersistentState(t *testing.T) {
	h := newLocalHost(t, t.TempDir())

	state, err := h.ReadPersistentState(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"board": "fizz"}, state)

	bare := NewCommandHost("h", &LocalTransport{}, nil, Options{}, testLogger())
	state, err = bare.ReadPersistentState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state)
}

func TestCommandHost_MustSucceedReportsExitCode(t *testing.T) {
	h := NewCommandHost("h", &LocalTransport{}, nil, Options{
		RebootFileDir: "/proc/not-writable",
	}, testLogger())

	err := h.RequestReboot(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, ShellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))

	result, err := (&LocalTransport{}).Run(context.Background(), "printf %s "+ShellQuote("a 'b' $c"))
	require.NoError(t, err)
	assert.Equal(t, "a 'b' $c", result.Stdout)
}

func TestResult(t *testing.T) {
	assert.True(t, Result{}.Success())
	assert.False(t, Result{ExitCode: 1}.Success())
	assert.Equal(t, "ok", Result{Stdout: " ok\n"}.Output())
}
