package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig configures SSH access to lab hosts
type SSHConfig struct {
	User           string
	KeyFile        string
	KnownHostsFile string
	// Insecure skips host key verification. Only for lab networks where
	// hosts are reimaged and their keys rotate constantly.
	Insecure       bool
	ConnectTimeout time.Duration
}

// ClientConfig builds the x/crypto/ssh client configuration
func (c SSHConfig) ClientConfig() (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:    c.User,
		Timeout: c.ConnectTimeout,
	}

	if c.KeyFile != "" {
		key, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key %s: %w", c.KeyFile, err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	}

	switch {
	case c.Insecure:
		// #nosec G106 -- explicit opt-in
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	case c.KnownHostsFile != "":
		callback, err := knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		cfg.HostKeyCallback = callback
	default:
		return nil, errors.New("ssh host key verification requires a known_hosts file or insecure mode")
	}

	return cfg, nil
}

// SSHTransport runs commands over a lazily dialed, reused SSH connection.
// A broken connection is dropped and redialed on the next command.
type SSHTransport struct {
	address string
	config  *ssh.ClientConfig
	log     *logrus.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHTransport creates a transport for address (host:port)
func NewSSHTransport(address string, cfg SSHConfig, log *logrus.Logger) (*SSHTransport, error) {
	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	return &SSHTransport{
		address: address,
		config:  clientConfig,
		log:     log,
	}, nil
}

func (t *SSHTransport) connect(ctx context.Context) (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	dialer := net.Dialer{Timeout: t.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", t.address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.address, t.config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", t.address, err)
	}
	_ = conn.SetDeadline(time.Time{})

	t.client = ssh.NewClient(sshConn, chans, reqs)
	t.log.WithField("address", t.address).Debug("SSH connection established")
	return t.client, nil
}

func (t *SSHTransport) drop(client *ssh.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == client {
		t.client.Close()
		t.client = nil
	}
}

// Run implements Transport
func (t *SSHTransport) Run(ctx context.Context, command string) (Result, error) {
	client, err := t.connect(ctx)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		// The cached connection went away; redial once.
		t.drop(client)
		if client, err = t.connect(ctx); err != nil {
			return Result{}, err
		}
		if session, err = client.NewSession(); err != nil {
			t.drop(client)
			return Result{}, fmt.Errorf("failed to open ssh session: %w", err)
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	case err = <-done:
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}

	t.drop(client)
	return result, fmt.Errorf("ssh command %q on %s failed: %w", command, t.address, err)
}

// Close implements Transport
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}
