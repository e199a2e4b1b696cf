package coordination

import (
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/host"
	"github.com/labfleet/repair-engine/internal/inventory"
	"github.com/labfleet/repair-engine/pkg/config"
)

// HostFactory builds the host.Host a run operates on. If the returned host
// implements io.Closer it is closed when the run ends.
type HostFactory func(info *inventory.HostInfo) (host.Host, error)

// NewHostFactory returns a factory creating command hosts over SSH, or over
// the local shell when cfg.LocalHosts is set
func NewHostFactory(cfg *config.Config, state host.StateSource, log *logrus.Logger) HostFactory {
	opts := host.Options{
		RebootFileDir: cfg.RebootFileDir,
		UpdateCommand: cfg.UpdateCommand,
	}
	sshConfig := host.SSHConfig{
		User:           cfg.SSHUser,
		KeyFile:        cfg.SSHKeyFile,
		KnownHostsFile: cfg.SSHKnownHosts,
		Insecure:       cfg.SSHInsecure,
		ConnectTimeout: cfg.SSHConnectTimeout,
	}

	return func(info *inventory.HostInfo) (host.Host, error) {
		if cfg.LocalHosts {
			return host.NewCommandHost(info.Hostname, &host.LocalTransport{}, state, opts, log), nil
		}

		address := net.JoinHostPort(info.Addr(), strconv.Itoa(cfg.SSHPort))
		transport, err := host.NewSSHTransport(address, sshConfig, log)
		if err != nil {
			return nil, err
		}
		return host.NewCommandHost(info.Hostname, transport, state, opts, log), nil
	}
}
