// Package inventory holds the persistent description of lab hosts.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrHostNotFound is returned when a host is not in the inventory
var ErrHostNotFound = errors.New("host not found in inventory")

// State keys produced by HostInfo.State
const (
	KeyHostname         = "hostname"
	KeyClass            = "class"
	KeyAddress          = "address"
	KeyBoard            = "board"
	KeyModel            = "model"
	KeyPools            = "pools"
	StableVersionPrefix = "stable_version."
	AttributePrefix     = "attr."
	StableVersionCrOS   = "cros"
)

// HostInfo describes one lab host
type HostInfo struct {
	Hostname       string            `yaml:"hostname" json:"hostname" validate:"required,hostname_rfc1123"`
	Class          string            `yaml:"class" json:"class" validate:"required,max=64"`
	Address        string            `yaml:"address,omitempty" json:"address,omitempty" validate:"omitempty,ip|hostname_rfc1123"`
	Board          string            `yaml:"board,omitempty" json:"board,omitempty"`
	Model          string            `yaml:"model,omitempty" json:"model,omitempty"`
	Pools          []string          `yaml:"pools,omitempty" json:"pools,omitempty" validate:"dive,required"`
	StableVersions map[string]string `yaml:"stable_versions,omitempty" json:"stable_versions,omitempty" validate:"dive,keys,required,endkeys,required"`
	Attributes     map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Addr returns the network address to dial, defaulting to the hostname
func (h *HostInfo) Addr() string {
	if h.Address != "" {
		return h.Address
	}
	return h.Hostname
}

// InPool reports whether the host belongs to pool
func (h *HostInfo) InPool(pool string) bool {
	for _, p := range h.Pools {
		if p == pool {
			return true
		}
	}
	return false
}

// State flattens the host into the string map exposed to verifiers
func (h *HostInfo) State() map[string]string {
	state := map[string]string{
		KeyHostname: h.Hostname,
		KeyClass:    h.Class,
	}
	if h.Address != "" {
		state[KeyAddress] = h.Address
	}
	if h.Board != "" {
		state[KeyBoard] = h.Board
	}
	if h.Model != "" {
		state[KeyModel] = h.Model
	}
	if len(h.Pools) > 0 {
		state[KeyPools] = strings.Join(h.Pools, ",")
	}
	for kind, version := range h.StableVersions {
		state[StableVersionPrefix+kind] = version
	}
	for k, v := range h.Attributes {
		state[AttributePrefix+k] = v
	}
	return state
}

// FromState rebuilds a HostInfo from its flattened State form
func FromState(state map[string]string) HostInfo {
	info := HostInfo{
		Hostname: state[KeyHostname],
		Class:    state[KeyClass],
		Address:  state[KeyAddress],
		Board:    state[KeyBoard],
		Model:    state[KeyModel],
	}
	if pools := state[KeyPools]; pools != "" {
		for _, p := range strings.Split(pools, ",") {
			if p = strings.TrimSpace(p); p != "" {
				info.Pools = append(info.Pools, p)
			}
		}
	}
	for k, v := range state {
		switch {
		case strings.HasPrefix(k, StableVersionPrefix):
			if info.StableVersions == nil {
				info.StableVersions = make(map[string]string)
			}
			info.StableVersions[strings.TrimPrefix(k, StableVersionPrefix)] = v
		case strings.HasPrefix(k, AttributePrefix):
			if info.Attributes == nil {
				info.Attributes = make(map[string]string)
			}
			info.Attributes[strings.TrimPrefix(k, AttributePrefix)] = v
		}
	}
	return info
}

// PoolsFromState splits the pools entry of a state map
func PoolsFromState(state map[string]string) []string {
	return FromState(map[string]string{KeyPools: state[KeyPools]}).Pools
}

// Store is a read-only source of host descriptions
type Store interface {
	// Get returns the named host or an error wrapping ErrHostNotFound
	Get(ctx context.Context, hostname string) (*HostInfo, error)

	// List returns all hosts sorted by hostname
	List(ctx context.Context) ([]HostInfo, error)

	// HostState returns the flattened state of the named host
	HostState(ctx context.Context, hostname string) (map[string]string, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a host description
func (h *HostInfo) Validate() error {
	if err := validate.Struct(h); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid host %q: %s", h.Hostname, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid host %q: %w", h.Hostname, err)
	}
	return nil
}

func sortHosts(hosts []HostInfo) {
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Hostname < hosts[j].Hostname
	})
}

func stateOf(ctx context.Context, s Store, hostname string) (map[string]string, error) {
	info, err := s.Get(ctx, hostname)
	if err != nil {
		return nil, err
	}
	return info.State(), nil
}
