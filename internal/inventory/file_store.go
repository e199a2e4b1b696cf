package inventory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// inventoryFile is the on-disk layout of a YAML inventory
type inventoryFile struct {
	Hosts []HostInfo `yaml:"hosts"`
}

// FileStore serves hosts loaded once from a YAML file
type FileStore struct {
	path  string
	hosts map[string]HostInfo
}

// NewFileStore loads and validates the inventory at path
func NewFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}
	hosts, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}

	store := &FileStore{
		path:  path,
		hosts: make(map[string]HostInfo, len(hosts)),
	}
	for _, h := range hosts {
		store.hosts[h.Hostname] = h
	}
	return store, nil
}

// Parse decodes and validates a YAML inventory document
func Parse(data []byte) ([]HostInfo, error) {
	var doc inventoryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	seen := make(map[string]bool, len(doc.Hosts))
	for i := range doc.Hosts {
		h := &doc.Hosts[i]
		if err := h.Validate(); err != nil {
			return nil, fmt.Errorf("host #%d: %w", i, err)
		}
		if seen[h.Hostname] {
			return nil, fmt.Errorf("duplicate host %q", h.Hostname)
		}
		seen[h.Hostname] = true
	}
	return doc.Hosts, nil
}

// Path returns the file the store was loaded from
func (s *FileStore) Path() string {
	return s.path
}

// Get implements Store
func (s *FileStore) Get(ctx context.Context, hostname string) (*HostInfo, error) {
	h, ok := s.hosts[hostname]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
	}
	return &h, nil
}

// List implements Store
func (s *FileStore) List(ctx context.Context) ([]HostInfo, error) {
	hosts := make([]HostInfo, 0, len(s.hosts))
	for _, h := range s.hosts {
		hosts = append(hosts, h)
	}
	sortHosts(hosts)
	return hosts, nil
}

// HostState implements Store
func (s *FileStore) HostState(ctx context.Context, hostname string) (map[string]string, error) {
	return stateOf(ctx, s, hostname)
}
