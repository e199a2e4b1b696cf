package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/labfleet/repair-engine/pkg/models"
)

type memoryRecord struct {
	host      string
	startedAt time.Time
	seq       uint64
	payload   []byte
}

// MemoryStore keeps diagnoses in memory. Stored values are copies, so
// callers may keep mutating the diagnosis they saved.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*memoryRecord
	seq        uint64
	maxPerHost int
}

// NewMemoryStore creates an in-memory store keeping at most maxPerHost
// diagnoses per host (0 keeps everything)
func NewMemoryStore(maxPerHost int) *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*memoryRecord),
		maxPerHost: maxPerHost,
	}
}

// Save implements Store
func (s *MemoryStore) Save(ctx context.Context, diag *models.Diagnosis) error {
	payload, err := encode(diag)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec := &memoryRecord{host: diag.Host, startedAt: diag.StartedAt, seq: s.seq, payload: payload}
	if old, ok := s.records[diag.ID]; ok {
		rec.seq = old.seq
	}
	s.records[diag.ID] = rec

	if s.maxPerHost > 0 {
		s.trim(diag.Host)
	}
	return nil
}

func (s *MemoryStore) trim(host string) {
	ids := s.hostIDs(host)
	for _, id := range ids[min(len(ids), s.maxPerHost):] {
		delete(s.records, id)
	}
}

// hostIDs returns the IDs of host's diagnoses, newest first
func (s *MemoryStore) hostIDs(host string) []string {
	var ids []string
	for id, rec := range s.records {
		if rec.host == host {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.records[ids[i]], s.records[ids[j]]
		if !a.startedAt.Equal(b.startedAt) {
			return a.startedAt.After(b.startedAt)
		}
		return a.seq > b.seq
	})
	return ids
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Diagnosis, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode(rec.payload)
}

// List implements Store
func (s *MemoryStore) List(ctx context.Context, host string, limit int) ([]*models.Diagnosis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.hostIDs(host)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*models.Diagnosis, 0, len(ids))
	for _, id := range ids {
		diag, err := decode(s.records[id].payload)
		if err != nil {
			return nil, err
		}
		out = append(out, diag)
	}
	return out, nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
