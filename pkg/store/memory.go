package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
)

// MemoryStore keeps entries in process memory. It enforces the same
// sequence constraint as the SQL stores.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*auditlog.Entry
	genesis *auditlog.Genesis
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Persist(_ context.Context, e *auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if want := uint64(len(s.entries)) + 1; e.Sequence != want {
		return fmt.Errorf("memory store: sequence %d out of order, want %d", e.Sequence, want)
	}
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]*auditlog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*auditlog.Entry, len(s.entries))
	for i, e := range s.entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) EnsureGenesis(_ context.Context, g auditlog.Genesis) (auditlog.Genesis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.genesis == nil {
		s.genesis = &g
		return g, nil
	}
	if !s.genesis.Matches(g) {
		return *s.genesis, mismatch(*s.genesis, g)
	}
	return *s.genesis, nil
}

func (s *MemoryStore) Close() error { return nil }

func mismatch(stored, configured auditlog.Genesis) error {
	return fmt.Errorf("%w: stored owner=%s oracle=%s timelock=%ds, configured owner=%s oracle=%s timelock=%ds",
		auditlog.ErrGenesisMismatch,
		stored.Owner, stored.Oracle, stored.TimelockSeconds,
		configured.Owner, configured.Oracle, configured.TimelockSeconds,
	)
}
