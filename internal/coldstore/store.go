package coldstore

import (
	"context"
	"sync"

	"github.com/bdpgmbv/rtve/pkg/types"
)

// ColdStore appends price history batches
type ColdStore interface {
	AppendBatch(ctx context.Context, ticks []types.PriceTick) error
}

// MemoryStore keeps appended ticks in memory. It backs development
// runs without a database and the flusher tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows []types.PriceTick
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendBatch(ctx context.Context, ticks []types.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, ticks...)
	return nil
}

// Rows returns a copy of everything appended so far
func (s *MemoryStore) Rows() []types.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PriceTick, len(s.rows))
	copy(out, s.rows)
	return out
}
