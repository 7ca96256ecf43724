package leafstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that rely on snapshot files rather than a database for durability.
type MemoryStore struct {
	mu     sync.RWMutex
	leaves []Leaf
	byHash map[string]uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]uint64)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, leaf Leaf) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leaf.Index != uint64(len(s.leaves)) {
		return fmt.Errorf("%w: got %d, next is %d", ErrOutOfOrder, leaf.Index, len(s.leaves))
	}
	if _, ok := s.byHash[leaf.Checksum]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, leaf.Checksum)
	}
	if err := leaf.check(); err != nil {
		return err
	}
	s.leaves = append(s.leaves, leaf)
	s.byHash[leaf.Checksum] = leaf.Index
	return nil
}

// Leaves implements Store.
func (s *MemoryStore) Leaves(_ context.Context) ([]Leaf, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Leaf, len(s.leaves))
	copy(out, s.leaves)
	return out, nil
}

// Len implements Store.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leaves), nil
}

// Verify implements Store.
func (s *MemoryStore) Verify(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verifyChain(s.leaves)
}
