package dedup

import (
	"context"
	"sync"
)

// MemStore is a non-durable Store.
type MemStore struct {
	mu     sync.Mutex
	set    *fifoSet
	closed bool
}

func NewMemStore(capacity int, seed ...string) *MemStore {
	s := &MemStore{set: newFIFOSet(capacity)}
	s.set.load(seed)
	return s
}

func (s *MemStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.contains(id)
}

func (s *MemStore) Record(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if id != "" {
		s.set.add(id)
	}
	return nil
}

func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.len()
}

func (s *MemStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.snapshot()
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
