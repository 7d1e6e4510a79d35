package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. Used by tests and LEDGER_BACKEND=memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Fields
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]Fields{}}
}

func (s *MemoryStore) Create(ctx context.Context, id string, fields Fields) error {
	if err := ValidateJobID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return ErrJobExists
	}
	rec := Fields{}
	rec.apply(fields)
	s.jobs[id] = rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Set(ctx context.Context, id string, patch Fields) error {
	return s.Update(ctx, id, func(Fields) (Fields, error) { return patch, nil })
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	patch, err := fn(rec.Clone())
	if err != nil {
		return err
	}
	rec.apply(patch)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
