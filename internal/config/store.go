package config

import (
	"context"
	"errors"
	"sync"
)

// ErrEntryNotFound is returned when an entry id is unknown to the store.
var ErrEntryNotFound = errors.New("fleet entry not found")

// Store persists fleet entries. The core only ever sees this interface;
// credentials never touch files directly.
type Store interface {
	Get(ctx context.Context, id string) (*FleetEntry, error)
	List(ctx context.Context) ([]*FleetEntry, error)
	Put(ctx context.Context, entry *FleetEntry) error
	// Update applies fn to a copy of the stored entry and swaps it in as a
	// whole, so configuration rewrites are all-or-nothing.
	Update(ctx context.Context, id string, fn func(*FleetEntry) error) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*FleetEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*FleetEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*FleetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*FleetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*FleetEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, entry *FleetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.ID] = entry.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*FleetEntry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return ErrEntryNotFound
	}

	updated := entry.Clone()
	if err := fn(updated); err != nil {
		return err
	}
	s.entries[id] = updated
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrEntryNotFound
	}
	delete(s.entries, id)
	return nil
}
