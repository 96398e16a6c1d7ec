package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetlink/internal/config"
	"fleetlink/internal/domain"
	"fleetlink/internal/transport"
	"fleetlink/pkg/logger"
)

// Manager owns one coordinator per fleet entry and rebuilds them when an
// entry's configuration changes.
type Manager struct {
	store       config.Store
	factory     transport.Factory
	callTimeout time.Duration
	sinks       []Sink

	mu     sync.RWMutex
	coords map[string]*Coordinator
}

// NewManager creates a manager over the given entry store and transport
// factory.
func NewManager(store config.Store, factory transport.Factory, callTimeout time.Duration, sinks ...Sink) *Manager {
	return &Manager{
		store:       store,
		factory:     factory,
		callTimeout: callTimeout,
		sinks:       sinks,
		coords:      make(map[string]*Coordinator),
	}
}

// StartAll starts a coordinator for every stored entry. Individual failures
// are logged, not fatal.
func (m *Manager) StartAll(ctx context.Context) error {
	entries, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list fleet entries: %w", err)
	}
	for _, entry := range entries {
		if err := m.Start(ctx, entry.ID); err != nil {
			logger.Errorf("entry %s: start failed: %v", entry.ID, err)
		}
	}
	return nil
}

// Start builds and launches the coordinator for one entry, replacing any
// existing one. The old coordinator is fully closed (in-flight poll canceled,
// transport released) before the new one starts.
func (m *Manager) Start(ctx context.Context, entryID string) error {
	entry, err := m.store.Get(ctx, entryID)
	if err != nil {
		return err
	}

	tr, err := m.factory.New(entry)
	if err != nil {
		return fmt.Errorf("entry %s: no transport: %w", entryID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.coords[entryID]; ok {
		old.Close()
	}

	c := New(entry, tr, m.callTimeout, m.sinks...)
	c.Start()
	m.coords[entryID] = c

	logger.Infof("entry %s: polling started (%s, %d devices)", entryID, transport.KindFor(entry), len(entry.Devices))
	return nil
}

// Reload re-reads the entry's configuration and restarts its coordinator.
// Called by the transition machine after a connectivity-mode change.
func (m *Manager) Reload(ctx context.Context, entryID string) error {
	return m.Start(ctx, entryID)
}

// Stop closes the entry's coordinator if it is running.
func (m *Manager) Stop(entryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.coords[entryID]; ok {
		c.Close()
		delete(m.coords, entryID)
	}
}

// StopAll closes every coordinator.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, c := range m.coords {
		c.Close()
		delete(m.coords, id)
	}
}

// Refresh triggers an on-demand poll for the entry.
func (m *Manager) Refresh(ctx context.Context, entryID string) (*domain.Snapshot, error) {
	m.mu.RLock()
	c, ok := m.coords[entryID]
	m.mu.RUnlock()

	if !ok {
		return nil, config.ErrEntryNotFound
	}
	return c.Refresh(ctx)
}

// Snapshot returns an entry's latest snapshot; tracked applies the monotonic
// counter guard, raw exposes the transport values for diagnostics.
func (m *Manager) Snapshot(entryID string, tracked bool) (*domain.Snapshot, bool) {
	m.mu.RLock()
	c, ok := m.coords[entryID]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if tracked {
		return c.Tracked(), true
	}
	return c.Snapshot(), true
}

// Stats returns poll-health counters per running entry.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.coords))
	for id, c := range m.coords {
		out[id] = c.Stats()
	}
	return out
}
