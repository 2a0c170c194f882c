package warning

import (
	"context"
	"sync"
	"time"

	domain "pmuwatch/domain/warning"
	"pmuwatch/internal/errors"
	"pmuwatch/internal/logging"
	"pmuwatch/ports"
)

// Manager is C10: composes the real-time engine (C8) and the batched
// store (C9), installing an event-change callback from the former into
// the latter. It owns the only mutable references to both, per
// spec.md §5, and is the sole entry point the ingestion adapter and
// HTTP surface use.
type Manager struct {
	mu     sync.RWMutex
	engine *RTEngine
	store  *Store
	log    *logging.Logger
}

// NewManager builds a manager whose store drains every storeInterval.
func NewManager(gateway ports.TSDBGateway, configs []domain.ThresholdConfig, storeInterval time.Duration, log *logging.Logger) *Manager {
	store := NewStore(gateway, storeInterval, log)
	m := &Manager{store: store, log: log}
	m.engine = NewRTEngine(configs, m.onEventChange)
	return m
}

// Start launches the store's drain loop. C8 has no loop of its own: it
// runs synchronously on the caller's thread per spec.md §5.
func (m *Manager) Start(ctx context.Context) {
	m.store.Start(ctx)
}

// Stop stops the store's drain loop with a final flush.
func (m *Manager) Stop() {
	m.store.Stop()
}

func (m *Manager) onEventChange(ev domain.Event) {
	m.store.Enqueue(ev)
}

// CheckValue delegates to C8. Non-blocking, no I/O, per spec.md §5.
func (m *Manager) CheckValue(signalID string, value float64, ts time.Time) *domain.Event {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	return engine.Check(signalID, value, ts)
}

// GetActiveWarnings returns a snapshot copy of C8's active set.
func (m *Manager) GetActiveWarnings() map[string]domain.Event {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	return engine.ActiveEvents()
}

// QueryHistorical delegates to C9.
func (m *Manager) QueryHistorical(ctx context.Context, q HistoricalQuery) []domain.Event {
	return m.store.QueryHistorical(ctx, q)
}

// AcknowledgeEvent sets acknowledged=true/by/at on the active event
// matching eventID and re-enqueues it into C9. Returns whether an
// active event with that id was found.
func (m *Manager) AcknowledgeEvent(eventID, user string, at time.Time) (domain.Event, bool) {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()

	ev, ok := engine.AcknowledgeByEventID(eventID, user, at)
	if !ok {
		return domain.Event{}, false
	}
	m.store.Enqueue(ev)
	return ev, true
}

// UpdateThresholds atomically replaces C8 with a fresh instance bound
// to the same callback. C9 is not recreated. In-flight active events
// are discarded, an accepted side effect of reconfiguration per
// spec.md §4.9. A malformed configs list (blank or duplicate
// signal_id) is rejected and leaves the current engine untouched.
func (m *Manager) UpdateThresholds(configs []domain.ThresholdConfig) error {
	if err := validateConfigs(configs); err != nil {
		return err
	}
	fresh := NewRTEngine(configs, m.onEventChange)

	m.mu.Lock()
	m.engine = fresh
	m.mu.Unlock()
	return nil
}

// GetStatistics returns C8's statistics snapshot.
func (m *Manager) GetStatistics() Statistics {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	return engine.Statistics()
}

// validateConfigs rejects a reconfiguration list with duplicate
// signal_ids or a blank signal_id, surfaced as a typed error rather
// than silently clobbering state.
func validateConfigs(configs []domain.ThresholdConfig) error {
	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if c.SignalID == "" {
			return errors.ValidationError("threshold config missing signal_id")
		}
		if seen[c.SignalID] {
			return errors.ValidationError("duplicate threshold config for signal_id " + c.SignalID)
		}
		seen[c.SignalID] = true
	}
	return nil
}
