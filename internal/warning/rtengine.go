// Package warning implements the two-layer warning engine: the
// synchronous real-time trigger/recovery state machine (C8, this
// file) and the asynchronous batched persistence layer (C9, store.go),
// composed by the manager (C10, manager.go).
package warning

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pmuwatch/domain/warning"
	"pmuwatch/internal/metrics"
)

const maxHistoryEntries = 100

// historyEntry is one (timestamp, value) observation, optionally
// carrying the violation classification that produced it.
type historyEntry struct {
	ts        time.Time
	value     float64
	violation *violation
}

type violation struct {
	severity       warning.Severity
	thresholdType  warning.ThresholdType
	thresholdValue float64
	deviation      float64
}

// RTEngine is C8: an in-memory N-of-M trigger / M-of-M recovery
// hysteresis state machine. All structural state (active events,
// trigger/recovery histories) is guarded by a single mutex per
// spec.md §4.7; hot-path counters are atomics updated outside the
// lock, grounded on etalazz-vsa's core/metrics.go.
type RTEngine struct {
	mu sync.Mutex

	configs map[string]warning.ThresholdConfig
	active  map[string]warning.Event
	trigger map[string][]historyEntry
	recover map[string][]historyEntry

	onChange func(warning.Event)

	totalChecks  atomic.Int64
	sumLatencyNs atomic.Int64
	maxLatencyNs atomic.Int64
}

// NewRTEngine builds an engine for the given threshold configs,
// installing onChange as the callback invoked for every event
// creation, update, and terminal transition.
func NewRTEngine(configs []warning.ThresholdConfig, onChange func(warning.Event)) *RTEngine {
	e := &RTEngine{
		configs:  make(map[string]warning.ThresholdConfig, len(configs)),
		active:   make(map[string]warning.Event),
		trigger:  make(map[string][]historyEntry),
		recover:  make(map[string][]historyEntry),
		onChange: onChange,
	}
	for _, c := range configs {
		e.configs[c.SignalID] = c.WithDefaults()
	}
	return e
}

// Check implements spec.md §4.7's check(signal_id, value, ts) -> Event?.
// An unknown signal_id is a silent no-op: nil, no mutation, no error.
func (e *RTEngine) Check(signalID string, value float64, ts time.Time) *warning.Event {
	start := time.Now()
	defer e.recordLatency(start)

	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, ok := e.configs[signalID]
	if !ok {
		return nil
	}

	violations := classify(cfg, value)

	if len(violations) > 0 {
		v := bestViolation(violations)
		e.trigger[signalID] = append(e.trigger[signalID], historyEntry{ts: ts, value: value, violation: &v})
		e.recover[signalID] = nil
		return e.evaluateTrigger(signalID, cfg, ts)
	}

	e.recover[signalID] = capHistory(append(e.recover[signalID], historyEntry{ts: ts, value: value}))
	if _, active := e.active[signalID]; active {
		return e.evaluateRecovery(signalID, cfg, ts)
	}
	return nil
}

func (e *RTEngine) recordLatency(start time.Time) {
	elapsed := time.Since(start)
	metrics.ObserveCheck(elapsed)

	elapsedNs := elapsed.Nanoseconds()
	e.totalChecks.Add(1)
	e.sumLatencyNs.Add(elapsedNs)
	for {
		cur := e.maxLatencyNs.Load()
		if elapsedNs <= cur {
			return
		}
		if e.maxLatencyNs.CompareAndSwap(cur, elapsedNs) {
			return
		}
	}
}

// evaluateTrigger implements spec.md §4.7's evaluate-trigger: prune
// expired entries, and if >= N remain within W_t, create or update the
// active event.
func (e *RTEngine) evaluateTrigger(signalID string, cfg warning.ThresholdConfig, now time.Time) *warning.Event {
	fresh := pruneHistory(e.trigger[signalID], now, cfg.TriggerWindow)
	fresh = capHistory(fresh)
	e.trigger[signalID] = fresh

	if len(fresh) < cfg.TriggerCount {
		return nil
	}

	latest := fresh[len(fresh)-1].violation

	if existing, ok := e.active[signalID]; ok {
		existing.TriggerCount = len(fresh)
		existing.MaxDeviation = maxDeviation(fresh)
		existing.ValuesDuringEvent = valuesOf(fresh)
		e.active[signalID] = existing
		if e.onChange != nil {
			e.onChange(existing.Clone())
		}
		return nil
	}

	firstTrigger := fresh[0].ts
	event := warning.Event{
		EventID:           fmt.Sprintf("%s_%d", signalID, firstTrigger.Unix()),
		SignalID:          signalID,
		SignalType:        cfg.SignalType,
		Severity:          latest.severity,
		State:             warning.StateActive,
		ThresholdType:     latest.thresholdType,
		ThresholdValue:    latest.thresholdValue,
		TriggerValue:      fresh[len(fresh)-1].value,
		FirstTriggerTime:  firstTrigger,
		EventStartTime:    now,
		TriggerCount:      len(fresh),
		MaxDeviation:      maxDeviation(fresh),
		ValuesDuringEvent: valuesOf(fresh),
		Message:           fmt.Sprintf("%s threshold violation on %s", latest.severity, signalID),
	}
	e.active[signalID] = event

	result := event.Clone()
	if e.onChange != nil {
		e.onChange(result.Clone())
	}
	return &result
}

// evaluateRecovery implements spec.md §4.7's evaluate-recovery: prune
// expired normals, and if >= M remain within W_r, either finalize as
// RECOVERED (duration >= D_min) or discard silently.
func (e *RTEngine) evaluateRecovery(signalID string, cfg warning.ThresholdConfig, now time.Time) *warning.Event {
	fresh := pruneNormalHistory(e.recover[signalID], now, cfg.RecoveryWindow)
	fresh = capHistory(fresh)
	e.recover[signalID] = fresh

	if len(fresh) < cfg.RecoveryCount {
		return nil
	}

	active, ok := e.active[signalID]
	if !ok {
		return nil
	}

	duration := now.Sub(active.EventStartTime)
	if duration < cfg.MinEventDuration {
		delete(e.active, signalID)
		e.trigger[signalID] = nil
		e.recover[signalID] = nil
		return nil
	}

	endTime := now
	active.EventEndTime = &endTime
	active.Duration = &duration
	active.State = warning.StateRecovered
	active.Message = active.Message + "; recovered"

	delete(e.active, signalID)
	e.trigger[signalID] = nil
	e.recover[signalID] = nil

	result := active.Clone()
	if e.onChange != nil {
		e.onChange(result.Clone())
	}
	return &result
}

// ActiveEvents returns a snapshot copy of every currently active event.
func (e *RTEngine) ActiveEvents() map[string]warning.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]warning.Event, len(e.active))
	for k, v := range e.active {
		out[k] = v.Clone()
	}
	return out
}

// Acknowledge marks the active event for signalID acknowledged by
// user, returning false if no active event exists.
func (e *RTEngine) Acknowledge(signalID, user string, at time.Time) (warning.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	active, ok := e.active[signalID]
	if !ok {
		return warning.Event{}, false
	}
	active.Acknowledged = true
	active.AcknowledgedBy = &user
	active.AcknowledgedAt = &at
	active.State = warning.StateAcknowledged
	e.active[signalID] = active
	return active.Clone(), true
}

// AcknowledgeByEventID finds an active event by its EventID across all
// signals and acknowledges it, returning false if not found.
func (e *RTEngine) AcknowledgeByEventID(eventID, user string, at time.Time) (warning.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for signalID, active := range e.active {
		if active.EventID != eventID {
			continue
		}
		active.Acknowledged = true
		active.AcknowledgedBy = &user
		active.AcknowledgedAt = &at
		active.State = warning.StateAcknowledged
		e.active[signalID] = active
		return active.Clone(), true
	}
	return warning.Event{}, false
}

// Statistics is the hot-path-safe counter snapshot described in
// spec.md §4.9's get_statistics.
type Statistics struct {
	ActiveCount      int
	BySeverity       map[warning.Severity]int
	BySignal         map[string]int
	TotalChecks      int64
	AverageLatencyNs float64
	MaxLatencyNs     int64
}

// Statistics aggregates the active set (mutex-guarded) with the
// atomic hot-path counters (lock-free).
func (e *RTEngine) Statistics() Statistics {
	e.mu.Lock()
	bySeverity := make(map[warning.Severity]int)
	bySignal := make(map[string]int)
	for signalID, ev := range e.active {
		bySeverity[ev.Severity]++
		bySignal[signalID]++
	}
	activeCount := len(e.active)
	e.mu.Unlock()

	total := e.totalChecks.Load()
	sum := e.sumLatencyNs.Load()
	avg := 0.0
	if total > 0 {
		avg = float64(sum) / float64(total)
	}

	bySeverityStr := make(map[string]int, len(bySeverity))
	for sev, n := range bySeverity {
		bySeverityStr[string(sev)] = n
	}
	metrics.SetActiveEvents(bySeverityStr)

	return Statistics{
		ActiveCount:      activeCount,
		BySeverity:       bySeverity,
		BySignal:         bySignal,
		TotalChecks:      total,
		AverageLatencyNs: avg,
		MaxLatencyNs:     e.maxLatencyNs.Load(),
	}
}

func classify(cfg warning.ThresholdConfig, value float64) []violation {
	var out []violation
	if cfg.CriticalMin != nil && value < *cfg.CriticalMin {
		out = append(out, violation{warning.SeverityCritical, warning.ThresholdMin, *cfg.CriticalMin, *cfg.CriticalMin - value})
	}
	if cfg.CriticalMax != nil && value > *cfg.CriticalMax {
		out = append(out, violation{warning.SeverityCritical, warning.ThresholdMax, *cfg.CriticalMax, value - *cfg.CriticalMax})
	}
	if cfg.WarningMin != nil && value < *cfg.WarningMin {
		out = append(out, violation{warning.SeverityWarning, warning.ThresholdMin, *cfg.WarningMin, *cfg.WarningMin - value})
	}
	if cfg.WarningMax != nil && value > *cfg.WarningMax {
		out = append(out, violation{warning.SeverityWarning, warning.ThresholdMax, *cfg.WarningMax, value - *cfg.WarningMax})
	}
	return out
}

// bestViolation picks CRITICAL over WARNING, then the larger deviation
// within the same severity, per spec.md §3's invariant.
func bestViolation(violations []violation) violation {
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].severity != violations[j].severity {
			return severityRank(violations[i].severity) > severityRank(violations[j].severity)
		}
		return violations[i].deviation > violations[j].deviation
	})
	return violations[0]
}

func severityRank(s warning.Severity) int {
	switch s {
	case warning.SeverityCritical:
		return 2
	case warning.SeverityWarning:
		return 1
	default:
		return 0
	}
}

func pruneHistory(entries []historyEntry, now time.Time, window time.Duration) []historyEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if now.Sub(e.ts) <= window {
			out = append(out, e)
		}
	}
	return out
}

func pruneNormalHistory(entries []historyEntry, now time.Time, window time.Duration) []historyEntry {
	return pruneHistory(entries, now, window)
}

func capHistory(entries []historyEntry) []historyEntry {
	if len(entries) <= maxHistoryEntries {
		return entries
	}
	overflow := len(entries) - maxHistoryEntries
	return append(entries[:0:0], entries[overflow:]...)
}

func maxDeviation(entries []historyEntry) float64 {
	var max float64
	for _, e := range entries {
		if e.violation != nil && e.violation.deviation > max {
			max = e.violation.deviation
		}
	}
	return max
}

func valuesOf(entries []historyEntry) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}
