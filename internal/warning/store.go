package warning

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "pmuwatch/domain/warning"
	"pmuwatch/internal/logging"
	"pmuwatch/internal/metrics"
	"pmuwatch/ports"
)

const (
	measurementWarningEvents     = "warning_events"
	measurementWarningRecoveries = "warning_recoveries"
)

// Store is C9: an unbounded write queue drained on a ticker into the
// warnings TSDB, grounded on etalazz-vsa's core/worker.go commitLoop
// (ticker + final flush on stop) and its persistence/postgres.go
// idempotent-commit pattern (batch id, ON CONFLICT DO NOTHING).
type Store struct {
	gateway  ports.TSDBGateway
	interval time.Duration
	log      *logging.Logger

	mu    sync.Mutex
	queue []domain.Event

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopMu   sync.Mutex
	stopped  bool
}

// NewStore builds a drain worker writing batches every interval.
func NewStore(gateway ports.TSDBGateway, interval time.Duration, log *logging.Logger) *Store {
	if interval <= 0 {
		interval = time.Second
	}
	return &Store{
		gateway:  gateway,
		interval: interval,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Enqueue queues an event for the next drain cycle. Both new and
// updated (recovered, acknowledged) events pass through here.
func (s *Store) Enqueue(ev domain.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
}

// Start launches the drain loop.
func (s *Store) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drainLoop(ctx)
	}()
}

// Stop signals the drain loop to perform a final flush and exit,
// waiting up to 5s per spec.md §5's shutdown guarantee.
func (s *Store) Stop() {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		return
	}
	s.stopped = true
	s.stopMu.Unlock()

	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if s.log != nil {
			s.log.Warn("warning store drain loop did not stop within 5s")
		}
	}
}

func (s *Store) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drain(ctx)
		case <-s.stopChan:
			s.drain(ctx)
			return
		case <-ctx.Done():
			s.drain(context.Background())
			return
		}
	}
}

// drain takes ownership of the current queue and writes it as a
// single batch. On failure, the events are put back for the next
// cycle rather than dropped (spec.md §4.8's failure semantics).
func (s *Store) drain(ctx context.Context) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	points := make([]ports.Point, 0, len(pending)*2)
	for _, ev := range pending {
		points = append(points, eventPoint(ev))
		if ev.State == domain.StateRecovered {
			points = append(points, recoveryPoint(ev))
		}
	}

	batchID := s.newBatchID()
	if err := s.gateway.WriteBatch(ctx, ports.DBWarnings, batchID, points); err != nil {
		metrics.WarningStoreWriteErrorsTotal.Inc()
		if s.log != nil {
			s.log.Error("failed to write warning batch: %v", err)
		}
		s.mu.Lock()
		s.queue = append(pending, s.queue...)
		s.mu.Unlock()
	}
}

// newBatchID mints the UUIDv7 batch identifier required by spec.md §3,
// falling back to a random v4 (logged) rather than stalling a drain on
// entropy starvation.
func (s *Store) newBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		if s.log != nil {
			s.log.Warn("uuid v7 generation failed, falling back to v4: %v", err)
		}
		return uuid.NewString()
	}
	return id.String()
}

func eventPoint(ev domain.Event) ports.Point {
	fields := map[string]interface{}{
		"threshold_type":  string(ev.ThresholdType),
		"threshold_value": ev.ThresholdValue,
		"trigger_value":   ev.TriggerValue,
		"trigger_count":   ev.TriggerCount,
		"max_deviation":   ev.MaxDeviation,
		"message":         ev.Message,
		"acknowledged":    ev.Acknowledged,
	}
	if ev.Duration != nil {
		fields["duration"] = ev.Duration.Seconds()
	}

	ts := ev.EventStartTime
	if ts.IsZero() {
		ts = ev.FirstTriggerTime
	}

	return ports.Point{
		Measurement: measurementWarningEvents,
		Tags: map[string]string{
			"event_id":    ev.EventID,
			"signal_id":   ev.SignalID,
			"signal_type": ev.SignalType,
			"severity":    string(ev.Severity),
			"state":       string(ev.State),
		},
		Fields: fields,
		Time:   ts,
	}
}

func recoveryPoint(ev domain.Event) ports.Point {
	ts := time.Time{}
	if ev.EventEndTime != nil {
		ts = *ev.EventEndTime
	}

	fields := map[string]interface{}{
		"recovery_time": ts,
	}
	if ev.Duration != nil {
		fields["duration"] = ev.Duration.Seconds()
	}

	return ports.Point{
		Measurement: measurementWarningRecoveries,
		Tags: map[string]string{
			"event_id":  ev.EventID,
			"signal_id": ev.SignalID,
		},
		Fields: fields,
		Time:   ts,
	}
}

// HistoricalQuery filters a query_historical call (spec.md §4.8).
type HistoricalQuery struct {
	Start    time.Time
	End      time.Time
	SignalID string
	Severity string
	State    string
	Limit    int
}

// QueryHistorical delegates to the gateway and hydrates rows back into
// typed events. Query failures return an empty result and log, per
// spec.md §4.8's failure semantics.
func (s *Store) QueryHistorical(ctx context.Context, q HistoricalQuery) []domain.Event {
	tags := map[string]string{}
	if q.SignalID != "" {
		tags["signal_id"] = q.SignalID
	}
	if q.Severity != "" {
		tags["severity"] = q.Severity
	}
	if q.State != "" {
		tags["state"] = q.State
	}

	rows, err := s.gateway.Query(ctx, ports.DBWarnings, ports.Query{
		Start:       q.Start,
		End:         q.End,
		Measurement: measurementWarningEvents,
		Tags:        tags,
		Limit:       q.Limit,
	})
	if err != nil {
		if s.log != nil {
			s.log.Error("failed to query historical warnings: %v", err)
		}
		return nil
	}

	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, hydrateEvent(row))
	}
	return out
}

func hydrateEvent(p ports.Point) domain.Event {
	ev := domain.Event{
		EventID:        p.Tags["event_id"],
		SignalID:       p.Tags["signal_id"],
		SignalType:     p.Tags["signal_type"],
		Severity:       domain.Severity(p.Tags["severity"]),
		State:          domain.State(p.Tags["state"]),
		EventStartTime: p.Time,
	}

	if v, ok := p.Fields["threshold_type"].(string); ok {
		ev.ThresholdType = domain.ThresholdType(v)
	}
	if v, ok := p.Fields["threshold_value"].(float64); ok {
		ev.ThresholdValue = v
	}
	if v, ok := p.Fields["trigger_value"].(float64); ok {
		ev.TriggerValue = v
	}
	if v, ok := numberField(p.Fields["trigger_count"]); ok {
		ev.TriggerCount = int(v)
	}
	if v, ok := p.Fields["max_deviation"].(float64); ok {
		ev.MaxDeviation = v
	}
	if v, ok := p.Fields["message"].(string); ok {
		ev.Message = v
	}
	if v, ok := p.Fields["acknowledged"].(bool); ok {
		ev.Acknowledged = v
	}
	if v, ok := p.Fields["duration"].(float64); ok {
		d := time.Duration(v * float64(time.Second))
		ev.Duration = &d
	}

	return ev
}

// numberField tolerates json.Unmarshal's float64-for-every-number
// convention for integer-shaped fields.
func numberField(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
