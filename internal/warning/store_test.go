package warning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "pmuwatch/domain/warning"
	"pmuwatch/internal/logging"
	"pmuwatch/ports"
)

func noopLogger() *logging.Logger {
	return logging.New(logging.LevelError)
}

type fakeGateway struct {
	mu         sync.Mutex
	written    [][]ports.Point
	failWrites int
	rows       []ports.Point
}

func (f *fakeGateway) ReadRecentSamples(ctx context.Context, db ports.DB, signalID string, limit int) ([]ports.SamplePoint, error) {
	return nil, nil
}

func (f *fakeGateway) Query(ctx context.Context, db ports.DB, q ports.Query) ([]ports.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, nil
}

func (f *fakeGateway) WriteBatch(ctx context.Context, db ports.DB, batchID string, points []ports.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites > 0 {
		f.failWrites--
		return assert.AnError
	}
	cp := append([]ports.Point(nil), points...)
	f.written = append(f.written, cp)
	return nil
}

func sampleEvent() domain.Event {
	return domain.Event{
		EventID:          "v1_100",
		SignalID:         "v1",
		SignalType:       "voltage",
		Severity:         domain.SeverityWarning,
		State:            domain.StateActive,
		ThresholdType:    domain.ThresholdMax,
		ThresholdValue:   125,
		TriggerValue:     130,
		FirstTriggerTime: time.Unix(100, 0),
		EventStartTime:   time.Unix(101, 0),
		TriggerCount:     3,
		MaxDeviation:     5,
		Message:          "WARNING threshold violation on v1",
	}
}

func TestStoreDrainsQueueOnTicker(t *testing.T) {
	gw := &fakeGateway{}
	log := noopLogger()
	s := NewStore(gw, 20*time.Millisecond, log)

	s.Enqueue(sampleEvent())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return len(gw.written) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStoreFinalFlushOnStop(t *testing.T) {
	gw := &fakeGateway{}
	log := noopLogger()
	s := NewStore(gw, time.Hour, log)

	s.Enqueue(sampleEvent())
	ctx := context.Background()
	s.Start(ctx)
	s.Stop()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Len(t, gw.written, 1)
}

func TestStoreRetainsQueueOnWriteFailure(t *testing.T) {
	gw := &fakeGateway{failWrites: 1}
	log := noopLogger()
	s := NewStore(gw, time.Hour, log)

	s.Enqueue(sampleEvent())
	ctx := context.Background()
	s.Start(ctx)
	s.Stop()

	gw.mu.Lock()
	assert.Len(t, gw.written, 0)
	gw.mu.Unlock()

	s.mu.Lock()
	assert.Len(t, s.queue, 1)
	s.mu.Unlock()
}

func TestStoreRecoveredEventEmitsRecoveryPoint(t *testing.T) {
	gw := &fakeGateway{}
	log := noopLogger()
	s := NewStore(gw, time.Hour, log)

	ev := sampleEvent()
	end := time.Unix(200, 0)
	d := 10 * time.Second
	ev.State = domain.StateRecovered
	ev.EventEndTime = &end
	ev.Duration = &d

	s.Enqueue(ev)
	s.drain(context.Background())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.Len(t, gw.written, 1)
	assert.Len(t, gw.written[0], 2)
	assert.Equal(t, measurementWarningRecoveries, gw.written[0][1].Measurement)
}

func TestQueryHistoricalHydratesEvents(t *testing.T) {
	gw := &fakeGateway{
		rows: []ports.Point{
			{
				Measurement: measurementWarningEvents,
				Tags: map[string]string{
					"event_id":    "v1_100",
					"signal_id":   "v1",
					"signal_type": "voltage",
					"severity":    "WARNING",
					"state":       "ACTIVE",
				},
				Fields: map[string]interface{}{
					"threshold_type":  "max",
					"threshold_value": 125.0,
					"trigger_value":   130.0,
					"trigger_count":   3.0,
					"max_deviation":   5.0,
					"message":         "hi",
					"acknowledged":    false,
				},
				Time: time.Unix(101, 0),
			},
		},
	}
	log := noopLogger()
	s := NewStore(gw, time.Hour, log)

	events := s.QueryHistorical(context.Background(), HistoricalQuery{SignalID: "v1", Limit: 10})
	require.Len(t, events, 1)
	assert.Equal(t, "v1_100", events[0].EventID)
	assert.Equal(t, 3, events[0].TriggerCount)
	assert.Equal(t, domain.ThresholdMax, events[0].ThresholdType)
}

func TestQueryHistoricalReturnsNilOnErrorNotPanic(t *testing.T) {
	s := NewStore(&erroringGateway{}, time.Hour, noopLogger())
	events := s.QueryHistorical(context.Background(), HistoricalQuery{})
	assert.Nil(t, events)
}

type erroringGateway struct{ fakeGateway }

func (e *erroringGateway) Query(ctx context.Context, db ports.DB, q ports.Query) ([]ports.Point, error) {
	return nil, assert.AnError
}
