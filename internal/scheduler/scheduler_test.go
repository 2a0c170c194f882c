package scheduler

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmuwatch/domain/sample"
	"pmuwatch/internal/logging"
	"pmuwatch/ports"
)

type fakeGateway struct {
	mu      sync.Mutex
	samples map[string][]ports.SamplePoint
	written []ports.Point
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{samples: make(map[string][]ports.SamplePoint)}
}

func (f *fakeGateway) seed(signalID string, values []float64, start time.Time, step time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range values {
		f.samples[signalID] = append(f.samples[signalID], ports.SamplePoint{
			SignalID: signalID,
			Value:    v,
			Time:     start.Add(time.Duration(i) * step),
		})
	}
}

func (f *fakeGateway) ReadRecentSamples(ctx context.Context, db ports.DB, signalID string, limit int) ([]ports.SamplePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.samples[signalID]
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return append([]ports.SamplePoint(nil), rows...), nil
}

func (f *fakeGateway) Query(ctx context.Context, db ports.DB, q ports.Query) ([]ports.Point, error) {
	return nil, nil
}

func (f *fakeGateway) WriteBatch(ctx context.Context, db ports.DB, batchID string, points []ports.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, points...)
	return nil
}

func noopLogger() *logging.Logger {
	return logging.New(logging.LevelError)
}

func sineSamples(n int, freqHz, sampleRate, amplitude, offset float64) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		out[i] = offset + amplitude*math.Sin(2*math.Pi*freqHz*t)
	}
	return out
}

func TestAnalyzeSignalSkipsBelowMinimumSampleCount(t *testing.T) {
	gw := newFakeGateway()
	gw.seed("v1", sineSamples(5, 1.0, 10.0, 1.0, 120.0), time.Now(), 100*time.Millisecond)

	s := New(gw, Config{
		Signals:    map[string]sample.Config{"v1": {SignalID: "v1", Type: sample.SignalVoltage}},
		SampleRate: 10.0,
		WindowSize: 64,
	}, noopLogger())

	s.analyzeSignal(context.Background(), "run1", "v1", s.signals["v1"])

	assert.Empty(t, gw.written)
}

func TestAnalyzeSignalWritesFaultPointsAboveMinimumPull(t *testing.T) {
	gw := newFakeGateway()
	gw.seed("v1", sineSamples(20, 1.0, 10.0, 1.0, 130.0), time.Now(), 100*time.Millisecond)

	base := 120.0
	cfg := sample.Config{SignalID: "v1", Type: sample.SignalVoltage, Base: &base}

	s := New(gw, Config{
		Signals:    map[string]sample.Config{"v1": cfg},
		SampleRate: 10.0,
		WindowSize: 64,
	}, noopLogger())

	s.analyzeSignal(context.Background(), "run1", "v1", cfg)

	assert.NotEmpty(t, gw.written)
	for _, p := range gw.written {
		assert.Equal(t, "fault_events", p.Measurement)
	}
}

func TestAnalyzeSignalRunsFFTAboveWindowThreshold(t *testing.T) {
	gw := newFakeGateway()
	gw.seed("v1", sineSamples(200, 1.0, 10.0, 1.0, 120.0), time.Now(), 100*time.Millisecond)

	cfg := sample.Config{SignalID: "v1", Type: sample.SignalVoltage}

	s := New(gw, Config{
		Signals:    map[string]sample.Config{"v1": cfg},
		SampleRate: 10.0,
		WindowSize: 64,
	}, noopLogger())

	s.analyzeSignal(context.Background(), "run1", "v1", cfg)

	var sawFFT, sawOscillation, sawSNR, sawFault bool
	for _, p := range gw.written {
		switch p.Measurement {
		case "fft_summary":
			sawFFT = true
		case "oscillation_events":
			sawOscillation = true
		case "snr_metrics":
			sawSNR = true
		case "fault_events":
			sawFault = true
		}
	}
	assert.True(t, sawFFT)
	assert.True(t, sawOscillation)
	assert.True(t, sawSNR)
	// The fault detector sees one sample per cycle and is still warming up.
	assert.False(t, sawFault)
}

func TestRunCycleIteratesAllSignals(t *testing.T) {
	gw := newFakeGateway()
	gw.seed("v1", sineSamples(20, 1.0, 10.0, 1.0, 130.0), time.Now(), 100*time.Millisecond)
	gw.seed("v2", sineSamples(20, 1.0, 10.0, 1.0, 60.0), time.Now(), 100*time.Millisecond)

	baseV1, baseV2 := 120.0, 60.0
	s := New(gw, Config{
		Signals: map[string]sample.Config{
			"v1": {SignalID: "v1", Type: sample.SignalVoltage, Base: &baseV1},
			"v2": {SignalID: "v2", Type: sample.SignalFrequency, Base: &baseV2},
		},
		SampleRate: 10.0,
		WindowSize: 64,
	}, noopLogger())

	s.runCycle(context.Background())

	seen := map[string]bool{}
	for _, p := range gw.written {
		seen[p.Tags["signal_id"]] = true
	}
	assert.True(t, seen["v1"])
	assert.True(t, seen["v2"])
}

func TestStartStopStopsWithinTimeout(t *testing.T) {
	gw := newFakeGateway()
	s := New(gw, Config{
		Signals:  map[string]sample.Config{},
		Interval: 10 * time.Millisecond,
	}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Stop()
}

func TestRecoverAnalysisSwallowsPanic(t *testing.T) {
	s := New(newFakeGateway(), Config{}, noopLogger())

	func() {
		defer s.recoverAnalysis("v1", "fft")
		panic("boom")
	}()

	require.True(t, true)
}
