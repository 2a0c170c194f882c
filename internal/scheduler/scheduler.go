// Package scheduler implements C7: the periodic per-signal fan-out
// into the FFT/oscillation/SNR/fault analyzers, bridging C1 (reads),
// C2 (ring buffer), and the DSP analyzers, writing typed results back
// through C1. Its ticker-driven loop with a stop channel is grounded
// on etalazz-vsa's core.Worker; on stop it returns without running a
// further cycle.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pmuwatch/domain/analysis"
	"pmuwatch/domain/sample"
	"pmuwatch/internal/dsp"
	"pmuwatch/internal/logging"
	"pmuwatch/internal/metrics"
	"pmuwatch/internal/ringbuffer"
	"pmuwatch/ports"
)

const (
	minSamplesToPull    = 10
	minSamplesForFFT    = 64
	minSamplesForDeeper = 128
	pullLimit           = 256
)

// Scheduler runs the analysis loop described in spec.md §4.6.
type Scheduler struct {
	gateway    ports.TSDBGateway
	store      *ringbuffer.Store
	signals    map[string]sample.Config
	interval   time.Duration
	sampleRate float64
	log        *logging.Logger

	fft         *dsp.FFTAnalyzer
	oscillation *dsp.OscillationDetector
	snr         *dsp.SNREstimator

	faultMu   sync.Mutex
	faultDets map[string]*dsp.FaultDetector

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  bool
	stopMu   sync.Mutex
}

// Config configures the scheduler's analyzer instances.
type Config struct {
	Signals               map[string]sample.Config
	Interval              time.Duration
	SampleRate            float64
	RingBufferCapacity    int
	WindowSize            int
	OscillationLowHz      float64
	OscillationHighHz     float64
	OscillationMultiplier float64
}

// New builds a Scheduler. gateway is used for both reads (source_db)
// and writes (analysis_db); callers distinguish via the ports.DB
// values passed to ReadRecentSamples/WriteBatch.
func New(gateway ports.TSDBGateway, cfg Config, log *logging.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.OscillationLowHz <= 0 {
		cfg.OscillationLowHz = 0.2
	}
	if cfg.OscillationHighHz <= 0 {
		cfg.OscillationHighHz = 2.5
	}
	if cfg.OscillationMultiplier <= 0 {
		cfg.OscillationMultiplier = 3.0
	}

	return &Scheduler{
		gateway:     gateway,
		store:       ringbuffer.New(cfg.RingBufferCapacity),
		signals:     cfg.Signals,
		interval:    cfg.Interval,
		sampleRate:  cfg.SampleRate,
		log:         log,
		fft:         dsp.NewFFTAnalyzer(cfg.WindowSize, cfg.SampleRate),
		oscillation: dsp.NewOscillationDetector(cfg.OscillationLowHz, cfg.OscillationHighHz, cfg.SampleRate, cfg.OscillationMultiplier, cfg.WindowSize, log),
		snr:         dsp.NewSNREstimator(cfg.WindowSize, cfg.SampleRate),
		faultDets:   make(map[string]*dsp.FaultDetector),
		stopChan:    make(chan struct{}),
	}
}

// Start launches the background analysis loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop signals the loop to exit and waits up to 5s for it to finish,
// per spec.md §5's shutdown contract.
func (s *Scheduler) Stop() {
	s.stopMu.Lock()
	if s.stopped {
		s.stopMu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	s.stopMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if s.log != nil {
			s.log.Warn("scheduler stop timed out after 5s")
		}
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runCycle implements spec.md §4.6: fixed iteration order across
// signals, FFT -> oscillation -> SNR -> fault per signal, with each
// analysis step isolated so one failure never suppresses the others.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()
	defer metrics.ObserveCycle(start)

	signalIDs := make([]string, 0, len(s.signals))
	for id := range s.signals {
		signalIDs = append(signalIDs, id)
	}
	sort.Strings(signalIDs)

	for _, signalID := range signalIDs {
		runID := s.newRunID()
		s.analyzeSignal(ctx, runID, signalID, s.signals[signalID])
	}
}

// newRunID mints the UUIDv7 AnalysisRunID required by spec.md §3, one
// per signal per cycle, since it doubles as that signal's write-batch
// idempotency key: time-ordered so runs sort chronologically by ID alone. Falls back to a
// random v4 (logged) rather than stalling a cycle on entropy starvation.
func (s *Scheduler) newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		if s.log != nil {
			s.log.Warn("uuid v7 generation failed, falling back to v4: %v", err)
		}
		return uuid.NewString()
	}
	return id.String()
}

func (s *Scheduler) analyzeSignal(ctx context.Context, runID, signalID string, cfg sample.Config) {
	recent, err := s.gateway.ReadRecentSamples(ctx, ports.DBSamples, signalID, pullLimit)
	if err != nil {
		s.logError(signalID, "read recent samples", err)
		return
	}
	if len(recent) < minSamplesToPull {
		return
	}

	now := recent[len(recent)-1].Time
	for _, p := range recent {
		s.store.Append(sample.Sample{SignalID: signalID, Timestamp: p.Time, Value: p.Value})
	}

	window := s.store.Window(signalID, 0)
	values := make([]float64, len(window))
	for i, sm := range window {
		values[i] = sm.Value
	}

	var points []ports.Point

	if len(values) >= minSamplesForFFT {
		points = append(points, s.runFFT(signalID, values, now)...)
	}
	if len(values) >= minSamplesForDeeper {
		points = append(points, s.runOscillation(signalID, values, now)...)
		points = append(points, s.runSNR(signalID, values, cfg, now)...)
	}
	points = append(points, s.runFault(signalID, cfg, recent[len(recent)-1].Value, now)...)

	if len(points) == 0 {
		return
	}

	if err := s.gateway.WriteBatch(ctx, ports.DBAnalysis, runID, points); err != nil {
		s.logError(signalID, "write analysis results", err)
	}
}

func (s *Scheduler) runFFT(signalID string, values []float64, at time.Time) []ports.Point {
	defer s.recoverAnalysis(signalID, "fft")

	result := s.fft.Analyze(signalID, values, at)
	return fftPoints(result)
}

func (s *Scheduler) runOscillation(signalID string, values []float64, at time.Time) []ports.Point {
	defer s.recoverAnalysis(signalID, "oscillation")

	result := s.oscillation.Analyze(signalID, values, at)
	return oscillationPoints(result)
}

func (s *Scheduler) runSNR(signalID string, values []float64, cfg sample.Config, at time.Time) []ports.Point {
	defer s.recoverAnalysis(signalID, "snr")

	fundamental := 0.0
	if cfg.Type == sample.SignalFrequency && cfg.Base != nil {
		fundamental = *cfg.Base
	}
	result := s.snr.Estimate(signalID, values, fundamental)
	return snrPoints(result)
}

func (s *Scheduler) runFault(signalID string, cfg sample.Config, latest float64, at time.Time) []ports.Point {
	defer s.recoverAnalysis(signalID, "fault")

	det := s.faultDetectorFor(signalID, cfg)
	result := det.Check(latest, at)
	if !result.Detected {
		return nil
	}
	return faultPoints(result)
}

func (s *Scheduler) faultDetectorFor(signalID string, cfg sample.Config) *dsp.FaultDetector {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()

	if det, ok := s.faultDets[signalID]; ok {
		return det
	}
	det := dsp.NewFaultDetector(signalID, string(cfg.Type), cfg.Base)
	s.faultDets[signalID] = det
	return det
}

// recoverAnalysis implements the "each analysis is wrapped so a
// failure in one does not suppress others" policy from spec.md §4.6.
func (s *Scheduler) recoverAnalysis(signalID, step string) {
	if r := recover(); r != nil {
		metrics.ObserveStepError(step)
		if s.log != nil {
			s.log.Error("analysis step %s panicked for signal %s: %v", step, signalID, r)
		}
	}
}

func (s *Scheduler) logError(signalID, step string, err error) {
	metrics.ObserveStepError(step)
	if s.log != nil {
		s.log.Warn("scheduler: %s failed for signal %s: %v", step, signalID, err)
	}
}

func fftPoints(r analysis.FFTResult) []ports.Point {
	tags := map[string]string{"signal_id": r.SignalID}
	points := []ports.Point{
		{
			Measurement: "fft_summary",
			Tags:        tags,
			Fields: map[string]interface{}{
				"dominant_freq":      r.DominantFrequency,
				"dominant_magnitude": r.DominantMagnitude,
				"sample_rate":        r.SampleRate,
				"window_size":        r.WindowSize,
			},
			Time: r.Timestamp,
		},
	}
	for i := range r.Frequencies {
		points = append(points, ports.Point{
			Measurement: "fft_spectrum",
			Tags:        tags,
			Fields: map[string]interface{}{
				"frequency": r.Frequencies[i],
				"magnitude": r.Magnitudes[i],
			},
			Time: r.Timestamp,
		})
	}
	for _, m := range r.DominantModes {
		points = append(points, ports.Point{
			Measurement: "fft_dominant_modes",
			Tags:        tags,
			Fields: map[string]interface{}{
				"frequency": m.Frequency,
				"magnitude": m.Magnitude,
			},
			Time: r.Timestamp,
		})
	}
	return points
}

func oscillationPoints(r analysis.OscillationResult) []ports.Point {
	tags := map[string]string{
		"signal_id":        r.SignalID,
		"oscillation_type": string(r.Type),
		"detected":         fmt.Sprintf("%t", r.Detected),
	}
	points := []ports.Point{
		{
			Measurement: "oscillation_events",
			Tags:        tags,
			Fields: map[string]interface{}{
				"oscillation_frequency": r.DominantFrequency,
				"oscillation_magnitude": r.DominantMagnitude,
				"oscillation_power":     r.InBandPower,
				"baseline_power":        r.BaselinePower,
				"threshold":             r.Threshold,
				"damping_ratio":         r.DampingRatio,
			},
			Time: r.Timestamp,
		},
	}

	if r.Detected {
		severity := "medium"
		if r.DampingRatio < 0.05 {
			severity = "high"
		}
		message := fmt.Sprintf("oscillation detected on %s: %.3fHz type=%s damping=%.3f", r.SignalID, r.DominantFrequency, r.Type, r.DampingRatio)

		points = append(points, ports.Point{
			Measurement: "oscillation_alerts",
			Tags: map[string]string{
				"signal_id": r.SignalID,
				"severity":  severity,
			},
			Fields: map[string]interface{}{
				"frequency": r.DominantFrequency,
				"magnitude": r.DominantMagnitude,
				"type":      string(r.Type),
				"damping":   r.DampingRatio,
				"message":   message,
			},
			Time: r.Timestamp,
		})
	}

	return points
}

func snrPoints(r analysis.SNRResult) []ports.Point {
	return []ports.Point{
		{
			Measurement: "snr_metrics",
			Tags: map[string]string{
				"signal_id": r.SignalID,
				"quality":   string(r.Quality),
			},
			Fields: map[string]interface{}{
				"snr_db":       r.SNRDb,
				"snr_linear":   dbToLinear(r.SNRDb),
				"snr_freq_db":  r.SNRFreqDb,
				"snr_time_db":  r.SNRTimeDb,
				"signal_power": r.SignalPower,
				"noise_power":  r.NoisePower,
				"thd_percent":  r.THDPercent,
				"dc_offset":    r.DCOffset,
			},
			Time: r.Timestamp,
		},
	}
}

func faultPoints(r analysis.FaultResult) []ports.Point {
	return []ports.Point{
		{
			Measurement: "fault_events",
			Tags: map[string]string{
				"signal_id":   r.SignalID,
				"fault_type":  r.FaultType,
				"signal_type": r.SignalType,
				"severity":    string(r.Severity),
			},
			Fields: map[string]interface{}{
				"value":           r.Value,
				"baseline":        r.Baseline,
				"deviation":       r.Deviation,
				"deviation_ratio": r.DeviationRatio,
				"rate_of_change":  r.RateOfChange,
				"message":         r.Message,
			},
			Time: r.Timestamp,
		},
	}
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/10)
}
