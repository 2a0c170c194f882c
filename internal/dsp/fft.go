// Package dsp implements the windowed signal-processing analyzers
// named in spec.md §4: the FFT analyzer (C3), oscillation detector
// (C4), SNR/THD estimator (C5), and fault detector (C6). All four
// share the same "operate on a dense []float64 snapshot, return a
// typed domain/analysis record" shape that C7 schedules against
// internal/ringbuffer.Store.
package dsp

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"pmuwatch/domain/analysis"
)

// DefaultWindowSize is the FFT/oscillation/SNR window, a power of two
// per spec.md §4.2.
const DefaultWindowSize = 128

// FFTAnalyzer computes the windowed magnitude/power spectrum of a
// signal and its dominant modes (C3).
type FFTAnalyzer struct {
	windowSize int
	sampleRate float64
}

// NewFFTAnalyzer builds an analyzer for the given window size and
// sample rate. windowSize must be a power of two; if not, it is
// rounded up.
func NewFFTAnalyzer(windowSize int, sampleRate float64) *FFTAnalyzer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &FFTAnalyzer{windowSize: nextPowerOfTwo(windowSize), sampleRate: sampleRate}
}

// Analyze computes the spectrum of the most recent values in the
// window. Fewer than windowSize samples are zero-padded on the left;
// more than windowSize keep only the most recent windowSize.
func (a *FFTAnalyzer) Analyze(signalID string, values []float64, at time.Time) analysis.FFTResult {
	w := a.windowSize
	window := fitWindow(values, w)

	mean := meanOf(window)
	demeaned := make([]float64, w)
	for i, v := range window {
		demeaned[i] = v - mean
	}

	hamming := applyHamming(demeaned)

	fft := fourier.NewFFT(w)
	coeffs := fft.Coefficients(nil, hamming)

	bins := w / 2
	frequencies := make([]float64, bins)
	magnitudes := make([]float64, bins)
	power := make([]float64, bins)

	for k := 0; k < bins; k++ {
		frequencies[k] = float64(k) * a.sampleRate / float64(w)
		mag := 2.0 * cabs(coeffs[k]) / float64(w)
		magnitudes[k] = mag
		power[k] = mag * mag
	}

	dominantFreq, dominantMag := dominantBin(frequencies, magnitudes)
	modes := topModes(frequencies, magnitudes, 5)

	return analysis.FFTResult{
		SignalID:          signalID,
		Frequencies:       frequencies,
		Magnitudes:        magnitudes,
		Power:             power,
		DominantFrequency: dominantFreq,
		DominantMagnitude: dominantMag,
		DominantModes:     modes,
		SampleRate:        a.sampleRate,
		WindowSize:        w,
		Timestamp:         at,
	}
}

// WindowSize reports the configured analysis window.
func (a *FFTAnalyzer) WindowSize() int { return a.windowSize }

func cabs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// dominantBin finds the argmax magnitude over k >= 1 (DC excluded per
// spec.md §4.2 step 6).
func dominantBin(frequencies, magnitudes []float64) (float64, float64) {
	bestFreq, bestMag := 0.0, 0.0
	for k := 1; k < len(magnitudes); k++ {
		if magnitudes[k] > bestMag {
			bestMag = magnitudes[k]
			bestFreq = frequencies[k]
		}
	}
	return bestFreq, bestMag
}

// topModes returns the n largest (k>=1) magnitude bins, descending.
func topModes(frequencies, magnitudes []float64, n int) []analysis.Mode {
	type kv struct {
		freq, mag float64
	}
	candidates := make([]kv, 0, len(magnitudes)-1)
	for k := 1; k < len(magnitudes); k++ {
		candidates = append(candidates, kv{frequencies[k], magnitudes[k]})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mag > candidates[j].mag })

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	modes := make([]analysis.Mode, len(candidates))
	for i, c := range candidates {
		modes[i] = analysis.Mode{Frequency: c.freq, Magnitude: c.mag}
	}
	return modes
}

// fitWindow returns the most recent w samples, zero-padding on the
// left when fewer are available.
func fitWindow(values []float64, w int) []float64 {
	if len(values) >= w {
		return append([]float64(nil), values[len(values)-w:]...)
	}
	out := make([]float64, w)
	copy(out[w-len(values):], values)
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// applyHamming multiplies values by a Hamming window of the same
// length, normalized to unit coherent gain so the 2|X|/W magnitude
// formula recovers true amplitude instead of attenuating it by the
// window's ~0.54 average gain.
func applyHamming(values []float64) []float64 {
	n := len(values)
	coeffs := make([]float64, n)
	var gain float64
	for i := range coeffs {
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		coeffs[i] = w
		gain += w
	}
	gain /= float64(n)
	if gain == 0 {
		gain = 1
	}

	out := make([]float64, n)
	for i, v := range values {
		out[i] = v * coeffs[i] / gain
	}
	return out
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
