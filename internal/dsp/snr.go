package dsp

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"

	"pmuwatch/domain/analysis"
)

const noiseFloor = 1e-12

// SNREstimator implements C5: combined frequency- and time-domain SNR,
// THD, DC offset, and a quality classification.
type SNREstimator struct {
	windowSize int
	sampleRate float64
}

// NewSNREstimator builds an estimator for the given window and sample
// rate.
func NewSNREstimator(windowSize int, sampleRate float64) *SNREstimator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &SNREstimator{windowSize: windowSize, sampleRate: sampleRate}
}

// Estimate runs both SNR methods plus THD over the most recent window.
// fundamentalHz may be 0 to signal "unknown", selecting the
// top-5%-of-bins fallback for signal/noise separation and a zero THD.
func (e *SNREstimator) Estimate(signalID string, values []float64, fundamentalHz float64) analysis.SNRResult {
	window := fitWindow(values, e.windowSize)
	dcOffset := meanOf(window)

	demeaned := make([]float64, len(window))
	for i, v := range window {
		demeaned[i] = v - dcOffset
	}

	snrFreqDb, thdPercent, freqSignalPower, freqNoisePower := e.frequencyDomainSNR(demeaned, fundamentalHz)
	snrTimeDb, timeSignalPower, timeNoisePower := e.timeDomainSNR(demeaned)

	snrDb := (snrFreqDb + snrTimeDb) / 2

	signalPower := freqSignalPower
	noisePower := freqNoisePower
	_ = timeSignalPower
	_ = timeNoisePower

	return analysis.SNRResult{
		SignalID:    signalID,
		SNRDb:       snrDb,
		SNRFreqDb:   snrFreqDb,
		SNRTimeDb:   snrTimeDb,
		SignalPower: signalPower,
		NoisePower:  noisePower,
		THDPercent:  thdPercent,
		DCOffset:    dcOffset,
		Quality:     analysis.ClassifySNRQuality(snrDb),
	}
}

// frequencyDomainSNR implements spec.md §4.4's frequency-domain method
// and THD calculation, sharing the one FFT pass between both.
func (e *SNREstimator) frequencyDomainSNR(demeaned []float64, fundamentalHz float64) (snrDb, thdPercent, signalPower, noisePower float64) {
	w := len(demeaned)
	hammed := applyHamming(demeaned)

	fft := fourier.NewFFT(w)
	coeffs := fft.Coefficients(nil, hammed)
	bins := w / 2

	power := make([]float64, bins)
	magnitude := make([]float64, bins)
	for k := 0; k < bins; k++ {
		mag := cabs(coeffs[k])
		magnitude[k] = mag
		power[k] = (mag * mag) / float64(w)
	}

	if fundamentalHz > 0 {
		signalBins := make(map[int]bool)
		for h := 1; h <= 5; h++ {
			center := int(math.Round(fundamentalHz * float64(h) * float64(w) / e.sampleRate))
			for k := center - 2; k <= center+2; k++ {
				if k >= 0 && k < bins {
					signalBins[k] = true
				}
			}
		}
		var sigSum, noiseSum float64
		noiseCount := 0
		for k := 0; k < bins; k++ {
			if signalBins[k] {
				sigSum += power[k]
			} else {
				noiseSum += power[k]
				noiseCount++
			}
		}
		signalPower = sigSum
		if noiseCount > 0 {
			noisePower = noiseSum / float64(noiseCount)
		}
	} else {
		threshold, err := stats.Percentile(power, 95)
		if err != nil {
			threshold = percentileFallback(power, 95)
		}

		var sigSum, noiseSum float64
		noiseCount := 0
		for k := 0; k < bins; k++ {
			if power[k] >= threshold {
				sigSum += power[k]
			} else {
				noiseSum += power[k]
				noiseCount++
			}
		}
		signalPower = sigSum
		if noiseCount > 0 {
			noisePower = noiseSum / float64(noiseCount)
		}
	}

	if noisePower < noiseFloor {
		noisePower = noiseFloor
	}
	snrDb = 10 * math.Log10(signalPower/noisePower)

	thdPercent = e.totalHarmonicDistortion(magnitude, fundamentalHz, w)
	return snrDb, thdPercent, signalPower, noisePower
}

// totalHarmonicDistortion implements spec.md §4.4's THD formula: the
// RMS of harmonics 2..5 over the fundamental's magnitude.
func (e *SNREstimator) totalHarmonicDistortion(magnitude []float64, fundamentalHz float64, w int) float64 {
	if fundamentalHz <= 0 {
		return 0
	}
	bins := len(magnitude)

	nearestBin := func(hz float64) int {
		k := int(math.Round(hz * float64(w) / e.sampleRate))
		if k < 0 {
			k = 0
		}
		if k >= bins {
			k = bins - 1
		}
		return k
	}

	m1 := magnitude[nearestBin(fundamentalHz)]
	if m1 < noiseFloor {
		return 0
	}

	var sumSquares float64
	for h := 2; h <= 5; h++ {
		mh := magnitude[nearestBin(fundamentalHz*float64(h))]
		sumSquares += mh * mh
	}

	return (math.Sqrt(sumSquares) / m1) * 100
}

// timeDomainSNR implements spec.md §4.4's time-domain method: smooth
// with Savitzky-Golay (falling back to a moving average), then compare
// smoothed vs residual power.
func (e *SNREstimator) timeDomainSNR(demeaned []float64) (snrDb, signalPower, noisePower float64) {
	smoothed, err := savitzkyGolaySmooth(demeaned)
	if err != nil {
		smoothed = movingAverage(demeaned, minInt(20, maxInt(1, len(demeaned)/10)))
	}

	signalPower = meanSquares(smoothed)
	residual := make([]float64, len(demeaned))
	for i := range demeaned {
		residual[i] = demeaned[i] - smoothed[i]
	}
	noisePower = meanSquares(residual)
	if noisePower < noiseFloor {
		noisePower = noiseFloor
	}
	snrDb = 10 * math.Log10(signalPower/noisePower)
	return snrDb, signalPower, noisePower
}

// savitzkyGolaySmooth smooths x with an order-3 Savitzky-Golay filter
// of length min(51, W/2*2-1) (always odd): at each point, fit a cubic
// polynomial by least squares to the surrounding window and take the
// fitted value at the center. Implemented with gonum/mat since no pack
// repo exposes a ready-made Savitzky-Golay filter.
func savitzkyGolaySmooth(x []float64) ([]float64, error) {
	w := len(x)
	length := minInt(51, w/2*2-1)
	if length < 5 {
		length = 5
	}
	if length%2 == 0 {
		length--
	}
	if length >= w {
		length = w - 1
		if length%2 == 0 {
			length--
		}
	}
	if length < 5 {
		return nil, errNotEnoughSamples
	}

	half := length / 2
	smoothed := make([]float64, len(x))
	for i := range x {
		lo := maxInt(0, i-half)
		hi := minInt(len(x), i+half+1)
		window := x[lo:hi]
		center := i - lo

		fitted, err := fitCubicAt(window, center)
		if err != nil {
			return nil, err
		}
		smoothed[i] = fitted
	}
	return smoothed, nil
}

// fitCubicAt least-squares fits a cubic polynomial to window (indexed
// 0..len-1) and evaluates it at x=center.
func fitCubicAt(window []float64, center int) (float64, error) {
	n := len(window)
	degree := 3
	if n <= degree {
		degree = n - 1
	}

	a := mat.NewDense(n, degree+1, nil)
	b := mat.NewDense(n, 1, nil)
	for i, y := range window {
		xi := float64(i)
		p := 1.0
		for d := 0; d <= degree; d++ {
			a.Set(i, d, p)
			p *= xi
		}
		b.Set(i, 0, y)
	}

	var coeffs mat.Dense
	if err := coeffs.Solve(a, b); err != nil {
		return 0, err
	}

	var value, p float64
	xc := float64(center)
	p = 1
	for d := 0; d <= degree; d++ {
		value += coeffs.At(d, 0) * p
		p *= xc
	}
	return value, nil
}

func movingAverage(x []float64, length int) []float64 {
	if length < 1 {
		length = 1
	}
	out := make([]float64, len(x))
	half := length / 2
	for i := range x {
		lo := maxInt(0, i-half)
		hi := minInt(len(x), i+half+1)
		sum := 0.0
		for _, v := range x[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

var errNotEnoughSamples = errShort("window too small for savitzky-golay smoothing")

type errShort string

func (e errShort) Error() string { return string(e) }

// percentileFallback computes the nearest-rank percentile directly,
// used only if montanaflynn/stats rejects the input (e.g. empty slice).
func percentileFallback(x []float64, pct float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
