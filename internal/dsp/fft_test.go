package dsp

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFTAnalyzerPureTone(t *testing.T) {
	const sampleRate = 32.0
	const w = 128

	values := make([]float64, w)
	for i := range values {
		t := float64(i) / sampleRate
		values[i] = math.Sin(2 * math.Pi * 3 * t)
	}

	a := NewFFTAnalyzer(w, sampleRate)
	result := a.Analyze("freq-1", values, time.Now())

	require.Len(t, result.Frequencies, w/2)
	require.Len(t, result.Magnitudes, w/2)
	require.Len(t, result.Power, w/2)

	resolution := sampleRate / w
	assert.InDelta(t, 3.0, result.DominantFrequency, resolution)
	assert.InDelta(t, 1.0, result.DominantMagnitude, 0.1)

	for _, m := range result.Magnitudes {
		assert.GreaterOrEqual(t, m, 0.0)
		assert.False(t, math.IsNaN(m))
	}
}

func TestFFTAnalyzerZeroPadsShortWindows(t *testing.T) {
	a := NewFFTAnalyzer(128, 10.0)
	result := a.Analyze("s1", []float64{1, 2, 3}, time.Now())
	assert.Equal(t, 128, result.WindowSize)
	assert.Len(t, result.Frequencies, 64)
}

func TestFFTAnalyzerKeepsMostRecentSamples(t *testing.T) {
	a := NewFFTAnalyzer(4, 10.0)
	long := make([]float64, 100)
	for i := range long {
		long[i] = float64(i)
	}
	windowed := fitWindow(long, a.WindowSize())
	assert.Equal(t, []float64{96, 97, 98, 99}, windowed)
}

func TestFFTAnalyzerBandPower(t *testing.T) {
	a := NewFFTAnalyzer(128, 32.0)
	values := make([]float64, 128)
	for i := range values {
		t := float64(i) / 32.0
		values[i] = math.Sin(2 * math.Pi * 3 * t)
	}
	result := a.Analyze("s1", values, time.Now())

	inBand := result.BandPower(2.5, 3.5)
	outOfBand := result.BandPower(10, 15)
	assert.Greater(t, inBand, outOfBand)
}
