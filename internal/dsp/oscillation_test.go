package dsp

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOscillationDetectorDetectsInterAreaMode(t *testing.T) {
	const sampleRate = 20.0
	const n = 128

	rng := rand.New(rand.NewSource(42))
	values := make([]float64, n)
	for i := range values {
		tt := float64(i) / sampleRate
		values[i] = 0.2*math.Sin(2*math.Pi*0.5*tt) + rng.NormFloat64()*0.02
	}

	d := NewOscillationDetector(0.2, 2.5, sampleRate, 3.0, n, nil)
	result := d.Analyze("freq-1", values, time.Now())

	assert.True(t, result.Detected)
	assert.Equal(t, "inter-area", string(result.Type))
	assert.GreaterOrEqual(t, result.DominantFrequency, 0.4)
	assert.LessOrEqual(t, result.DominantFrequency, 0.6)
	assert.Less(t, result.DampingRatio, 0.2)
	assert.GreaterOrEqual(t, result.DampingRatio, 0.0)
}

func TestOscillationDetectorClampsInvalidBand(t *testing.T) {
	d := NewOscillationDetector(-1, 100, 20.0, 3.0, 128, nil)
	assert.Greater(t, d.lowHz, 0.0)
	assert.Less(t, d.highHz, 10.0)
}

func TestOscillationDetectorNoneWhenNotDetected(t *testing.T) {
	d := NewOscillationDetector(0.2, 2.5, 20.0, 3.0, 128, nil)
	flat := make([]float64, 128)
	result := d.Analyze("flat", flat, time.Now())

	assert.False(t, result.Detected)
	assert.Equal(t, "none", string(result.Type))
}

func TestOscillationDampingRatioBounds(t *testing.T) {
	d := NewOscillationDetector(0.2, 2.5, 20.0, 3.0, 128, nil)
	values := make([]float64, 128)
	for i := range values {
		tt := float64(i) / 20.0
		values[i] = 0.3 * math.Sin(2*math.Pi*0.5*tt) * math.Exp(-0.1*tt)
	}
	result := d.Analyze("damped", values, time.Now())
	assert.GreaterOrEqual(t, result.DampingRatio, 0.0)
	assert.LessOrEqual(t, result.DampingRatio, 1.0)
}
