package dsp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultDetectorBuildsBaselineBeforeWarmup(t *testing.T) {
	d := NewFaultDetector("v1", "voltage", nil)
	now := time.Now()

	for i := 0; i < 9; i++ {
		result := d.Check(120.0, now)
		assert.False(t, result.Detected)
		assert.Equal(t, "Building baseline", result.Message)
	}
}

func TestFaultDetectorVoltageSwell(t *testing.T) {
	d := NewFaultDetector("v1", "voltage", nil)
	now := time.Now()

	for i := 0; i < 10; i++ {
		d.Check(120.0, now)
	}

	result := d.Check(130.0, now)
	require.True(t, result.Detected)
	assert.Equal(t, "swell", result.FaultType)
}

func TestFaultDetectorFrequencyDeviationSeverity(t *testing.T) {
	base := 60.0
	d := NewFaultDetector("f1", "frequency", &base)
	now := time.Now()

	result := d.Check(60.6, now)
	require.True(t, result.Detected)
	assert.Equal(t, "frequency_deviation", result.FaultType)
	assert.Equal(t, "critical", string(result.Severity))
}

func TestFaultDetectorTransientForcesHighSeverity(t *testing.T) {
	base := 120.0
	d := NewFaultDetector("v1", "voltage", &base)
	now := time.Now()

	d.Check(50.0, now)
	result := d.Check(121.0, now.Add(time.Second))

	require.Greater(t, result.RateOfChange, 0.5)
	assert.Equal(t, "high", string(result.Severity))
}

func TestFaultDetectorEdgeTransitionClearsActive(t *testing.T) {
	base := 120.0
	d := NewFaultDetector("v1", "voltage", &base)
	now := time.Now()

	active := d.Check(140.0, now)
	assert.True(t, active.Active)

	recovered := d.Check(120.0, now.Add(time.Second))
	assert.False(t, recovered.Active)
}
