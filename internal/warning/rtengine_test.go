package warning

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmuwatch/domain/warning"
)

func floatp(v float64) *float64 { return &v }

func testConfig() warning.ThresholdConfig {
	return warning.ThresholdConfig{
		SignalID:         "v1",
		SignalType:       "voltage",
		WarningMax:       floatp(125.0),
		CriticalMax:      floatp(135.0),
		WarningMin:       floatp(115.0),
		CriticalMin:      floatp(105.0),
		TriggerCount:     3,
		TriggerWindow:    5 * time.Second,
		RecoveryCount:    2,
		RecoveryWindow:   3 * time.Second,
		MinEventDuration: 1 * time.Second,
	}
}

func TestRTEngineUnknownSignalIsSilentNoOp(t *testing.T) {
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, nil)
	ev := e.Check("unknown", 999.0, time.Now())
	assert.Nil(t, ev)
	assert.Empty(t, e.ActiveEvents())
}

func TestRTEngineCleanTriggerAfterNViolations(t *testing.T) {
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, nil)
	now := time.Now()

	assert.Nil(t, e.Check("v1", 130.0, now))
	assert.Nil(t, e.Check("v1", 131.0, now.Add(time.Second)))
	ev := e.Check("v1", 132.0, now.Add(2*time.Second))

	require.NotNil(t, ev)
	assert.Equal(t, warning.StateActive, ev.State)
	assert.Equal(t, warning.SeverityWarning, ev.Severity)
	assert.Equal(t, 3, ev.TriggerCount)
	assert.Equal(t, fmt.Sprintf("v1_%d", now.Unix()), ev.EventID)
}

func TestRTEngineRecoversAfterMNormalsAndMinDuration(t *testing.T) {
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, nil)
	now := time.Now()

	e.Check("v1", 130.0, now)
	e.Check("v1", 131.0, now.Add(time.Second))
	ev := e.Check("v1", 132.0, now.Add(2*time.Second))
	require.NotNil(t, ev)

	assert.Nil(t, e.Check("v1", 120.0, now.Add(3*time.Second)))
	recovered := e.Check("v1", 121.0, now.Add(4*time.Second))

	require.NotNil(t, recovered)
	assert.Equal(t, warning.StateRecovered, recovered.State)
	require.NotNil(t, recovered.Duration)
	assert.True(t, *recovered.Duration >= 1*time.Second)
	assert.Empty(t, e.ActiveEvents())
}

func TestRTEngineShortDurationRecoveryIsDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.MinEventDuration = 10 * time.Second
	e := NewRTEngine([]warning.ThresholdConfig{cfg}, nil)
	now := time.Now()

	e.Check("v1", 130.0, now)
	e.Check("v1", 131.0, now.Add(time.Millisecond))
	ev := e.Check("v1", 132.0, now.Add(2*time.Millisecond))
	require.NotNil(t, ev)

	e.Check("v1", 120.0, now.Add(3*time.Millisecond))
	recovered := e.Check("v1", 121.0, now.Add(4*time.Millisecond))

	assert.Nil(t, recovered)
	assert.Empty(t, e.ActiveEvents())
}

func TestRTEngineCriticalDominatesWarning(t *testing.T) {
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, nil)
	now := time.Now()

	e.Check("v1", 126.0, now)
	e.Check("v1", 136.0, now.Add(time.Second))
	ev := e.Check("v1", 137.0, now.Add(2*time.Second))

	require.NotNil(t, ev)
	assert.Equal(t, warning.SeverityCritical, ev.Severity)
}

func TestRTEngineUpdatesTriggerCountWhileActive(t *testing.T) {
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, nil)
	now := time.Now()

	e.Check("v1", 130.0, now)
	e.Check("v1", 131.0, now.Add(time.Second))
	ev := e.Check("v1", 132.0, now.Add(2*time.Second))
	require.NotNil(t, ev)
	assert.Equal(t, 3, ev.TriggerCount)

	result := e.Check("v1", 133.0, now.Add(3*time.Second))
	assert.Nil(t, result)

	active := e.ActiveEvents()["v1"]
	assert.Equal(t, 4, active.TriggerCount)
}

func TestRTEngineAcknowledgeSetsState(t *testing.T) {
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, nil)
	now := time.Now()

	e.Check("v1", 130.0, now)
	e.Check("v1", 131.0, now.Add(time.Second))
	e.Check("v1", 132.0, now.Add(2*time.Second))

	ack, ok := e.Acknowledge("v1", "operator1", now.Add(3*time.Second))
	require.True(t, ok)
	assert.True(t, ack.Acknowledged)
	assert.Equal(t, warning.StateAcknowledged, ack.State)

	_, missing := e.Acknowledge("nope", "operator1", now)
	assert.False(t, missing)
}

func TestRTEngineStatisticsTracksChecks(t *testing.T) {
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, nil)
	now := time.Now()

	e.Check("v1", 120.0, now)
	e.Check("v1", 121.0, now.Add(time.Second))

	stats := e.Statistics()
	assert.Equal(t, int64(2), stats.TotalChecks)
	assert.Equal(t, 0, stats.ActiveCount)
}

func TestRTEngineOnChangeCallbackFiresOnTriggerAndRecovery(t *testing.T) {
	var seen []warning.State
	e := NewRTEngine([]warning.ThresholdConfig{testConfig()}, func(ev warning.Event) {
		seen = append(seen, ev.State)
	})
	now := time.Now()

	e.Check("v1", 130.0, now)
	e.Check("v1", 131.0, now.Add(time.Second))
	e.Check("v1", 132.0, now.Add(2*time.Second))
	e.Check("v1", 120.0, now.Add(3*time.Second))
	e.Check("v1", 121.0, now.Add(4*time.Second))

	require.Len(t, seen, 2)
	assert.Equal(t, warning.StateActive, seen[0])
	assert.Equal(t, warning.StateRecovered, seen[1])
}
