package warning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "pmuwatch/domain/warning"
)

func managerTestConfig() domain.ThresholdConfig {
	return domain.ThresholdConfig{
		SignalID:         "v1",
		SignalType:       "voltage",
		WarningMax:       floatp(125.0),
		CriticalMax:      floatp(135.0),
		TriggerCount:     2,
		TriggerWindow:    5 * time.Second,
		RecoveryCount:    1,
		RecoveryWindow:   5 * time.Second,
		MinEventDuration: 0,
	}
}

func TestManagerCheckValueEnqueuesIntoStore(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw, []domain.ThresholdConfig{managerTestConfig()}, time.Hour, noopLogger())
	now := time.Now()

	ev := m.CheckValue("v1", 130.0, now)
	assert.Nil(t, ev)
	ev = m.CheckValue("v1", 131.0, now.Add(time.Second))
	require.NotNil(t, ev)

	active := m.GetActiveWarnings()
	assert.Contains(t, active, "v1")

	m.store.mu.Lock()
	assert.Len(t, m.store.queue, 1)
	m.store.mu.Unlock()
}

func TestManagerAcknowledgeEventByID(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw, []domain.ThresholdConfig{managerTestConfig()}, time.Hour, noopLogger())
	now := time.Now()

	m.CheckValue("v1", 130.0, now)
	ev := m.CheckValue("v1", 131.0, now.Add(time.Second))
	require.NotNil(t, ev)

	ack, ok := m.AcknowledgeEvent(ev.EventID, "operator1", now.Add(2*time.Second))
	require.True(t, ok)
	assert.True(t, ack.Acknowledged)

	_, missing := m.AcknowledgeEvent("does-not-exist", "operator1", now)
	assert.False(t, missing)
}

func TestManagerUpdateThresholdsDiscardsActiveEvents(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw, []domain.ThresholdConfig{managerTestConfig()}, time.Hour, noopLogger())
	now := time.Now()

	m.CheckValue("v1", 130.0, now)
	ev := m.CheckValue("v1", 131.0, now.Add(time.Second))
	require.NotNil(t, ev)
	assert.NotEmpty(t, m.GetActiveWarnings())

	err := m.UpdateThresholds([]domain.ThresholdConfig{managerTestConfig()})
	require.NoError(t, err)
	assert.Empty(t, m.GetActiveWarnings())
}

func TestManagerUpdateThresholdsRejectsDuplicateSignalID(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw, []domain.ThresholdConfig{managerTestConfig()}, time.Hour, noopLogger())

	cfg := managerTestConfig()
	err := m.UpdateThresholds([]domain.ThresholdConfig{cfg, cfg})
	assert.Error(t, err)
}

func TestManagerGetStatisticsReflectsChecks(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw, []domain.ThresholdConfig{managerTestConfig()}, time.Hour, noopLogger())
	now := time.Now()

	m.CheckValue("v1", 120.0, now)
	m.CheckValue("v1", 121.0, now.Add(time.Second))

	stats := m.GetStatistics()
	assert.Equal(t, int64(2), stats.TotalChecks)
}

func TestManagerStartStopDrainsOnShutdown(t *testing.T) {
	gw := &fakeGateway{}
	m := NewManager(gw, []domain.ThresholdConfig{managerTestConfig()}, time.Hour, noopLogger())
	now := time.Now()

	m.CheckValue("v1", 130.0, now)
	m.CheckValue("v1", 131.0, now.Add(time.Second))

	m.Start(context.Background())
	m.Stop()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Len(t, gw.written, 1)
}
