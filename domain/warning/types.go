// Package warning defines the data model for the two-layer warning
// engine: threshold configuration, the warning event record, and its
// lifecycle enums. Events are created by the real-time layer (C8),
// transition state, and become immutable once written by the storage
// layer (C9).
package warning

import "time"

// Severity ranks how serious a warning event is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// State is the lifecycle stage of a warning event.
type State string

const (
	StateActive       State = "ACTIVE"
	StateRecovered    State = "RECOVERED"
	StateAcknowledged State = "ACKNOWLEDGED"
)

// ThresholdType names which bound (min or max) a violation crossed.
type ThresholdType string

const (
	ThresholdMin ThresholdType = "min"
	ThresholdMax ThresholdType = "max"
)

// ThresholdConfig configures the hysteretic N-of-M trigger / M-of-M
// recovery state machine for one signal. Any bound may be left unset
// (nil) to disable that check.
type ThresholdConfig struct {
	SignalID    string
	SignalType  string
	WarningMin  *float64
	WarningMax  *float64
	CriticalMin *float64
	CriticalMax *float64

	TriggerCount     int           // N, default 3
	TriggerWindow    time.Duration // W_t, default 5s
	RecoveryCount    int           // M, default 2
	RecoveryWindow   time.Duration // W_r, default 3s
	MinEventDuration time.Duration // D_min, default 1s
}

// WithDefaults returns a copy of c with zero-valued tunables replaced by
// spec.md's defaults (N=3, W_t=5s, M=2, W_r=3s, D_min=1s).
func (c ThresholdConfig) WithDefaults() ThresholdConfig {
	if c.TriggerCount <= 0 {
		c.TriggerCount = 3
	}
	if c.TriggerWindow <= 0 {
		c.TriggerWindow = 5 * time.Second
	}
	if c.RecoveryCount <= 0 {
		c.RecoveryCount = 2
	}
	if c.RecoveryWindow <= 0 {
		c.RecoveryWindow = 3 * time.Second
	}
	if c.MinEventDuration <= 0 {
		c.MinEventDuration = 1 * time.Second
	}
	return c
}

// Event is a warning raised for a signal. It is created ACTIVE, may
// transition to ACKNOWLEDGED (a flag, not a terminal state) or to
// RECOVERED (terminal, persisted), and is never mutated by anyone but
// the real-time layer that owns it until it is handed to storage.
type Event struct {
	EventID          string
	SignalID         string
	SignalType       string
	Severity         Severity
	State            State
	ThresholdType    ThresholdType
	ThresholdValue   float64
	TriggerValue     float64
	FirstTriggerTime time.Time
	EventStartTime   time.Time
	EventEndTime     *time.Time
	Duration         *time.Duration
	TriggerCount     int
	MaxDeviation     float64
	ValuesDuringEvent []float64
	Message          string
	Acknowledged     bool
	AcknowledgedBy   *string
	AcknowledgedAt   *time.Time
}

// Clone returns a deep-enough copy of e so callers can hand out events
// from an active set without risking aliasing mutable fields.
func (e Event) Clone() Event {
	c := e
	if e.EventEndTime != nil {
		t := *e.EventEndTime
		c.EventEndTime = &t
	}
	if e.Duration != nil {
		d := *e.Duration
		c.Duration = &d
	}
	if e.AcknowledgedBy != nil {
		s := *e.AcknowledgedBy
		c.AcknowledgedBy = &s
	}
	if e.AcknowledgedAt != nil {
		t := *e.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	c.ValuesDuringEvent = append([]float64(nil), e.ValuesDuringEvent...)
	return c
}
