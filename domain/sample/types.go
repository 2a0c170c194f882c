// Package sample defines the measurement primitives shared by every
// analysis and warning component: the immutable Sample and the
// per-signal configuration that tells the rest of the pipeline how to
// interpret it.
package sample

import "time"

// SignalType classifies the physical quantity a signal represents. The
// threshold engine and fault detector both branch on this to decide how
// to express deviations (absolute Hz vs. relative ratio).
type SignalType string

const (
	SignalFrequency SignalType = "frequency"
	SignalVoltage   SignalType = "voltage"
	SignalCurrent   SignalType = "current"
	SignalPower     SignalType = "power"
	SignalROCOF     SignalType = "rocof"
	SignalOther     SignalType = "other"
)

// Sample is a single, immutable measurement. Timestamps are UTC and are
// expected to carry at least nanosecond resolution as produced by the
// ingestion adapter.
type Sample struct {
	SignalID  string
	Timestamp time.Time
	Value     float64
}

// Config describes a monitored signal: what kind of quantity it is, its
// nominal operating value, and (optionally) a simple ratio-based alert
// threshold used only by the legacy pre/post-window proxy, not by the
// warning engine.
type Config struct {
	SignalID      string
	Type          SignalType
	Base          *float64
	ThresholdRatio *float64
}

// NominalBase returns the configured base value, or 0 if none is set.
func (c Config) NominalBase() float64 {
	if c.Base == nil {
		return 0
	}
	return *c.Base
}
