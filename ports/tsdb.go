// Package ports declares the interfaces core components depend on but
// do not implement themselves: the core imports only these interfaces,
// and a concrete adapter is wired in at the composition root.
package ports

import (
	"context"
	"time"
)

// DB names the three logical time-series stores spec.md §6 requires.
type DB string

const (
	DBSamples  DB = "pmu_data"
	DBAnalysis DB = "pmu_analysis"
	DBWarnings DB = "pmu_warnings"
)

// Point is one row of the time-series store contract: a measurement
// name, string-valued indexed tags, typed fields, and a timestamp.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// SamplePoint is the shape of a row consumed from DBSamples: one
// measurement per signal_id, a single float field.
type SamplePoint struct {
	SignalID string
	Value    float64
	Time     time.Time
}

// TSDBReader abstracts read access to a logical time-series store.
type TSDBReader interface {
	// ReadRecentSamples returns up to limit of the most recent samples
	// for signalID, ordered oldest-first.
	ReadRecentSamples(ctx context.Context, db DB, signalID string, limit int) ([]SamplePoint, error)

	// Query returns points matching the given filters, ordered
	// descending by time, capped at limit.
	Query(ctx context.Context, db DB, q Query) ([]Point, error)
}

// Query filters a historical point lookup. Zero values mean
// "unconstrained" for that field, except Limit: a zero Limit leaves the
// cap to the implementation.
type Query struct {
	Start       time.Time
	End         time.Time
	Measurement string
	Tags        map[string]string
	Limit       int
}

// TSDBWriter abstracts batched write access to a logical time-series
// store. BatchID, when non-empty, is used as an idempotency key so a
// retried batch does not double-write.
type TSDBWriter interface {
	WriteBatch(ctx context.Context, db DB, batchID string, points []Point) error
}

// TSDBGateway composes read and write access; it is the concrete
// dependency C7 and C9 hold.
type TSDBGateway interface {
	TSDBReader
	TSDBWriter
}
