// Package postgres implements ports.TSDBGateway against the points
// table (adapters/db/postgres/migrations/001_initial_schema.sql). The
// spec speaks of a generic time-series store; no example repo in the
// retrieval pack wires an InfluxDB client, so this backs it with the
// teacher's own stack, sqlx over lib/pq, the way
// gohypo/adapters/postgres repositories do.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"pmuwatch/internal/errors"
	"pmuwatch/ports"
)

// Gateway is a sqlx-backed ports.TSDBGateway.
type Gateway struct {
	db *sqlx.DB
}

// New wraps an already-open *sqlx.DB.
func New(db *sqlx.DB) *Gateway {
	return &Gateway{db: db}
}

// Open connects to dsn and verifies it with a ping.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "postgres ping failed")
	}
	return db, nil
}

// ReadRecentSamples returns up to limit of the most recent samples for
// signalID from db, ordered oldest-first (reversing the DESC query).
func (g *Gateway) ReadRecentSamples(ctx context.Context, db ports.DB, signalID string, limit int) ([]ports.SamplePoint, error) {
	const q = `
		SELECT fields, time
		FROM points
		WHERE db_name = $1 AND tags->>'signal_id' = $2
		ORDER BY time DESC
		LIMIT $3`

	rows, err := g.db.QueryxContext(ctx, q, string(db), signalID, limit)
	if err != nil {
		return nil, errors.DatabaseError("failed to query recent samples: " + err.Error())
	}
	defer rows.Close()

	var out []ports.SamplePoint
	for rows.Next() {
		var fieldsRaw []byte
		var t sql.NullTime
		if err := rows.Scan(&fieldsRaw, &t); err != nil {
			return nil, errors.DatabaseError("failed to scan sample row: " + err.Error())
		}

		var fields map[string]interface{}
		if err := json.Unmarshal(fieldsRaw, &fields); err != nil {
			return nil, errors.DatabaseError("failed to decode sample fields: " + err.Error())
		}

		value, _ := fields["value"].(float64)
		out = append(out, ports.SamplePoint{
			SignalID: signalID,
			Value:    value,
			Time:     t.Time,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.DatabaseError("failed reading sample rows: " + err.Error())
	}

	// reverse to oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Query returns points matching q, newest first, capped at q.Limit
// (1000 when q.Limit is zero or negative).
func (g *Gateway) Query(ctx context.Context, db ports.DB, q ports.Query) ([]ports.Point, error) {
	sqlQuery := `SELECT measurement, tags, fields, time FROM points WHERE db_name = $1`
	args := []interface{}{string(db)}

	if q.Measurement != "" {
		args = append(args, q.Measurement)
		sqlQuery += " AND measurement = $" + placeholderIndex(len(args))
	}
	if !q.Start.IsZero() {
		args = append(args, q.Start)
		sqlQuery += " AND time >= $" + placeholderIndex(len(args))
	}
	if !q.End.IsZero() {
		args = append(args, q.End)
		sqlQuery += " AND time <= $" + placeholderIndex(len(args))
	}
	for k, v := range q.Tags {
		args = append(args, k, v)
		sqlQuery += " AND tags->>$" + placeholderIndex(len(args)-1) + " = $" + placeholderIndex(len(args))
	}

	sqlQuery += " ORDER BY time DESC"
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)
	sqlQuery += " LIMIT $" + placeholderIndex(len(args))

	rows, err := g.db.QueryxContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, errors.DatabaseError("failed to query points: " + err.Error())
	}
	defer rows.Close()

	var out []ports.Point
	for rows.Next() {
		var measurement string
		var tagsRaw, fieldsRaw []byte
		var t sql.NullTime
		if err := rows.Scan(&measurement, &tagsRaw, &fieldsRaw, &t); err != nil {
			return nil, errors.DatabaseError("failed to scan point row: " + err.Error())
		}

		var tags map[string]string
		var fields map[string]interface{}
		if err := json.Unmarshal(tagsRaw, &tags); err != nil {
			return nil, errors.DatabaseError("failed to decode point tags: " + err.Error())
		}
		if err := json.Unmarshal(fieldsRaw, &fields); err != nil {
			return nil, errors.DatabaseError("failed to decode point fields: " + err.Error())
		}

		out = append(out, ports.Point{
			Measurement: measurement,
			Tags:        tags,
			Fields:      fields,
			Time:        t.Time,
		})
	}
	return out, rows.Err()
}

// WriteBatch inserts points in one transaction. When batchID is
// non-empty, rows carry it plus their ordinal position within points
// (seq), and ON CONFLICT (db_name, batch_id, seq) DO NOTHING makes a
// retried batch a no-op rather than a duplicate write
// (idx_points_batch_dedup). seq, not measurement/time, distinguishes
// rows of one batch: e.g. every fft_spectrum bin of one analysis cycle
// shares db_name, batch_id, measurement and time, differing only in
// tags/fields.
func (g *Gateway) WriteBatch(ctx context.Context, db ports.DB, batchID string, points []ports.Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("failed to begin write batch: " + err.Error())
	}
	defer tx.Rollback()

	const insertWithConflictTarget = `
		INSERT INTO points (db_name, measurement, tags, fields, time, batch_id, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (db_name, batch_id, seq) WHERE batch_id IS NOT NULL DO NOTHING`

	const insertNoBatch = `
		INSERT INTO points (db_name, measurement, tags, fields, time, batch_id, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	insert := insertNoBatch
	var batchIDArg interface{}
	if batchID != "" {
		batchIDArg = batchID
		insert = insertWithConflictTarget
	}

	for i, p := range points {
		tagsJSON, err := json.Marshal(p.Tags)
		if err != nil {
			return errors.DatabaseError("failed to encode point tags: " + err.Error())
		}
		fieldsJSON, err := json.Marshal(p.Fields)
		if err != nil {
			return errors.DatabaseError("failed to encode point fields: " + err.Error())
		}

		if _, err := tx.ExecContext(ctx, insert, string(db), p.Measurement, tagsJSON, fieldsJSON, p.Time, batchIDArg, i); err != nil {
			return errors.DatabaseError("failed to insert point: " + err.Error())
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.DatabaseError("failed to commit write batch: " + err.Error())
	}
	return nil
}

func placeholderIndex(n int) string {
	return strconv.Itoa(n)
}
