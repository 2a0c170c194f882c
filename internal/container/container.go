// Package container is the composition root: it wires config, the
// Postgres-backed time-series gateway (C1), the analysis scheduler
// (C7), and the warning manager (C10) into one lifecycle, the way
// gohypo's container wires repositories and research components
// around a single *sqlx.DB.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	tsdbpostgres "pmuwatch/adapters/tsdb/postgres"
	"pmuwatch/internal/config"
	"pmuwatch/internal/logging"
	"pmuwatch/internal/scheduler"
	"pmuwatch/internal/warning"
	"pmuwatch/ports"
)

// Container holds every long-lived dependency and owns their
// start/stop lifecycle.
type Container struct {
	Config *config.Config
	Log    *logging.Logger

	DB      *sqlx.DB
	Gateway ports.TSDBGateway

	Scheduler *scheduler.Scheduler
	Warnings  *warning.Manager
}

// New builds an empty container bound to cfg. Call InitWithDatabase
// before Start.
func New(cfg *config.Config, log *logging.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if log == nil {
		log = logging.NewFromEnv()
	}
	return &Container{Config: cfg, Log: log}, nil
}

// InitWithDatabase opens the gateway against db and wires the
// scheduler and warning manager around it.
func (c *Container) InitWithDatabase(db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}
	c.DB = db
	c.Gateway = tsdbpostgres.New(db)

	c.Scheduler = scheduler.New(c.Gateway, scheduler.Config{
		Signals:            c.Config.Signals,
		Interval:           durationFromSeconds(c.Config.Analysis.IntervalSeconds),
		SampleRate:         c.Config.Analysis.SampleRateHz,
		RingBufferCapacity: c.Config.Analysis.RingBufferSize,
		WindowSize:         c.Config.Analysis.WindowSize,
	}, c.Log)

	c.Warnings = warning.NewManager(c.Gateway, c.Config.Thresholds, c.Config.WarningStoreInterval, c.Log)

	return nil
}

// Start launches the scheduler and the warning store's drain loop.
func (c *Container) Start(ctx context.Context) {
	c.Scheduler.Start(ctx)
	c.Warnings.Start(ctx)
}

// Shutdown stops the scheduler and warning manager (each waiting at
// most 5s; the warning manager flushes its queued events one last
// time) and closes the database connection.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Warnings != nil {
		c.Warnings.Stop()
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s * float64(time.Second))
}
