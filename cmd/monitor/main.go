// Command monitor is the process entry point: load config, run
// migrations, wire the container, start the scheduler and warning
// manager, serve the HTTP surface, and shut down cleanly on SIGINT/
// SIGTERM. Its lifecycle mirrors etalazz-vsa's cmd/ratelimiter-api:
// stop the background workers first (final flush), then the HTTP
// server, each under a bounded context.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pmuwatch/adapters/db/postgres/migrations"
	tsdbpostgres "pmuwatch/adapters/tsdb/postgres"
	"pmuwatch/internal/config"
	"pmuwatch/internal/container"
	"pmuwatch/internal/httpapi"
	"pmuwatch/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.NewFromEnv()

	db, err := tsdbpostgres.Open(cfg.TSDB.DSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}

	migrator := migrations.NewMigrator(db.DB, "./adapters/db/postgres/migrations")
	if err := migrator.Up(context.Background()); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	c, err := container.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build container: %v", err)
	}
	if err := c.InitWithDatabase(db); err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	router := httpapi.NewRouter(c.Warnings, cfg.Server.GinMode)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("monitor listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received, draining background workers")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := c.Shutdown(shutdownCtx); err != nil {
		logger.Error("container shutdown error: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error: %v", err)
	}
}
