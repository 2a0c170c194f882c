// Command migrate applies or reports on schema migrations against the
// configured Postgres database, wrapping adapters/db/postgres/migrations.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"

	_ "github.com/lib/pq"

	"pmuwatch/adapters/db/postgres/migrations"
	"pmuwatch/internal/config"
)

func main() {
	dir := flag.String("dir", "./adapters/db/postgres/migrations", "directory of numbered .sql migration files")
	status := flag.Bool("status", false, "report migration status instead of applying")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.TSDB.DSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	m := migrations.NewMigrator(db, *dir)
	ctx := context.Background()

	if *status {
		if err := m.Status(ctx); err != nil {
			log.Fatalf("failed to report migration status: %v", err)
		}
		return
	}

	if err := m.Up(ctx); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}
}
