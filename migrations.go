package main

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Add lookup indexes for healing runs",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_runs_hash ON healing_runs(query_hash);
				CREATE INDEX IF NOT EXISTS idx_runs_created ON healing_runs(created_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations.
func RunMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, migration := range GetMigrations() {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", migration.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", migration.Version, err)
		}
		if count > 0 {
			continue
		}

		log.Printf("Applying migration %d: %s", migration.Version, migration.Description)
		if _, err := db.Exec(migration.SQL); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			migration.Version, migration.Description, time.Now(),
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
