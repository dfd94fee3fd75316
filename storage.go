package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/orian/sqlmedic/models"
)

// DuckDBHistoryStore is the durable models.HistoryStore backed by DuckDB.
type DuckDBHistoryStore struct {
	db *sql.DB
}

// NewDuckDBHistoryStore opens (or creates) the DuckDB database at dbPath
// and prepares the healing schema.
func NewDuckDBHistoryStore(dbPath string) (*DuckDBHistoryStore, error) {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	store := &DuckDBHistoryStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *DuckDBHistoryStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS healing_state (
			query_hash VARCHAR PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT true,
			total_runs INTEGER NOT NULL DEFAULT 0,
			successful_runs INTEGER NOT NULL DEFAULT 0,
			failed_runs INTEGER NOT NULL DEFAULT 0,
			rolled_back_runs INTEGER NOT NULL DEFAULT 0,
			initial_avg_elapsed_ms DOUBLE NOT NULL DEFAULT 0,
			current_avg_elapsed_ms DOUBLE NOT NULL DEFAULT 0,
			cumulative_improvement DOUBLE NOT NULL DEFAULT 0,
			successful_fix_types TEXT,
			failed_fix_types TEXT,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS healing_runs (
			id VARCHAR PRIMARY KEY,
			query_hash VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			improvement DOUBLE NOT NULL DEFAULT 0,
			applied_fix_types TEXT,
			message TEXT,
			created_at TIMESTAMP NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// GetHistory loads the aggregate row plus the ordered run log.
func (s *DuckDBHistoryStore) GetHistory(queryHash string) (*models.HealingHistory, bool) {
	var h models.HealingHistory
	var successJSON, failedJSON string

	err := s.db.QueryRow(`
		SELECT query_hash, total_runs, successful_runs, failed_runs, rolled_back_runs,
		       initial_avg_elapsed_ms, current_avg_elapsed_ms, cumulative_improvement,
		       COALESCE(successful_fix_types, '[]'), COALESCE(failed_fix_types, '[]')
		FROM healing_state
		WHERE query_hash = ?
	`, queryHash).Scan(&h.QueryHash, &h.TotalRuns, &h.SuccessfulRuns, &h.FailedRuns, &h.RolledBackRuns,
		&h.InitialAvgElapsedMs, &h.CurrentAvgElapsedMs, &h.CumulativeImprovementPercent,
		&successJSON, &failedJSON)
	if err != nil {
		return nil, false
	}

	if err := json.Unmarshal([]byte(successJSON), &h.SuccessfulFixTypes); err != nil {
		log.Printf("Warning: failed to unmarshal successful fix types for %s: %v", queryHash, err)
	}
	if err := json.Unmarshal([]byte(failedJSON), &h.FailedFixTypes); err != nil {
		log.Printf("Warning: failed to unmarshal failed fix types for %s: %v", queryHash, err)
	}

	entries, err := s.loadEntries(queryHash)
	if err != nil {
		log.Printf("Warning: failed to load healing runs for %s: %v", queryHash, err)
	}
	h.Entries = entries

	return &h, true
}

func (s *DuckDBHistoryStore) loadEntries(queryHash string) ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, status, improvement, COALESCE(applied_fix_types, '[]'), COALESCE(message, ''), created_at
		FROM healing_runs
		WHERE query_hash = ?
		ORDER BY created_at ASC
	`, queryHash)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var fixTypesJSON string
		if err := rows.Scan(&e.ID, &e.Status, &e.ImprovementPercent, &fixTypesJSON, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if err := json.Unmarshal([]byte(fixTypesJSON), &e.AppliedFixTypes); err != nil {
			log.Printf("Warning: failed to unmarshal fix types for run %s: %v", e.ID, err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// SaveHistory upserts the aggregate row and inserts any run entries not
// yet persisted, in one transaction.
func (s *DuckDBHistoryStore) SaveHistory(history *models.HealingHistory) error {
	successJSON, err := json.Marshal(history.SuccessfulFixTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal successful fix types: %w", err)
	}
	failedJSON, err := json.Marshal(history.FailedFixTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal failed fix types: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO healing_state (query_hash, enabled, total_runs, successful_runs, failed_runs, rolled_back_runs,
		                           initial_avg_elapsed_ms, current_avg_elapsed_ms, cumulative_improvement,
		                           successful_fix_types, failed_fix_types, updated_at)
		VALUES (?, true, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (query_hash) DO UPDATE SET
			total_runs = excluded.total_runs,
			successful_runs = excluded.successful_runs,
			failed_runs = excluded.failed_runs,
			rolled_back_runs = excluded.rolled_back_runs,
			initial_avg_elapsed_ms = excluded.initial_avg_elapsed_ms,
			current_avg_elapsed_ms = excluded.current_avg_elapsed_ms,
			cumulative_improvement = excluded.cumulative_improvement,
			successful_fix_types = excluded.successful_fix_types,
			failed_fix_types = excluded.failed_fix_types,
			updated_at = excluded.updated_at
	`, history.QueryHash, history.TotalRuns, history.SuccessfulRuns, history.FailedRuns, history.RolledBackRuns,
		history.InitialAvgElapsedMs, history.CurrentAvgElapsedMs, history.CumulativeImprovementPercent,
		string(successJSON), string(failedJSON), time.Now())
	if err != nil {
		return err
	}

	for _, e := range history.Entries {
		fixTypesJSON, err := json.Marshal(e.AppliedFixTypes)
		if err != nil {
			return fmt.Errorf("failed to marshal fix types: %w", err)
		}
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO healing_runs (id, query_hash, status, improvement, applied_fix_types, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.ID, history.QueryHash, string(e.Status), e.ImprovementPercent, string(fixTypesJSON), e.Message, e.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SetEnabled records the enable/disable flag, creating the state row if
// the hash has never been healed.
func (s *DuckDBHistoryStore) SetEnabled(queryHash string, enabled bool) error {
	_, err := s.db.Exec(`
		INSERT INTO healing_state (query_hash, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (query_hash) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, queryHash, enabled, time.Now())
	return err
}

// IsEnabled reports whether healing is allowed for the hash. Unknown
// hashes default to enabled.
func (s *DuckDBHistoryStore) IsEnabled(queryHash string) bool {
	var enabled bool
	err := s.db.QueryRow("SELECT enabled FROM healing_state WHERE query_hash = ?", queryHash).Scan(&enabled)
	if err != nil {
		return true
	}
	return enabled
}

func (s *DuckDBHistoryStore) Close() error {
	return s.db.Close()
}
