package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/orian/sqlmedic/models"
)

// advisoryTable is the ops-maintained table holding missing-index
// recommendations. Absence of the table is not an error; the advisory
// rule simply gets no input.
const advisoryTable = "sqlmedic_index_advisories"

// ClickHouseTelemetry supplies captured queries and index advisories
// from a ClickHouse server's query log.
type ClickHouseTelemetry struct {
	conn driver.Conn
}

// NewClickHouseTelemetry creates a telemetry source over the connection.
func NewClickHouseTelemetry(conn driver.Conn) *ClickHouseTelemetry {
	return &ClickHouseTelemetry{conn: conn}
}

// TopQueries aggregates system.query_log by normalized query shape and
// returns the most expensive shapes with populated metrics, costliest
// first.
func (t *ClickHouseTelemetry) TopQueries(ctx context.Context, limit int) ([]models.Query, error) {
	rows, err := t.conn.Query(ctx, `
		SELECT
			any(query) AS query_text,
			count() AS executions,
			avg(query_duration_ms) AS avg_elapsed_ms,
			sum(query_duration_ms) AS total_elapsed_ms,
			avg(read_rows) AS avg_read_rows,
			avg(read_bytes) AS avg_read_bytes,
			max(event_time) AS last_seen
		FROM system.query_log
		WHERE type = 'QueryFinish' AND query_kind = 'Select'
		GROUP BY normalized_query_hash
		ORDER BY total_elapsed_ms DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query_log aggregation failed: %w", err)
	}
	defer rows.Close()

	var queries []models.Query
	for rows.Next() {
		var (
			text                      string
			executions                uint64
			avgElapsed, totalElapsed  float64
			avgReadRows, avgReadBytes float64
			lastSeen                  time.Time
		)
		if err := rows.Scan(&text, &executions, &avgElapsed, &totalElapsed, &avgReadRows, &avgReadBytes, &lastSeen); err != nil {
			return nil, fmt.Errorf("query_log scan failed: %w", err)
		}

		queries = append(queries, models.Query{
			Text: text,
			Hash: models.HashQuery(text),
			Metrics: models.QueryMetrics{
				ExecutionCount: int64(executions),
				// query_log has no per-query CPU split; wall-clock
				// duration is the closest available proxy.
				AvgCpuTimeMs:      avgElapsed,
				TotalCpuTimeMs:    totalElapsed,
				AvgElapsedTimeMs:  avgElapsed,
				AvgLogicalReads:   avgReadRows,
				AvgPhysicalReads:  avgReadBytes / 8192,
				LastExecutionTime: lastSeen,
			},
		})
	}

	return queries, rows.Err()
}

// MissingIndexAdvisories returns the advisory rows whose table is
// referenced by the query text. A missing advisory table yields an
// empty result, not an error.
func (t *ClickHouseTelemetry) MissingIndexAdvisories(ctx context.Context, query models.Query) ([]models.IndexAdvisory, error) {
	rows, err := t.conn.Query(ctx, fmt.Sprintf(`
		SELECT table_name, impact_score, equality_columns, inequality_columns, included_columns
		FROM %s
		ORDER BY impact_score DESC
	`, advisoryTable))
	if err != nil {
		log.Printf("Index advisory table unavailable: %v", err)
		return nil, nil
	}
	defer rows.Close()

	upper := strings.ToUpper(query.Text)
	var advisories []models.IndexAdvisory
	for rows.Next() {
		var adv models.IndexAdvisory
		if err := rows.Scan(&adv.Table, &adv.ImpactScore, &adv.EqualityColumns, &adv.InequalityColumns, &adv.IncludedColumns); err != nil {
			return nil, fmt.Errorf("advisory scan failed: %w", err)
		}
		if strings.Contains(upper, strings.ToUpper(adv.Table)) {
			advisories = append(advisories, adv)
		}
	}

	return advisories, rows.Err()
}
