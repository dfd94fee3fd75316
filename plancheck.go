package main

import (
	"context"
	"fmt"
	"log"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/orian/sqlmedic/heal"
)

// ExplainComparer implements heal.PlanComparer by running
// EXPLAIN ESTIMATE for the original and rewritten text and comparing
// the estimated scan volumes.
type ExplainComparer struct {
	conn driver.Conn
}

// NewExplainComparer creates a comparer over the given connection.
func NewExplainComparer(conn driver.Conn) *ExplainComparer {
	return &ExplainComparer{conn: conn}
}

// estimateRow mirrors one EXPLAIN ESTIMATE output row.
type estimateRow struct {
	Database string
	Table    string
	Parts    uint64
	Rows     uint64
	Marks    uint64
}

// CompareEstimates returns the total estimated rows each text would scan.
func (e *ExplainComparer) CompareEstimates(ctx context.Context, original, rewritten string) (*heal.PlanComparison, error) {
	origRows, err := e.estimateRows(ctx, original)
	if err != nil {
		return nil, fmt.Errorf("estimate for original failed: %w", err)
	}
	newRows, err := e.estimateRows(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("estimate for rewrite failed: %w", err)
	}

	return &heal.PlanComparison{
		OriginalRows:  origRows,
		RewrittenRows: newRows,
		Detail:        fmt.Sprintf("EXPLAIN ESTIMATE rows %d -> %d", origRows, newRows),
	}, nil
}

func (e *ExplainComparer) estimateRows(ctx context.Context, query string) (uint64, error) {
	estimateQuery := "EXPLAIN ESTIMATE " + query
	log.Printf("Running: %s", estimateQuery)

	rows, err := e.conn.Query(ctx, estimateQuery)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var total uint64
	for rows.Next() {
		var row estimateRow
		if err := rows.Scan(&row.Database, &row.Table, &row.Parts, &row.Rows, &row.Marks); err != nil {
			return 0, err
		}
		total += row.Rows
	}

	return total, rows.Err()
}
