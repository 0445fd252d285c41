package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultQueryTimeout = 30 * time.Second
	defaultMaxRows      = 100
)

// Executor runs ad hoc statements that passed the read-only gate.
type Executor struct {
	db           *sql.DB
	queryTimeout time.Duration
	maxRows      int
}

func NewExecutor(db *sql.DB, queryTimeout time.Duration, maxRows int) *Executor {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	return &Executor{db: db, queryTimeout: queryTimeout, maxRows: maxRows}
}

// Query validates sql and, if allowed, returns at most maxRows rows keyed by
// column name. Rejected statements never reach the driver.
func (e *Executor) Query(ctx context.Context, query string) ([]map[string]any, error) {
	if err := CheckReadOnly(query); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	results := []map[string]any{}
	for len(results) < e.maxRows && rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}
