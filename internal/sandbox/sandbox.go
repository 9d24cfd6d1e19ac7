// Package sandbox executes synthesized SQL against a project-scoped
// schema. Every call acquires its own connection, runs inside a
// read-only transaction with the project's schema as the sole search
// path, and releases the connection on all exit paths.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queryTimeout bounds a single sandboxed statement.
const queryTimeout = 30 * time.Second

// ExecutionError captures a failed statement with the driver's message.
// It is surfaced to the caller, never retried.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sql execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Row is one result row keyed by column name.
type Row = map[string]any

// Executor runs statements in per-project sandboxes.
//
// Executor is safe for concurrent use; each Execute call works on its
// own connection so no project's search path leaks into another's.
type Executor struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewExecutor creates an Executor over the given pool.
func NewExecutor(pool *pgxpool.Pool, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{pool: pool, logger: logger}
}

// Execute runs one cleaned statement against the project's schema and
// returns the result rows. Failures come back as *ExecutionError.
func (e *Executor) Execute(ctx context.Context, sql, projectSchema string) ([]Row, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &ExecutionError{SQL: sql, Err: fmt.Errorf("statement is empty")}
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, &ExecutionError{SQL: sql, Err: fmt.Errorf("acquiring connection: %w", err)}
	}
	// Release unconditionally; the per-call connection must never leak
	// across projects.
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, &ExecutionError{SQL: sql, Err: fmt.Errorf("beginning read-only transaction: %w", err)}
	}
	defer func() {
		// The transaction is read-only; rollback is the only sensible end.
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			e.logger.Debug("sandbox rollback", "error", rbErr)
		}
	}()

	// SET LOCAL scopes the search path to this transaction only.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path = %s", quoteIdent(projectSchema))); err != nil {
		return nil, &ExecutionError{SQL: sql, Err: fmt.Errorf("setting search path: %w", err)}
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, &ExecutionError{SQL: sql, Err: err}
	}
	defer rows.Close()

	result, err := collectRows(rows)
	if err != nil {
		return nil, &ExecutionError{SQL: sql, Err: err}
	}

	e.logger.Debug("sandboxed statement executed",
		"schema", projectSchema,
		"rows", len(result))
	return result, nil
}

// collectRows materializes pgx rows into column-keyed maps.
func collectRows(rows pgx.Rows) ([]Row, error) {
	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// quoteIdent double-quotes a schema identifier, escaping embedded
// quotes. Project schema names come from our own records, but the
// quoting keeps a malformed name from widening the search path.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
