// Package dbexec provides database query execution abstractions.
// Executors run against a pooled handle or a single transaction; callers only
// see the QueryExecutor interface.
package dbexec

import (
	"context"
	"database/sql"
	"errors"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution so callers can swap in transactional behavior.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TxBeginner starts transactions that satisfy QueryExecutor.
type TxBeginner interface {
	BeginTx(ctx context.Context) (*TxExecutor, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// BeginTx opens a transaction on the underlying handle.
func (e *StandardExecutor) BeginTx(ctx context.Context) (*TxExecutor, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &TxExecutor{tx: tx}, nil
}

// TxExecutor runs every statement inside one transaction.
type TxExecutor struct {
	tx   *sql.Tx
	done bool
}

func (e *TxExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.done {
		return nil, sql.ErrTxDone
	}
	return e.tx.QueryContext(ctx, query, args...)
}

func (e *TxExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.done {
		return nil, sql.ErrTxDone
	}
	return e.tx.ExecContext(ctx, query, args...)
}

// Commit commits the transaction. Subsequent calls are no-ops.
func (e *TxExecutor) Commit() error {
	if e.done {
		return nil
	}
	e.done = true
	return e.tx.Commit()
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (e *TxExecutor) Rollback() error {
	if e.done {
		return nil
	}
	e.done = true
	if err := e.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// Finalize commits when fnErr is nil and rolls back otherwise, returning the first error.
func (e *TxExecutor) Finalize(fnErr error) error {
	if fnErr != nil {
		_ = e.Rollback()
		return fnErr
	}
	return e.Commit()
}
