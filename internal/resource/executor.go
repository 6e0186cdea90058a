package resource

import (
	"context"
	"database/sql"
	"log/slog"

	"resource-orm/internal/dbexec"
	"resource-orm/internal/logging"
)

// loggingExecutor logs every statement at debug level before running it.
type loggingExecutor struct {
	next   dbexec.QueryExecutor
	logger *logging.Logger
}

func (e *loggingExecutor) QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error) {
	e.log(ctx, query, args)
	return e.next.QueryContext(ctx, query, args...)
}

func (e *loggingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e.log(ctx, query, args)
	return e.next.ExecContext(ctx, query, args...)
}

func (e *loggingExecutor) log(ctx context.Context, query string, args []any) {
	if !e.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []any{slog.String("sql", query), slog.Int("args", len(args))}
	if id := logging.GetRequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	e.logger.DebugContext(ctx, "executing sql", attrs...)
}

type transactionKey struct{}

// WithTransaction binds tx to ctx so every operation run with the returned
// context executes inside it.
func WithTransaction(ctx context.Context, tx *dbexec.TxExecutor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, transactionKey{}, tx)
}

// TransactionFromContext returns the transaction bound by WithTransaction.
func TransactionFromContext(ctx context.Context) *dbexec.TxExecutor {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(transactionKey{}).(*dbexec.TxExecutor)
	return tx
}
