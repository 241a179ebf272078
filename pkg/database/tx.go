package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Querier is the subset of pgx shared by pools and transactions. Record
// stores resolve their querier from context so the same store code runs
// inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type contextKey string

const querierKey contextKey = "querier"

// WithQuerier stores a transaction-scoped querier in the context.
func WithQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, querierKey, q)
}

// QuerierFrom retrieves the transaction-scoped querier from the context.
// Returns nil and false if not present.
func QuerierFrom(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(querierKey).(Querier)
	return q, ok
}

// TxRunner runs a function inside one atomic transaction with a bounded
// deadline. The transaction is rolled back in full if the function returns
// an error, so a cascade is never partially committed.
type TxRunner struct {
	db      *DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewTxRunner creates a TxRunner. A zero timeout disables the per-
// transaction deadline.
func NewTxRunner(db *DB, timeout time.Duration, logger *zap.Logger) *TxRunner {
	return &TxRunner{db: db, timeout: timeout, logger: logger.Named("tx")}
}

// WithTx begins a transaction, makes it available to record stores via the
// context, and commits only if fn returns nil.
func (r *TxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				r.logger.Warn("Failed to roll back transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(WithQuerier(ctx, tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
