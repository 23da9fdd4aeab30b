package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DefaultFinishTimeout bounds commit and rollback when TxOptions leaves it unset.
const DefaultFinishTimeout = 5 * time.Second

// Beginner is satisfied by *pgxpool.Pool and pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxOptions controls isolation and time bounds of a unit of work.
type TxOptions struct {
	IsoLevel   pgx.TxIsoLevel
	AccessMode pgx.TxAccessMode
	// Timeout bounds the whole unit including fn.
	Timeout time.Duration
	// FinishTimeout bounds commit and rollback independently of the caller's context.
	FinishTimeout time.Duration
}

func (o TxOptions) finishTimeout() time.Duration {
	if o.FinishTimeout > 0 {
		return o.FinishTimeout
	}
	return DefaultFinishTimeout
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool Beginner, fn func(context.Context, pgx.Tx) error) error {
	return WithTxOptions(ctx, pool, TxOptions{IsoLevel: pgx.RepeatableRead}, fn)
}

// WithTxOptions executes fn inside a transaction configured by opts. The
// transaction is rolled back when fn fails or the unit's deadline passes, and
// committed otherwise. Commit and rollback never wait longer than FinishTimeout.
func WithTxOptions(ctx context.Context, pool Beginner, opts TxOptions, fn func(context.Context, pgx.Tx) error) error {
	if pool == nil {
		return errors.New("platform/db: pool not configured")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: opts.IsoLevel, AccessMode: opts.AccessMode})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		rollback(ctx, tx, opts.finishTimeout())
		return err
	}
	if err := ctx.Err(); err != nil {
		rollback(ctx, tx, opts.finishTimeout())
		return fmt.Errorf("platform/db: unit deadline: %w", err)
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.finishTimeout())
	defer cancel()
	if err := tx.Commit(commitCtx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, timeout time.Duration) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	_ = tx.Rollback(rbCtx)
}
