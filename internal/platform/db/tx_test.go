package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitDL   bool
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	_, tx.commitDL = ctx.Deadline()
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	tx.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx   *fakeTx
	opts pgx.TxOptions
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	return b.tx, nil
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTx(context.Background(), b, func(ctx context.Context, tx pgx.Tx) error { return nil })
	require.NoError(t, err)
	require.True(t, b.tx.committed)
	require.False(t, b.tx.rolledBack)
	require.True(t, b.tx.commitDL, "commit must run under a bounded context")
	require.Equal(t, pgx.RepeatableRead, b.opts.IsoLevel)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	boom := errors.New("boom")
	err := WithTxOptions(context.Background(), b, TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx pgx.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, b.tx.committed)
	require.True(t, b.tx.rolledBack)
	require.Equal(t, pgx.Serializable, b.opts.IsoLevel)
}

func TestWithTxRollsBackWhenUnitDeadlinePasses(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	err := WithTxOptions(context.Background(), b, TxOptions{Timeout: 10 * time.Millisecond}, func(ctx context.Context, tx pgx.Tx) error {
		<-ctx.Done()
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, b.tx.committed)
	require.True(t, b.tx.rolledBack)
}
