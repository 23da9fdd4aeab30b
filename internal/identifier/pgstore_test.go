package identifier

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type valueRow struct {
	value string
	err   error
}

func (r valueRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.value
	return nil
}

type recordingQuerier struct {
	row  valueRow
	sql  string
	args []any
}

func (q *recordingQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.sql, q.args = sql, args
	return q.row
}

func TestMaxLoanNumberOrdersByLengthFirst(t *testing.T) {
	q := &recordingQuerier{row: valueRow{value: "LN20261000000"}}
	n, ok, err := NewPGStore(q).MaxLoanNumber(context.Background(), "LN2026")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "LN20261000000", n)
	require.Contains(t, q.sql, "ORDER BY length(loan_number) DESC, loan_number DESC")
	require.Equal(t, []any{"LN2026"}, q.args)
}

func TestMaxAccountNumberEmptyTable(t *testing.T) {
	q := &recordingQuerier{row: valueRow{err: pgx.ErrNoRows}}
	n, ok, err := NewPGStore(q).MaxAccountNumber(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, n)
	require.Contains(t, q.sql, "ORDER BY length(account_number) DESC, account_number DESC")
}
