package shared

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestAuditRecordLetsDatabaseStampZeroTime(t *testing.T) {
	var got []any
	logger := NewAuditLogger(execFunc(func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		got = args
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}))

	err := logger.Record(context.Background(), AuditLog{ActorID: 4, Action: "account.freeze", Entity: "account", EntityID: "12"})
	require.NoError(t, err)
	require.Len(t, got, 6)
	require.Nil(t, got[4], "empty meta is stored as NULL")
	require.Nil(t, got[5].(*time.Time))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err = logger.Record(context.Background(), AuditLog{ActorID: 4, Action: "loan.approve", Entity: "loan", EntityID: "LN2026000001", Meta: map[string]any{"principal": "120000000"}, At: at})
	require.NoError(t, err)
	require.JSONEq(t, `{"principal":"120000000"}`, string(got[4].([]byte)))
	require.Equal(t, at, *got[5].(*time.Time))
}

func TestAuditRecordValidates(t *testing.T) {
	logger := NewAuditLogger(execFunc(func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
		t.Fatal("exec must not run")
		return pgconn.CommandTag{}, nil
	}))
	require.ErrorIs(t, logger.Record(context.Background(), AuditLog{Action: "x"}), ErrInvalidAuditLog)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}
