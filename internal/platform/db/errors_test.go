package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "transactions_reference_number_key"})
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "transactions_reference_number_key"))
	require.False(t, IsUniqueViolation(err, "accounts_account_number_key"))
	require.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestIsSerializationFailure(t *testing.T) {
	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsSerializationFailure(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "40P01"})))
	require.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
}

func TestResubmitReason(t *testing.T) {
	collision := &pgconn.PgError{Code: "23505", ConstraintName: "loans_loan_number_key"}
	require.Equal(t, "serialization", ResubmitReason(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), ""))
	require.Equal(t, "collision", ResubmitReason(collision, "loans_loan_number_key"))
	require.Empty(t, ResubmitReason(collision, ""))
	require.Empty(t, ResubmitReason(&pgconn.PgError{Code: "23505", ConstraintName: "customers_national_id_key"}, "loans_loan_number_key"))
	require.Empty(t, ResubmitReason(errors.New("connection reset"), "loans_loan_number_key"))
	require.Empty(t, ResubmitReason(nil, "loans_loan_number_key"))
}
