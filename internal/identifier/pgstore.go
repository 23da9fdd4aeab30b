package identifier

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Numbers only grow in length, so ordering by length first keeps the
// comparison numeric once a sequence gains a digit.
const (
	maxAccountNumberSQL = `SELECT account_number FROM accounts
ORDER BY length(account_number) DESC, account_number DESC LIMIT 1`
	maxLoanNumberSQL = `SELECT loan_number FROM loans WHERE loan_number LIKE $1 || '%'
ORDER BY length(loan_number) DESC, loan_number DESC LIMIT 1`
)

// PGStore reads maxima from the accounts and loans tables.
type PGStore struct {
	q RowQuerier
}

// NewPGStore constructs a PGStore, usually over the *pgxpool.Pool.
func NewPGStore(q RowQuerier) *PGStore {
	return &PGStore{q: q}
}

// MaxAccountNumber implements Store.
func (s *PGStore) MaxAccountNumber(ctx context.Context) (string, bool, error) {
	return s.max(ctx, maxAccountNumberSQL)
}

// MaxLoanNumber implements Store.
func (s *PGStore) MaxLoanNumber(ctx context.Context, prefix string) (string, bool, error) {
	return s.max(ctx, maxLoanNumberSQL, prefix)
}

func (s *PGStore) max(ctx context.Context, sql string, args ...any) (string, bool, error) {
	var out string
	if err := s.q.QueryRow(ctx, sql, args...).Scan(&out); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return out, true, nil
}

var _ Store = (*PGStore)(nil)
