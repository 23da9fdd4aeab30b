package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/loans"
)

// countedOnce keeps one row per transfer: the debit side.
const countedOnce = `(transaction_type <> 'TRANSFER' OR direction = 'DEBIT')`

// PGRepository runs report queries against Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TransactionTotals groups postings in the filter window by type.
func (r *PGRepository) TransactionTotals(ctx context.Context, filter TransactionFilter) ([]TypeTotal, error) {
	args := []any{filter.From, filter.To}
	query := `SELECT transaction_type, COUNT(*), COALESCE(SUM(amount), 0)::text
FROM transactions WHERE created_at >= $1 AND created_at <= $2 AND ` + countedOnce
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += " AND transaction_type = $3"
	}
	query += " GROUP BY transaction_type ORDER BY transaction_type"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TypeTotal, error) {
		var (
			t     TypeTotal
			typ   string
			total string
		)
		err := row.Scan(&typ, &t.Count, &total)
		if err != nil {
			return TypeTotal{}, err
		}
		t.Type = ledger.TransactionType(typ)
		t.Total, err = decimal.NewFromString(total)
		return t, err
	})
}

// LoanTotals groups loans by status.
func (r *PGRepository) LoanTotals(ctx context.Context, filter LoanFilter) ([]StatusTotal, error) {
	var (
		conds []string
		args  []any
	)
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("applied_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("applied_at <= $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT status, COUNT(*), COALESCE(SUM(principal), 0)::text, COALESCE(SUM(remaining_balance), 0)::text FROM loans`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " GROUP BY status ORDER BY status"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusTotal, error) {
		var (
			t                    StatusTotal
			status               string
			principal, remaining string
		)
		err := row.Scan(&status, &t.Count, &principal, &remaining)
		if err != nil {
			return StatusTotal{}, err
		}
		t.Status = loans.Status(status)
		if t.Principal, err = decimal.NewFromString(principal); err != nil {
			return StatusTotal{}, err
		}
		t.Remaining, err = decimal.NewFromString(remaining)
		return t, err
	})
}

// AccountTotals groups non-closed accounts by type.
func (r *PGRepository) AccountTotals(ctx context.Context) ([]AccountTypeTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT account_type, COUNT(*), COALESCE(SUM(balance), 0)::text
FROM accounts WHERE status <> 'CLOSED' GROUP BY account_type ORDER BY account_type`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AccountTypeTotal, error) {
		var (
			t       AccountTypeTotal
			typ     string
			balance string
		)
		err := row.Scan(&typ, &t.Count, &balance)
		if err != nil {
			return AccountTypeTotal{}, err
		}
		t.Type = ledger.AccountType(typ)
		t.Balance, err = decimal.NewFromString(balance)
		return t, err
	})
}

// CustomerCount counts registered customers.
func (r *PGRepository) CustomerCount(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n)
	return n, err
}

// TransactionCount counts postings at or after since.
func (r *PGRepository) TransactionCount(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE created_at >= $1 AND `+countedOnce, since).Scan(&n)
	return n, err
}

// ExternalFlowSince sums deposits, withdrawals and loan movements at or after since.
func (r *PGRepository) ExternalFlowSince(ctx context.Context, since time.Time) (ledger.Flow, error) {
	var credits, debits string
	err := r.pool.QueryRow(ctx, `SELECT
	COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0)::text,
	COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0)::text
FROM transactions WHERE created_at >= $1 AND transaction_type <> 'TRANSFER'`, since).Scan(&credits, &debits)
	if err != nil {
		return ledger.Flow{}, err
	}
	var flow ledger.Flow
	if flow.Credits, err = decimal.NewFromString(credits); err != nil {
		return ledger.Flow{}, err
	}
	flow.Debits, err = decimal.NewFromString(debits)
	return flow, err
}

var _ Repository = (*PGRepository)(nil)
