package loans

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/money"
	"github.com/branchledger/branchledger/internal/platform/db"
)

// Repository persists loans.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs Repository. Units run at Serializable isolation so
// loan updates compose with ledger postings.
func NewRepository(pool *pgxpool.Pool, bounds db.TxOptions) *Repository {
	bounds.IsoLevel = pgx.Serializable
	bounds.AccessMode = pgx.ReadWrite
	return &Repository{pool: pool, opts: bounds}
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx executes fn within a serializable transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("loans repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, r.opts, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

const loanColumns = `id, customer_id, account_id, loan_number, principal::text, annual_rate::text, term_months,
monthly_payment::text, total_paid::text, remaining_balance::text, status, purpose, applied_at, approved_at,
approved_by, COALESCE(rejection_reason, ''), start_date, end_date, created_by, updated_at`

func (r *txRepository) GetLoanForUpdate(ctx context.Context, id int64) (Loan, error) {
	return scanLoan(r.tx.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) InsertLoan(ctx context.Context, l Loan) (Loan, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO loans (customer_id, loan_number, principal, annual_rate, term_months, monthly_payment,
total_paid, remaining_balance, status, purpose, applied_at, created_by, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		l.CustomerID, l.Number, money.Numeric(l.Principal), l.AnnualRate.String(), l.TermMonths, money.Numeric(l.MonthlyPayment),
		money.Numeric(l.TotalPaid), money.Numeric(l.Remaining), string(l.Status), l.Purpose, l.AppliedAt, l.CreatedBy, l.UpdatedAt)
	if err := row.Scan(&l.ID); err != nil {
		return Loan{}, err
	}
	return l, nil
}

func (r *txRepository) UpdateLoan(ctx context.Context, l Loan) error {
	var reason *string
	if l.RejectionReason != "" {
		reason = &l.RejectionReason
	}
	tag, err := r.tx.Exec(ctx, `UPDATE loans SET account_id=$2, total_paid=$3, remaining_balance=$4, status=$5,
approved_at=$6, approved_by=$7, rejection_reason=$8, start_date=$9, end_date=$10, updated_at=$11 WHERE id=$1`,
		l.ID, l.AccountID, money.Numeric(l.TotalPaid), money.Numeric(l.Remaining), string(l.Status),
		l.ApprovedAt, l.ApprovedBy, reason, l.StartDate, l.EndDate, l.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrLoanNotFound
	}
	return nil
}

func (r *txRepository) HasOutstandingLoan(ctx context.Context, customerID, excludeID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM loans WHERE customer_id=$1 AND id<>$2 AND status IN ('DISBURSED','OVERDUE'))`,
		customerID, excludeID).Scan(&exists)
	return exists, err
}

// GetLoan loads a loan without locking it.
func (r *Repository) GetLoan(ctx context.Context, id int64) (Loan, error) {
	return scanLoan(r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id=$1`, id))
}

// ListLoans lists loans, newest application first.
func (r *Repository) ListLoans(ctx context.Context, filter ListFilter) ([]Loan, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(cond, len(args)))
	}
	if filter.CustomerID > 0 {
		add("customer_id=$%d", filter.CustomerID)
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
	}
	if filter.From != nil {
		add("applied_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("applied_at <= $%d", *filter.To)
	}
	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY applied_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLoan(row pgx.Row) (Loan, error) {
	var (
		l                        Loan
		status                   string
		principal, rate, payment string
		totalPaid, remaining     string
	)
	err := row.Scan(&l.ID, &l.CustomerID, &l.AccountID, &l.Number, &principal, &rate, &l.TermMonths,
		&payment, &totalPaid, &remaining, &status, &l.Purpose, &l.AppliedAt, &l.ApprovedAt,
		&l.ApprovedBy, &l.RejectionReason, &l.StartDate, &l.EndDate, &l.CreatedBy, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrLoanNotFound
		}
		return Loan{}, err
	}
	l.Status = Status(status)
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{principal, &l.Principal},
		{rate, &l.AnnualRate},
		{payment, &l.MonthlyPayment},
		{totalPaid, &l.TotalPaid},
		{remaining, &l.Remaining},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return Loan{}, err
		}
	}
	return l, nil
}

var _ RepositoryPort = (*Repository)(nil)
