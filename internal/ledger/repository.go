package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/money"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/shared"
)

// Repository persists accounts and the transaction log.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs Repository. Units of work always run at
// Serializable isolation; bounds supplies the time limits.
func NewRepository(pool *pgxpool.Pool, bounds db.TxOptions) *Repository {
	bounds.IsoLevel = pgx.Serializable
	bounds.AccessMode = pgx.ReadWrite
	return &Repository{pool: pool, opts: bounds}
}

// TxRepository exposes the operations allowed inside a unit of work.
type TxRepository interface {
	GetAccountForUpdate(ctx context.Context, id int64) (Account, error)
	FindOpenAccountByType(ctx context.Context, customerID int64, t AccountType) (Account, bool, error)
	CustomerExists(ctx context.Context, customerID int64) (bool, error)
	InsertAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccountBalanceAndStatus(ctx context.Context, a Account) error
	AppendTransaction(ctx context.Context, t Transaction) (Transaction, error)
	ClaimIdempotencyKey(ctx context.Context, key, scope string) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules can post ledger
// movements inside their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes fn within a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, r.opts, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const accountColumns = `id, customer_id, account_number, account_type, balance::text, interest_rate::text, term_months, status, created_at, updated_at, closed_at`

const transactionColumns = `id, account_id, transaction_type, direction, amount::text, counterparty_account_id, balance_after::text, description, reference_number, correlation_id, actor_id, created_at`

func (r *txRepository) GetAccountForUpdate(ctx context.Context, id int64) (Account, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id)
	return scanAccount(row)
}

func (r *txRepository) FindOpenAccountByType(ctx context.Context, customerID int64, t AccountType) (Account, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts
WHERE customer_id=$1 AND account_type=$2 AND status <> 'CLOSED'
ORDER BY id LIMIT 1`, customerID, string(t))
	account, err := scanAccount(row)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

func (r *txRepository) CustomerExists(ctx context.Context, customerID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id=$1)`, customerID).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO accounts (customer_id, account_number, account_type, balance, interest_rate, term_months, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		a.CustomerID, a.Number, string(a.Type), money.Numeric(a.Balance), money.Numeric(a.InterestRate), a.TermMonths, string(a.Status), a.CreatedAt, a.UpdatedAt)
	if err := row.Scan(&a.ID); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) UpdateAccountBalanceAndStatus(ctx context.Context, a Account) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=$2, status=$3, updated_at=$4, closed_at=$5 WHERE id=$1`,
		a.ID, money.Numeric(a.Balance), string(a.Status), a.UpdatedAt, a.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) AppendTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO transactions (account_id, transaction_type, direction, amount, counterparty_account_id, balance_after, description, reference_number, correlation_id, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		t.AccountID, string(t.Type), string(t.Direction), money.Numeric(t.Amount), t.CounterpartyID, money.Numeric(t.BalanceAfter),
		t.Description, t.ReferenceNumber, t.CorrelationID, nullInt(t.ActorID), t.CreatedAt)
	if err := row.Scan(&t.ID); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key, scope string) error {
	err := shared.ClaimIdempotencyKey(ctx, r.tx, key, scope, time.Now().UTC())
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return ErrDuplicateRequest
	}
	return err
}

// GetAccount loads an account without locking it.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id)
	return scanAccount(row)
}

// ListAccounts lists accounts matching filter.
func (r *Repository) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	var (
		conds []string
		args  []any
	)
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id=$%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("account_type=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.ByBalance {
		query += " ORDER BY balance DESC, account_number"
	} else {
		query += " ORDER BY account_number"
	}
	query += limitOffset(&args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListTransactions returns an account's log, most recent first.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	args := []any{filter.AccountID}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE account_id=$1`
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	query += limitOffset(&args, filter.Limit, 0)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Snapshot reads the current balance and the flow recorded at or after since
// from one consistent snapshot.
func (r *Repository) Snapshot(ctx context.Context, accountID int64, since time.Time) (BalanceSnapshot, error) {
	var snap BalanceSnapshot
	opts := r.opts
	opts.IsoLevel = pgx.RepeatableRead
	opts.AccessMode = pgx.ReadOnly
	err := db.WithTxOptions(ctx, r.pool, opts, func(ctx context.Context, tx pgx.Tx) error {
		var balance string
		if err := tx.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE id=$1`, accountID).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		flow, err := sumFlow(ctx, tx, `account_id=$1 AND created_at >= $2`, accountID, since)
		if err != nil {
			return err
		}
		snap.Balance, err = decimal.NewFromString(balance)
		snap.Since = flow
		return err
	})
	return snap, err
}

// FlowBetween sums credits and debits recorded in [from, to].
func (r *Repository) FlowBetween(ctx context.Context, accountID int64, from, to time.Time) (Flow, error) {
	return sumFlow(ctx, r.pool, `account_id=$1 AND created_at >= $2 AND created_at <= $3`, accountID, from, to)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumFlow(ctx context.Context, q querier, where string, args ...any) (Flow, error) {
	var credits, debits string
	err := q.QueryRow(ctx, `SELECT
	COALESCE(SUM(amount) FILTER (WHERE direction='CREDIT'), 0)::text,
	COALESCE(SUM(amount) FILTER (WHERE direction='DEBIT'), 0)::text
FROM transactions WHERE `+where, args...).Scan(&credits, &debits)
	if err != nil {
		return Flow{}, err
	}
	var flow Flow
	if flow.Credits, err = decimal.NewFromString(credits); err != nil {
		return Flow{}, err
	}
	if flow.Debits, err = decimal.NewFromString(debits); err != nil {
		return Flow{}, err
	}
	return flow, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a             Account
		accountType   string
		status        string
		balance, rate string
	)
	err := row.Scan(&a.ID, &a.CustomerID, &a.Number, &accountType, &balance, &rate, &a.TermMonths, &status, &a.CreatedAt, &a.UpdatedAt, &a.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Type = AccountType(accountType)
	a.Status = AccountStatus(status)
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return Account{}, err
	}
	if a.InterestRate, err = decimal.NewFromString(rate); err != nil {
		return Account{}, err
	}
	return a, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t                    Transaction
		typ, direction       string
		amount, balanceAfter string
		actorID              *int64
	)
	err := row.Scan(&t.ID, &t.AccountID, &typ, &direction, &amount, &t.CounterpartyID, &balanceAfter, &t.Description, &t.ReferenceNumber, &t.CorrelationID, &actorID, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	t.Type = TransactionType(typ)
	t.Direction = Direction(direction)
	if actorID != nil {
		t.ActorID = *actorID
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, err
	}
	if t.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func limitOffset(args *[]any, limit, offset int) string {
	clause := ""
	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

var _ RepositoryPort = (*Repository)(nil)
