// Package ledgertest provides an in-memory ledger store for tests of packages
// built on top of the ledger.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/branchledger/branchledger/internal/ledger"
)

type state struct {
	accounts  map[int64]ledger.Account
	customers map[int64]bool
	txns      []ledger.Transaction
	keys      map[string]bool
	nextAcct  int64
	nextTxn   int64
}

func (s state) clone() state {
	out := state{
		accounts:  make(map[int64]ledger.Account, len(s.accounts)),
		customers: make(map[int64]bool, len(s.customers)),
		txns:      append([]ledger.Transaction(nil), s.txns...),
		keys:      make(map[string]bool, len(s.keys)),
		nextAcct:  s.nextAcct,
		nextTxn:   s.nextTxn,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.customers {
		out.customers[k] = v
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	return out
}

// Store is an in-memory ledger.RepositoryPort. Units of work run one at a time
// against a private copy of the state that replaces the committed state only
// when the unit succeeds.
type Store struct {
	mu        sync.Mutex
	committed state

	// FailAppendAt makes the n-th AppendTransaction of every unit fail with FailErr.
	FailAppendAt int
	FailErr      error
	// Collisions is the number of upcoming appends rejected as reference collisions.
	Collisions int
	// Conflicts is the number of upcoming units that abort at commit with a
	// serialization failure, as a concurrent update on a locked row would.
	Conflicts int
	// Units counts WithTx invocations.
	Units int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{committed: state{
		accounts:  map[int64]ledger.Account{},
		customers: map[int64]bool{},
		keys:      map[string]bool{},
	}}
}

// AddCustomer registers a customer id.
func (s *Store) AddCustomer(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.customers[id] = true
}

// AddAccount seeds an account and returns it with its id assigned.
func (s *Store) AddAccount(a ledger.Account) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.nextAcct++
	a.ID = s.committed.nextAcct
	if a.Number == "" {
		a.Number = fmt.Sprintf("%d", 1001000000+a.ID)
	}
	if a.Status == "" {
		a.Status = ledger.AccountStatusActive
	}
	if a.Type == "" {
		a.Type = ledger.AccountTypeChecking
	}
	s.committed.customers[a.CustomerID] = true
	s.committed.accounts[a.ID] = a
	return a
}

// AddTransaction seeds a log row without touching balances.
func (s *Store) AddTransaction(t ledger.Transaction) ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed.nextTxn++
	t.ID = s.committed.nextTxn
	s.committed.txns = append(s.committed.txns, t)
	return t
}

// Account returns the committed account.
func (s *Store) Account(id int64) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.accounts[id]
}

// Transactions returns every committed log row in insertion order.
func (s *Store) Transactions() []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ledger.Transaction(nil), s.committed.txns...)
}

// WithTx runs fn against a private copy of the state.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return s.RunUnit(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return fn(ctx, tx)
	})
}

// RunUnit is WithTx for callers composing their own transactional state; the
// returned error decides commit or rollback of the ledger state.
func (s *Store) RunUnit(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Units++
	if err := ctx.Err(); err != nil {
		return err
	}
	staged := s.committed.clone()
	tx := &memTx{store: s, st: &staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.Conflicts > 0 {
		s.Conflicts--
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	s.committed = staged
	return nil
}

type memTx struct {
	store   *Store
	st      *state
	appends int
}

func (tx *memTx) GetAccountForUpdate(ctx context.Context, id int64) (ledger.Account, error) {
	a, ok := tx.st.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

func (tx *memTx) FindOpenAccountByType(ctx context.Context, customerID int64, t ledger.AccountType) (ledger.Account, bool, error) {
	ids := make([]int64, 0, len(tx.st.accounts))
	for id := range tx.st.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		a := tx.st.accounts[id]
		if a.CustomerID == customerID && a.Type == t && a.Status != ledger.AccountStatusClosed {
			return a, true, nil
		}
	}
	return ledger.Account{}, false, nil
}

func (tx *memTx) CustomerExists(ctx context.Context, customerID int64) (bool, error) {
	return tx.st.customers[customerID], nil
}

func (tx *memTx) InsertAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	for _, existing := range tx.st.accounts {
		if existing.Number == a.Number {
			return ledger.Account{}, &pgconn.PgError{Code: "23505", ConstraintName: ledger.ConstraintAccountNumber}
		}
	}
	tx.st.nextAcct++
	a.ID = tx.st.nextAcct
	tx.st.accounts[a.ID] = a
	return a, nil
}

func (tx *memTx) UpdateAccountBalanceAndStatus(ctx context.Context, a ledger.Account) error {
	if _, ok := tx.st.accounts[a.ID]; !ok {
		return ledger.ErrAccountNotFound
	}
	if a.Balance.IsNegative() {
		return &pgconn.PgError{Code: "23514", ConstraintName: "accounts_balance_check"}
	}
	tx.st.accounts[a.ID] = a
	return nil
}

func (tx *memTx) AppendTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	tx.appends++
	if tx.store.FailAppendAt > 0 && tx.appends == tx.store.FailAppendAt {
		return ledger.Transaction{}, tx.store.FailErr
	}
	if tx.store.Collisions > 0 {
		tx.store.Collisions--
		return ledger.Transaction{}, &pgconn.PgError{Code: "23505", ConstraintName: ledger.ConstraintReferenceNumber}
	}
	for _, existing := range tx.st.txns {
		if existing.ReferenceNumber == t.ReferenceNumber {
			return ledger.Transaction{}, &pgconn.PgError{Code: "23505", ConstraintName: ledger.ConstraintReferenceNumber}
		}
	}
	tx.st.nextTxn++
	t.ID = tx.st.nextTxn
	tx.st.txns = append(tx.st.txns, t)
	return t, nil
}

func (tx *memTx) ClaimIdempotencyKey(ctx context.Context, key, scope string) error {
	k := scope + "|" + key
	if tx.st.keys[k] {
		return ledger.ErrDuplicateRequest
	}
	tx.st.keys[k] = true
	return nil
}

// GetAccount implements ledger.RepositoryPort.
func (s *Store) GetAccount(ctx context.Context, id int64) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.committed.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return a, nil
}

// ListAccounts implements ledger.RepositoryPort.
func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Account
	for _, a := range s.committed.accounts {
		if filter.CustomerID > 0 && a.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.ByBalance && !out[i].Balance.Equal(out[j].Balance) {
			return out[i].Balance.GreaterThan(out[j].Balance)
		}
		return strings.Compare(out[i].Number, out[j].Number) < 0
	})
	if filter.Offset > 0 {
		out = out[min(filter.Offset, len(out)):]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListTransactions implements ledger.RepositoryPort, most recent first.
func (s *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Transaction
	for _, t := range s.committed.txns {
		if t.AccountID != filter.AccountID {
			continue
		}
		if filter.From != nil && t.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && t.CreatedAt.After(*filter.To) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Snapshot returns the current balance and the flow at or after since.
func (s *Store) Snapshot(ctx context.Context, accountID int64, since time.Time) (ledger.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.committed.accounts[accountID]
	if !ok {
		return ledger.BalanceSnapshot{}, ledger.ErrAccountNotFound
	}
	return ledger.BalanceSnapshot{
		Balance: a.Balance,
		Since:   s.flow(accountID, func(t time.Time) bool { return !t.Before(since) }),
	}, nil
}

// FlowBetween sums the flow in [from, to].
func (s *Store) FlowBetween(ctx context.Context, accountID int64, from, to time.Time) (ledger.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow(accountID, func(t time.Time) bool { return !t.Before(from) && !t.After(to) }), nil
}

func (s *Store) flow(accountID int64, in func(time.Time) bool) ledger.Flow {
	var f ledger.Flow
	for _, t := range s.committed.txns {
		if t.AccountID != accountID || !in(t.CreatedAt) {
			continue
		}
		if t.Direction == ledger.DirectionDebit {
			f.Debits = f.Debits.Add(t.Amount)
		} else {
			f.Credits = f.Credits.Add(t.Amount)
		}
	}
	return f
}

// IDs is a deterministic ledger.IDGenerator.
type IDs struct {
	mu      sync.Mutex
	account int64
	ref     int64
}

// NextAccountNumber returns sequential account numbers starting at the seed.
func (g *IDs) NextAccountNumber(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account++
	return fmt.Sprintf("%d", 1001000000+g.account), nil
}

// NextReferenceNumber returns sequential reference numbers.
func (g *IDs) NextReferenceNumber() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ref++
	return fmt.Sprintf("TXN20260101000000000%03d", g.ref%1000)
}

var _ ledger.RepositoryPort = (*Store)(nil)
