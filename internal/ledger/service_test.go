package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/ledger/ledgertest"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/shared"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, log.Action)
	return nil
}

type countingBump struct{ n int }

func (b *countingBump) Bump(ctx context.Context) error {
	b.n++
	return nil
}

var fixedNow = time.Date(2026, 5, 14, 10, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*ledger.Service, *ledgertest.Store, *recordingAudit) {
	t.Helper()
	store := ledgertest.NewStore()
	audit := &recordingAudit{}
	svc := ledger.NewService(store, &ledgertest.IDs{}, audit, nil)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, store, audit
}

func TestWithdrawThenTransferScenario(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	first := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("500000")})
	second := store.AddAccount(ledger.Account{CustomerID: 2, Balance: decimal.Zero})

	w, err := svc.Withdraw(ctx, ledger.PostingInput{AccountID: first.ID, Amount: dec("200000"), ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, ledger.TransactionWithdraw, w.Type)
	require.True(t, w.BalanceAfter.Equal(dec("300000")))
	require.True(t, store.Account(first.ID).Balance.Equal(dec("300000")))
	require.Len(t, store.Transactions(), 1)

	res, err := svc.Transfer(ctx, ledger.TransferInput{SourceID: first.ID, TargetID: second.ID, Amount: dec("100000"), ActorID: 7})
	require.NoError(t, err)
	require.True(t, store.Account(first.ID).Balance.Equal(dec("200000")))
	require.True(t, store.Account(second.ID).Balance.Equal(dec("100000")))
	require.Len(t, store.Transactions(), 3)
	require.NotEqual(t, res.Debit.ReferenceNumber, res.Credit.ReferenceNumber)
	require.NotEqual(t, w.ReferenceNumber, res.Debit.ReferenceNumber)
}

func TestDepositThenWithdrawRestoresBalance(t *testing.T) {
	svc, store, audit := newService(t)
	ctx := context.Background()
	acct := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("1250.50")})

	_, err := svc.Deposit(ctx, ledger.PostingInput{AccountID: acct.ID, Amount: dec("99.95")})
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, ledger.PostingInput{AccountID: acct.ID, Amount: dec("99.95")})
	require.NoError(t, err)

	require.True(t, store.Account(acct.ID).Balance.Equal(dec("1250.50")))
	txns := store.Transactions()
	require.Len(t, txns, 2)
	require.Equal(t, ledger.DirectionCredit, txns[0].Direction)
	require.Equal(t, ledger.DirectionDebit, txns[1].Direction)
	require.Equal(t, []string{"ledger.deposit", "ledger.withdraw"}, audit.actions)
}

func TestTransferConservesTotalAndWritesBothSides(t *testing.T) {
	svc, store, _ := newService(t)
	bump := &countingBump{}
	svc.WithInvalidator(bump)
	a := store.AddAccount(ledger.Account{CustomerID: 1, Number: "1001000001", Balance: dec("800")})
	b := store.AddAccount(ledger.Account{CustomerID: 2, Number: "1001000002", Balance: dec("50")})

	res, err := svc.Transfer(context.Background(), ledger.TransferInput{SourceID: a.ID, TargetID: b.ID, Amount: dec("300"), Description: "rent"})
	require.NoError(t, err)

	after := store.Account(a.ID).Balance.Add(store.Account(b.ID).Balance)
	require.True(t, after.Equal(dec("850")))
	require.True(t, store.Account(a.ID).Balance.Equal(dec("500")))
	require.True(t, store.Account(b.ID).Balance.Equal(dec("350")))

	require.Equal(t, a.ID, res.Debit.AccountID)
	require.Equal(t, b.ID, *res.Debit.CounterpartyID)
	require.Equal(t, b.ID, res.Credit.AccountID)
	require.Equal(t, a.ID, *res.Credit.CounterpartyID)
	require.Equal(t, ledger.DirectionDebit, res.Debit.Direction)
	require.Equal(t, ledger.DirectionCredit, res.Credit.Direction)
	require.Equal(t, res.Debit.CorrelationID, res.Credit.CorrelationID)
	require.True(t, res.Debit.BalanceAfter.Equal(dec("500")))
	require.True(t, res.Credit.BalanceAfter.Equal(dec("350")))
	require.Equal(t, "transfer to 1001000002: rent", res.Debit.Description)
	require.Equal(t, "received from 1001000001: rent", res.Credit.Description)
	require.Len(t, store.Transactions(), 2)
	require.Equal(t, 1, bump.n)
}

func TestTransferRejectionsLeaveNoTrace(t *testing.T) {
	cases := []struct {
		name    string
		source  ledger.Account
		target  ledger.Account
		amount  string
		same    bool
		missing bool
		want    error
	}{
		{name: "insufficient", source: ledger.Account{Balance: dec("10")}, target: ledger.Account{}, amount: "10.01", want: ledger.ErrInsufficientBalance},
		{name: "frozen source", source: ledger.Account{Balance: dec("100"), Status: ledger.AccountStatusFrozen}, target: ledger.Account{}, amount: "1", want: ledger.ErrAccountNotActive},
		{name: "closed target", source: ledger.Account{Balance: dec("100")}, target: ledger.Account{Status: ledger.AccountStatusClosed}, amount: "1", want: ledger.ErrAccountNotActive},
		{name: "same account", source: ledger.Account{Balance: dec("100")}, target: ledger.Account{}, amount: "1", same: true, want: ledger.ErrSameAccountTransfer},
		{name: "missing target", source: ledger.Account{Balance: dec("100")}, target: ledger.Account{}, amount: "1", missing: true, want: ledger.ErrAccountNotFound},
		{name: "zero amount", source: ledger.Account{Balance: dec("100")}, target: ledger.Account{}, amount: "0", want: ledger.ErrInvalidAmount},
		{name: "above ceiling", source: ledger.Account{Balance: dec("900000000")}, target: ledger.Account{}, amount: "500000000.01", want: ledger.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, audit := newService(t)
			src := store.AddAccount(tc.source)
			dst := store.AddAccount(tc.target)
			targetID := dst.ID
			if tc.same {
				targetID = src.ID
			}
			if tc.missing {
				targetID = 999
			}
			_, err := svc.Transfer(context.Background(), ledger.TransferInput{SourceID: src.ID, TargetID: targetID, Amount: dec(tc.amount)})
			require.ErrorIs(t, err, tc.want)
			require.True(t, store.Account(src.ID).Balance.Equal(tc.source.Balance))
			require.True(t, store.Account(dst.ID).Balance.Equal(tc.target.Balance))
			require.Empty(t, store.Transactions())
			require.Empty(t, audit.actions)
		})
	}
}

func TestValidateAmount(t *testing.T) {
	svc, _, _ := newService(t)
	require.NoError(t, svc.ValidateAmount(dec("0.01")))
	require.NoError(t, svc.ValidateAmount(dec("500000000")))
	require.ErrorIs(t, svc.ValidateAmount(dec("-5")), ledger.ErrInvalidAmount)
	require.ErrorIs(t, svc.ValidateAmount(dec("500000000.01")), ledger.ErrInvalidAmount)
	require.ErrorIs(t, svc.ValidateAmount(dec("1.005")), ledger.ErrInvalidAmount)

	svc.WithMaxAmount(dec("1000"))
	require.ErrorIs(t, svc.ValidateAmount(dec("1000.01")), ledger.ErrInvalidAmount)
}

func TestWithdrawRejectsOverdraftAndInactiveAccounts(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	acct := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("20")})
	frozen := store.AddAccount(ledger.Account{CustomerID: 2, Balance: dec("20"), Status: ledger.AccountStatusFrozen})

	_, err := svc.Withdraw(ctx, ledger.PostingInput{AccountID: acct.ID, Amount: dec("20.01")})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	_, err = svc.Deposit(ctx, ledger.PostingInput{AccountID: frozen.ID, Amount: dec("1")})
	require.ErrorIs(t, err, ledger.ErrAccountNotActive)
	_, err = svc.Deposit(ctx, ledger.PostingInput{AccountID: 404, Amount: dec("1")})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	require.Empty(t, store.Transactions())
}

func TestPersistenceFailureRollsBackWholeTransfer(t *testing.T) {
	svc, store, audit := newService(t)
	a := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("100")})
	b := store.AddAccount(ledger.Account{CustomerID: 2, Balance: dec("0")})
	storageErr := errors.New("connection reset by peer")
	store.FailAppendAt = 2
	store.FailErr = storageErr

	_, err := svc.Transfer(context.Background(), ledger.TransferInput{SourceID: a.ID, TargetID: b.ID, Amount: dec("40")})
	require.ErrorIs(t, err, ledger.ErrPersistenceFailure)
	require.ErrorIs(t, err, storageErr)
	require.True(t, store.Account(a.ID).Balance.Equal(dec("100")))
	require.True(t, store.Account(b.ID).Balance.Equal(dec("0")))
	require.Empty(t, store.Transactions())
	require.Empty(t, audit.actions)
	require.Equal(t, 1, store.Units, "persistence failures are not retried")
}

func TestSerializationFailureResubmitsWholeUnit(t *testing.T) {
	svc, store, audit := newService(t)
	a := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("100")})
	b := store.AddAccount(ledger.Account{CustomerID: 2, Balance: dec("0")})
	store.Conflicts = 1

	_, err := svc.Transfer(context.Background(), ledger.TransferInput{SourceID: a.ID, TargetID: b.ID, Amount: dec("40")})
	require.NoError(t, err)
	require.Equal(t, 2, store.Units)
	require.True(t, store.Account(a.ID).Balance.Equal(dec("60")))
	require.True(t, store.Account(b.ID).Balance.Equal(dec("40")))
	require.Len(t, store.Transactions(), 2)
	require.Len(t, audit.actions, 1)
}

func TestSerializationFailureGivesUpAfterThreeUnits(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("100")})
	store.Conflicts = 5

	_, err := svc.Withdraw(context.Background(), ledger.PostingInput{AccountID: acct.ID, Amount: dec("30")})
	require.ErrorIs(t, err, ledger.ErrPersistenceFailure)
	require.True(t, db.IsSerializationFailure(err))
	require.Equal(t, 3, store.Units)
	require.True(t, store.Account(acct.ID).Balance.Equal(dec("100")))
	require.Empty(t, store.Transactions())
}

func TestReferenceCollisionResubmitsWholeUnit(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("0")})
	store.Collisions = 2

	txn, err := svc.Deposit(context.Background(), ledger.PostingInput{AccountID: acct.ID, Amount: dec("75")})
	require.NoError(t, err)
	require.Equal(t, 3, store.Units)
	require.True(t, store.Account(acct.ID).Balance.Equal(dec("75")))
	require.Len(t, store.Transactions(), 1)
	require.Equal(t, txn.ReferenceNumber, store.Transactions()[0].ReferenceNumber)
}

func TestReferenceCollisionGivesUpAfterThreeUnits(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1})
	store.Collisions = 10

	_, err := svc.Deposit(context.Background(), ledger.PostingInput{AccountID: acct.ID, Amount: dec("75")})
	require.ErrorIs(t, err, ledger.ErrPersistenceFailure)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, 3, store.Units)
	require.Empty(t, store.Transactions())
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1})
	in := ledger.PostingInput{AccountID: acct.ID, Amount: dec("10"), IdempotencyKey: "req-1"}

	_, err := svc.Deposit(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.Deposit(context.Background(), in)
	require.ErrorIs(t, err, ledger.ErrDuplicateRequest)
	require.True(t, store.Account(acct.ID).Balance.Equal(dec("10")))
	require.Len(t, store.Transactions(), 1)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("1000")})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(context.Background(), ledger.PostingInput{AccountID: acct.ID, Amount: dec("100")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}()
	}
	wg.Wait()
	require.Equal(t, 10, succeeded)
	require.True(t, store.Account(acct.ID).Balance.IsZero())
	require.Len(t, store.Transactions(), 10)
}

func TestPostWithinRejectsTransfers(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1})
	err := store.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := svc.PostWithin(ctx, tx, ledger.Posting{AccountID: acct.ID, Type: ledger.TransactionTransfer, Amount: dec("1")})
		return err
	})
	require.ErrorIs(t, err, ledger.ErrUnsupportedPosting)
}

func TestPostWithinCreditsLoanDisbursement(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1, Balance: dec("5")})
	err := store.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		txn, err := svc.PostWithin(ctx, tx, ledger.Posting{AccountID: acct.ID, Type: ledger.TransactionLoanDisbursement, Amount: dec("10000000")})
		require.NoError(t, err)
		require.Equal(t, ledger.DirectionCredit, txn.Direction)
		return nil
	})
	require.NoError(t, err)
	require.True(t, store.Account(acct.ID).Balance.Equal(dec("10000005")))
}

func TestPostWithinIgnoresTellerCeiling(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1})
	err := store.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		if _, err := svc.PostWithin(ctx, tx, ledger.Posting{AccountID: acct.ID, Type: ledger.TransactionLoanDisbursement, Amount: dec("1000000000")}); err != nil {
			return err
		}
		_, err := svc.PostWithin(ctx, tx, ledger.Posting{AccountID: acct.ID, Type: ledger.TransactionLoanPayment, Amount: dec("0.001")})
		return err
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	require.True(t, store.Account(acct.ID).Balance.IsZero())
}

func TestListTransactionsMostRecentFirst(t *testing.T) {
	svc, store, _ := newService(t)
	acct := store.AddAccount(ledger.Account{CustomerID: 1})
	ctx := context.Background()
	for i, amount := range []string{"1", "2", "3"} {
		at := fixedNow.Add(time.Duration(i) * time.Minute)
		svc.WithNow(func() time.Time { return at })
		_, err := svc.Deposit(ctx, ledger.PostingInput{AccountID: acct.ID, Amount: dec(amount)})
		require.NoError(t, err)
	}
	txns, err := svc.ListTransactions(ctx, ledger.TransactionFilter{AccountID: acct.ID})
	require.NoError(t, err)
	require.Len(t, txns, 3)
	require.True(t, txns[0].Amount.Equal(dec("3")))
	require.True(t, txns[2].Amount.Equal(dec("1")))

	_, err = svc.ListTransactions(ctx, ledger.TransactionFilter{AccountID: 404})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}
