package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates the deposit products offered by a branch.
type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	return t == AccountTypeChecking || t == AccountTypeSavings
}

// AccountStatus enumerates the lifecycle of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// TransactionType enumerates ledger movements.
type TransactionType string

const (
	TransactionDeposit          TransactionType = "DEPOSIT"
	TransactionWithdraw         TransactionType = "WITHDRAW"
	TransactionTransfer         TransactionType = "TRANSFER"
	TransactionLoanDisbursement TransactionType = "LOAN_DISBURSEMENT"
	TransactionLoanPayment      TransactionType = "LOAN_PAYMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDeposit, TransactionWithdraw, TransactionTransfer, TransactionLoanDisbursement, TransactionLoanPayment:
		return true
	}
	return false
}

// Direction is the side of the owning account a transaction hit.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// DirectionOf returns the fixed side of single-account transaction types.
// TRANSFER rows carry their direction explicitly and report false here.
func DirectionOf(t TransactionType) (Direction, bool) {
	switch t {
	case TransactionDeposit, TransactionLoanDisbursement:
		return DirectionCredit, true
	case TransactionWithdraw, TransactionLoanPayment:
		return DirectionDebit, true
	}
	return "", false
}

// Account is a customer deposit account. Balance is the only persisted balance;
// history is derived from the transaction log.
type Account struct {
	ID           int64           `json:"id"`
	CustomerID   int64           `json:"customer_id"`
	Number       string          `json:"account_number"`
	Type         AccountType     `json:"account_type"`
	Balance      decimal.Decimal `json:"balance"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	TermMonths   int             `json:"term_months"`
	Status       AccountStatus   `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

// Transaction is one immutable row of the ledger log.
type Transaction struct {
	ID              int64           `json:"id"`
	AccountID       int64           `json:"account_id"`
	Type            TransactionType `json:"transaction_type"`
	Direction       Direction       `json:"direction"`
	Amount          decimal.Decimal `json:"amount"`
	CounterpartyID  *int64          `json:"counterparty_account_id,omitempty"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Description     string          `json:"description"`
	ReferenceNumber string          `json:"reference_number"`
	CorrelationID   uuid.UUID       `json:"correlation_id"`
	ActorID         int64           `json:"actor_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SignedAmount is the change this row applied to its account's balance.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Flow sums the credits and debits of a window.
type Flow struct {
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
}

// Net returns credits minus debits.
func (f Flow) Net() decimal.Decimal {
	return f.Credits.Sub(f.Debits)
}

// BalanceSnapshot pairs the current balance with the flow recorded since an instant,
// both read from the same snapshot.
type BalanceSnapshot struct {
	Balance decimal.Decimal
	Since   Flow
}

// PostingInput describes a deposit or withdrawal request.
type PostingInput struct {
	AccountID      int64
	Amount         decimal.Decimal
	Description    string
	ActorID        int64
	IdempotencyKey string
}

// TransferInput describes a transfer request.
type TransferInput struct {
	SourceID       int64
	TargetID       int64
	Amount         decimal.Decimal
	Description    string
	ActorID        int64
	IdempotencyKey string
}

// TransferResult holds both sides of a transfer.
type TransferResult struct {
	Debit  Transaction `json:"debit"`
	Credit Transaction `json:"credit"`
}

// Posting is a single-account movement applied inside an existing unit of work.
type Posting struct {
	AccountID   int64
	Type        TransactionType
	Amount      decimal.Decimal
	Description string
	ActorID     int64
}

// OpenAccountInput describes a new account request.
type OpenAccountInput struct {
	CustomerID int64
	Type       AccountType
	TermMonths int
	ActorID    int64
}

// AccountFilter narrows account listings. Listings are ordered by account
// number unless ByBalance asks for the largest balances first.
type AccountFilter struct {
	CustomerID int64
	Type       AccountType
	Status     AccountStatus
	ByBalance  bool
	Limit      int
	Offset     int
}

// TransactionFilter narrows transaction listings. Bounds are inclusive.
type TransactionFilter struct {
	AccountID int64
	From      *time.Time
	To        *time.Time
	Limit     int
}
