package reports

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/loans"
)

var (
	// ErrStatementMismatch indicates the statement closing balance disagrees
	// with the reconstructed balance of the same window.
	ErrStatementMismatch = errors.New("reports: statement does not reconcile")
	// ErrInvalidFilter indicates an unusable report filter.
	ErrInvalidFilter = errors.New("reports: invalid filter")
)

// Statement is an account's activity over [From, To].
type Statement struct {
	Account      ledger.Account       `json:"account"`
	From         time.Time            `json:"from"`
	To           time.Time            `json:"to"`
	Opening      decimal.Decimal      `json:"opening_balance"`
	Credits      decimal.Decimal      `json:"total_credits"`
	Debits       decimal.Decimal      `json:"total_debits"`
	Closing      decimal.Decimal      `json:"closing_balance"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// TransactionFilter bounds a transaction report. Type is optional.
type TransactionFilter struct {
	From time.Time
	To   time.Time
	Type ledger.TransactionType
}

// TypeTotal aggregates one transaction type.
type TypeTotal struct {
	Type  ledger.TransactionType `json:"transaction_type"`
	Count int64                  `json:"count"`
	Total decimal.Decimal        `json:"total"`
}

// TransactionReport sums activity across all accounts. Transfers are
// counted once, through their debit side.
type TransactionReport struct {
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Count         int64           `json:"count"`
	Deposits      decimal.Decimal `json:"total_deposits"`
	Withdrawals   decimal.Decimal `json:"total_withdrawals"`
	Transfers     decimal.Decimal `json:"total_transfers"`
	Disbursements decimal.Decimal `json:"total_disbursements"`
	Payments      decimal.Decimal `json:"total_payments"`
	ByType        []TypeTotal     `json:"by_type"`
}

// LoanFilter bounds a loan report by application date and status.
type LoanFilter struct {
	From   *time.Time
	To     *time.Time
	Status loans.Status
}

// StatusTotal aggregates loans in one status.
type StatusTotal struct {
	Status    loans.Status    `json:"status"`
	Count     int64           `json:"count"`
	Principal decimal.Decimal `json:"principal"`
	Remaining decimal.Decimal `json:"remaining_balance"`
}

// LoanReport summarises the loan book.
type LoanReport struct {
	Count            int64                  `json:"count"`
	TotalPrincipal   decimal.Decimal        `json:"total_principal"`
	TotalOutstanding decimal.Decimal        `json:"total_outstanding"`
	ByStatus         map[loans.Status]int64 `json:"by_status"`
}

// AccountTypeTotal aggregates non-closed accounts of one type.
type AccountTypeTotal struct {
	Type    ledger.AccountType `json:"account_type"`
	Count   int64              `json:"count"`
	Balance decimal.Decimal    `json:"balance"`
}

// Portfolio is the branch dashboard.
type Portfolio struct {
	AsOf                 time.Time                    `json:"as_of"`
	TotalBalance         decimal.Decimal              `json:"total_balance"`
	PreviousMonthBalance decimal.Decimal              `json:"previous_month_balance"`
	Customers            int64                        `json:"customers"`
	OutstandingLoans     decimal.Decimal              `json:"outstanding_loans"`
	TransactionsToday    int64                        `json:"transactions_today"`
	PendingLoans         int64                        `json:"pending_loans"`
	AccountTypes         map[ledger.AccountType]int64 `json:"account_types"`
	LoanStatuses         map[loans.Status]int64       `json:"loan_statuses"`
	TopAccounts          []ledger.Account             `json:"top_accounts"`
}
