package loans

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the loan lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusDisbursed Status = "DISBURSED"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected},
	StatusApproved:  {StatusDisbursed},
	StatusDisbursed: {StatusPaid, StatusOverdue},
	StatusOverdue:   {StatusPaid},
}

// CanTransitionTo reports whether a loan in s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDisbursed, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Outstanding reports whether the loan still owes money.
func (s Status) Outstanding() bool {
	return s == StatusDisbursed || s == StatusOverdue
}

// Loan is a customer loan and its repayment position.
type Loan struct {
	ID              int64           `json:"id"`
	CustomerID      int64           `json:"customer_id"`
	AccountID       *int64          `json:"account_id,omitempty"`
	Number          string          `json:"loan_number"`
	Principal       decimal.Decimal `json:"principal"`
	AnnualRate      decimal.Decimal `json:"annual_rate"`
	TermMonths      int             `json:"term_months"`
	MonthlyPayment  decimal.Decimal `json:"monthly_payment"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	Remaining       decimal.Decimal `json:"remaining_balance"`
	Status          Status          `json:"status"`
	Purpose         string          `json:"purpose"`
	AppliedAt       time.Time       `json:"applied_at"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy      *int64          `json:"approved_by,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	StartDate       *time.Time      `json:"start_date,omitempty"`
	EndDate         *time.Time      `json:"end_date,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AmortizationEntry is one projected repayment period. It is derived from the
// loan on demand and never stored.
type AmortizationEntry struct {
	PaymentNumber int             `json:"payment_number"`
	DueDate       time.Time       `json:"due_date"`
	Principal     decimal.Decimal `json:"principal"`
	Interest      decimal.Decimal `json:"interest"`
	Total         decimal.Decimal `json:"total"`
	Remaining     decimal.Decimal `json:"remaining_balance"`
}

// ApplyInput describes a loan application.
type ApplyInput struct {
	CustomerID int64
	Principal  decimal.Decimal
	TermMonths int
	Purpose    string
	ActorID    int64
}

// DisburseInput names the account receiving the principal.
type DisburseInput struct {
	LoanID    int64
	AccountID int64
	ActorID   int64
}

// PaymentInput describes a repayment debited from the disbursement account.
type PaymentInput struct {
	LoanID  int64
	Amount  decimal.Decimal
	ActorID int64
}

// PaymentResult splits a repayment into its interest and principal parts.
type PaymentResult struct {
	Loan          Loan            `json:"loan"`
	Interest      decimal.Decimal `json:"interest"`
	Principal     decimal.Decimal `json:"principal"`
	TransactionID int64           `json:"transaction_id"`
	Reference     string          `json:"reference_number"`
}

// ListFilter narrows loan listings. Bounds apply to the application date and
// are inclusive.
type ListFilter struct {
	CustomerID int64
	Status     Status
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
