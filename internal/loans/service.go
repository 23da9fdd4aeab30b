// Package loans runs the loan lifecycle from application to payoff and
// projects amortization schedules.
package loans

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/money"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/shared"
)

// ConstraintLoanNumber is the unique constraint on loan numbers.
const ConstraintLoanNumber = "loans_loan_number_key"

const maxUnitAttempts = 3

var tracer = otel.Tracer("github.com/branchledger/branchledger/internal/loans")

// Config bounds new applications.
type Config struct {
	MinPrincipal decimal.Decimal
	MaxPrincipal decimal.Decimal
	MinTerm      int
	MaxTerm      int
	AnnualRate   decimal.Decimal
}

// DefaultConfig returns the standard product: 10M to 1B over 6 to 60 months at 12%.
func DefaultConfig() Config {
	return Config{
		MinPrincipal: decimal.NewFromInt(10_000_000),
		MaxPrincipal: decimal.NewFromInt(1_000_000_000),
		MinTerm:      6,
		MaxTerm:      60,
		AnnualRate:   decimal.NewFromInt(12),
	}
}

// RepositoryPort abstracts loan persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLoan(ctx context.Context, id int64) (Loan, error)
	ListLoans(ctx context.Context, filter ListFilter) ([]Loan, error)
}

// TxRepository is the loan view of a unit of work. It embeds the ledger's so
// disbursements and repayments post in the same unit as the loan update.
type TxRepository interface {
	ledger.TxRepository
	GetLoanForUpdate(ctx context.Context, id int64) (Loan, error)
	InsertLoan(ctx context.Context, loan Loan) (Loan, error)
	UpdateLoan(ctx context.Context, loan Loan) error
	HasOutstandingLoan(ctx context.Context, customerID, excludeID int64) (bool, error)
}

// Poster applies ledger movements inside a foreign unit of work.
type Poster interface {
	PostWithin(ctx context.Context, tx ledger.TxRepository, p ledger.Posting) (ledger.Transaction, error)
	Notify(ctx context.Context)
}

// NumberGenerator issues loan numbers.
type NumberGenerator interface {
	NextLoanNumber(ctx context.Context) (string, error)
}

// AuditPort records loan events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates loan workflows.
type Service struct {
	repo   RepositoryPort
	ledger Poster
	ids    NumberGenerator
	audit  AuditPort
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// NewService constructs the loan service.
func NewService(repo RepositoryPort, poster Poster, ids NumberGenerator, audit AuditPort, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: poster, ids: ids, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Config returns the active product bounds.
func (s *Service) Config() Config {
	return s.cfg
}

// Apply registers a PENDING application at the configured rate.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (loan Loan, err error) {
	ctx, span := tracer.Start(ctx, "loans.Service.Apply", trace.WithAttributes(attribute.Int64("customer.id", in.CustomerID)))
	defer func() { end(span, err) }()

	if err := s.validateTerms(in.Principal, in.TermMonths); err != nil {
		return Loan{}, err
	}
	now := s.now().UTC()
	err = s.runUnit(ctx, ConstraintLoanNumber, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.CustomerExists(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrCustomerNotFound
		}
		number, err := s.ids.NextLoanNumber(ctx)
		if err != nil {
			return err
		}
		loan, err = tx.InsertLoan(ctx, Loan{
			CustomerID:     in.CustomerID,
			Number:         number,
			Principal:      in.Principal,
			AnnualRate:     s.cfg.AnnualRate,
			TermMonths:     in.TermMonths,
			MonthlyPayment: MonthlyPayment(in.Principal, s.cfg.AnnualRate, in.TermMonths),
			TotalPaid:      decimal.Zero,
			Remaining:      in.Principal,
			Status:         StatusPending,
			Purpose:        in.Purpose,
			AppliedAt:      now,
			CreatedBy:      in.ActorID,
			UpdatedAt:      now,
		})
		return err
	})
	if err != nil {
		return Loan{}, err
	}
	s.record(ctx, in.ActorID, "loan.apply", loan, map[string]any{
		"customer_id": loan.CustomerID,
		"principal":   money.Numeric(loan.Principal),
		"term_months": loan.TermMonths,
	})
	return loan, nil
}

// Approve moves a PENDING loan to APPROVED.
func (s *Service) Approve(ctx context.Context, id, approverID int64) (Loan, error) {
	return s.decide(ctx, id, approverID, StatusApproved, "")
}

// Reject moves a PENDING loan to REJECTED, keeping the reason.
func (s *Service) Reject(ctx context.Context, id, approverID int64, reason string) (Loan, error) {
	return s.decide(ctx, id, approverID, StatusRejected, reason)
}

func (s *Service) decide(ctx context.Context, id, approverID int64, next Status, reason string) (loan Loan, err error) {
	ctx, span := tracer.Start(ctx, "loans.Service.Decide", trace.WithAttributes(
		attribute.Int64("loan.id", id), attribute.String("loan.status", string(next))))
	defer func() { end(span, err) }()

	err = s.runUnit(ctx, "", func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLoanForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusPending || !current.Status.CanTransitionTo(next) {
			return ErrInvalidTransition
		}
		now := s.now().UTC()
		current.Status = next
		current.ApprovedAt = &now
		current.ApprovedBy = &approverID
		current.RejectionReason = reason
		current.UpdatedAt = now
		if err := tx.UpdateLoan(ctx, current); err != nil {
			return err
		}
		loan = current
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	action := "loan.approve"
	if next == StatusRejected {
		action = "loan.reject"
	}
	s.record(ctx, approverID, action, loan, map[string]any{"reason": reason})
	return loan, nil
}

// Disburse credits the principal to the customer's active checking account
// and starts the repayment clock. Both happen in one unit of work.
func (s *Service) Disburse(ctx context.Context, in DisburseInput) (loan Loan, err error) {
	ctx, span := tracer.Start(ctx, "loans.Service.Disburse", trace.WithAttributes(
		attribute.Int64("loan.id", in.LoanID), attribute.Int64("account.id", in.AccountID)))
	defer func() { end(span, err) }()

	var txn ledger.Transaction
	err = s.runUnit(ctx, "", func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLoanForUpdate(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if !current.Status.CanTransitionTo(StatusDisbursed) {
			return ErrInvalidTransition
		}
		account, err := tx.GetAccountForUpdate(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if account.CustomerID != current.CustomerID || account.Type != ledger.AccountTypeChecking {
			return fmt.Errorf("%w: account %s is not the customer's checking account", ErrDisbursementNotAllowed, account.Number)
		}
		if account.Status != ledger.AccountStatusActive {
			return ledger.ErrAccountNotActive
		}
		busy, err := tx.HasOutstandingLoan(ctx, current.CustomerID, current.ID)
		if err != nil {
			return err
		}
		if busy {
			return fmt.Errorf("%w: customer has an outstanding loan", ErrDisbursementNotAllowed)
		}
		txn, err = s.ledger.PostWithin(ctx, tx, ledger.Posting{
			AccountID:   account.ID,
			Type:        ledger.TransactionLoanDisbursement,
			Amount:      current.Principal,
			Description: "loan disbursement " + current.Number,
			ActorID:     in.ActorID,
		})
		if err != nil {
			return err
		}
		now := s.now().UTC()
		start := now
		finish := addMonths(start, current.TermMonths)
		current.Status = StatusDisbursed
		current.AccountID = &account.ID
		current.StartDate = &start
		current.EndDate = &finish
		current.UpdatedAt = now
		if err := tx.UpdateLoan(ctx, current); err != nil {
			return err
		}
		loan = current
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	s.ledger.Notify(ctx)
	s.record(ctx, in.ActorID, "loan.disburse", loan, map[string]any{
		"account_id": in.AccountID,
		"reference":  txn.ReferenceNumber,
		"principal":  money.Numeric(loan.Principal),
	})
	return loan, nil
}

// RecordPayment debits a repayment from the disbursement account. Interest on
// the remaining balance is settled first; the rest reduces principal.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (result PaymentResult, err error) {
	ctx, span := tracer.Start(ctx, "loans.Service.RecordPayment", trace.WithAttributes(attribute.Int64("loan.id", in.LoanID)))
	defer func() { end(span, err) }()

	if !in.Amount.IsPositive() || !money.HasValidScale(in.Amount) {
		return PaymentResult{}, ledger.ErrInvalidAmount
	}
	err = s.runUnit(ctx, "", func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetLoanForUpdate(ctx, in.LoanID)
		if err != nil {
			return err
		}
		if !current.Status.Outstanding() || current.AccountID == nil {
			return ErrInvalidTransition
		}
		interest := money.Round(current.Remaining.Mul(MonthlyRate(current.AnnualRate)))
		if in.Amount.LessThan(interest) {
			return ErrPaymentBelowInterest
		}
		if in.Amount.GreaterThan(current.Remaining.Add(interest)) {
			return ErrPaymentExceedsBalance
		}
		principal := decimal.Min(in.Amount.Sub(interest), current.Remaining)

		txn, err := s.ledger.PostWithin(ctx, tx, ledger.Posting{
			AccountID:   *current.AccountID,
			Type:        ledger.TransactionLoanPayment,
			Amount:      in.Amount,
			Description: "loan payment " + current.Number,
			ActorID:     in.ActorID,
		})
		if err != nil {
			return err
		}
		current.TotalPaid = current.TotalPaid.Add(in.Amount)
		current.Remaining = current.Remaining.Sub(principal)
		if current.Remaining.IsZero() {
			current.Status = StatusPaid
		}
		current.UpdatedAt = s.now().UTC()
		if err := tx.UpdateLoan(ctx, current); err != nil {
			return err
		}
		result = PaymentResult{
			Loan:          current,
			Interest:      interest,
			Principal:     principal,
			TransactionID: txn.ID,
			Reference:     txn.ReferenceNumber,
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.ledger.Notify(ctx)
	s.record(ctx, in.ActorID, "loan.payment", result.Loan, map[string]any{
		"amount":    money.Numeric(in.Amount),
		"interest":  money.Numeric(result.Interest),
		"principal": money.Numeric(result.Principal),
		"remaining": money.Numeric(result.Loan.Remaining),
	})
	return result, nil
}

// MarkOverdue flags DISBURSED loans whose repayments lag the instalments
// already due. It returns how many loans changed.
func (s *Service) MarkOverdue(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "loans.Service.MarkOverdue")
	defer span.End()

	candidates, err := s.repo.ListLoans(ctx, ListFilter{Status: StatusDisbursed})
	if err != nil {
		return 0, fmt.Errorf("loans: list disbursed: %w", err)
	}
	now := s.now().UTC()
	marked := 0
	for _, candidate := range candidates {
		if !lagging(candidate, now) {
			continue
		}
		var changed *Loan
		err := s.runUnit(ctx, "", func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetLoanForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if current.Status != StatusDisbursed || !lagging(current, now) {
				return nil
			}
			current.Status = StatusOverdue
			current.UpdatedAt = now
			if err := tx.UpdateLoan(ctx, current); err != nil {
				return err
			}
			changed = &current
			return nil
		})
		if err != nil {
			s.logger.Error("mark overdue failed", slog.Int64("loan_id", candidate.ID), slog.Any("error", err))
			continue
		}
		if changed != nil {
			marked++
			s.record(ctx, 0, "loan.overdue", *changed, nil)
		}
	}
	span.SetAttributes(attribute.Int("loans.marked", marked))
	return marked, nil
}

// Schedule projects the repayment plan of a stored loan.
func (s *Service) Schedule(ctx context.Context, id int64) ([]AmortizationEntry, error) {
	loan, err := s.repo.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return Schedule(loan, s.now().UTC()), nil
}

// Get loads a loan.
func (s *Service) Get(ctx context.Context, id int64) (Loan, error) {
	return s.repo.GetLoan(ctx, id)
}

// List returns loans matching filter, newest application first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Loan, error) {
	return s.repo.ListLoans(ctx, filter)
}

func (s *Service) validateTerms(principal decimal.Decimal, term int) error {
	if principal.LessThan(s.cfg.MinPrincipal) || principal.GreaterThan(s.cfg.MaxPrincipal) || !money.HasValidScale(principal) {
		return fmt.Errorf("%w: principal must be between %s and %s", ErrInvalidLoanTerms, money.Format(s.cfg.MinPrincipal), money.Format(s.cfg.MaxPrincipal))
	}
	if term < s.cfg.MinTerm || term > s.cfg.MaxTerm {
		return fmt.Errorf("%w: term must be between %d and %d months", ErrInvalidLoanTerms, s.cfg.MinTerm, s.cfg.MaxTerm)
	}
	return nil
}

// runUnit mirrors the ledger's unit handling: a loan number collision
// resubmits the whole unit, anything outside the domain is a persistence failure.
func (s *Service) runUnit(ctx context.Context, retryConstraint string, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 1; attempt <= maxUnitAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		reason := db.ResubmitReason(err, retryConstraint)
		if reason == "" || ctx.Err() != nil {
			break
		}
		s.logger.Warn("resubmitting loan unit", slog.String("reason", reason), slog.Int("attempt", attempt))
	}
	if err == nil || isDomainError(err) || ledger.IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ledger.ErrPersistenceFailure, err)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, loan Loan, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = string(loan.Status)
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "loan",
		EntityID: loan.Number,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func lagging(loan Loan, now time.Time) bool {
	return loan.TotalPaid.LessThan(DueBy(Schedule(loan, now), now))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
