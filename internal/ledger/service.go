package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/branchledger/branchledger/internal/money"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/shared"
)

// DefaultMaxTransactionAmount is the ceiling applied to a single posting.
var DefaultMaxTransactionAmount = decimal.NewFromInt(500_000_000)

const (
	// ConstraintReferenceNumber is the unique constraint on transaction reference numbers.
	ConstraintReferenceNumber = "transactions_reference_number_key"
	// ConstraintAccountNumber is the unique constraint on account numbers.
	ConstraintAccountNumber = "accounts_account_number_key"

	maxUnitAttempts = 3
)

var tracer = otel.Tracer("github.com/branchledger/branchledger/internal/ledger")

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

// IDGenerator issues account and reference numbers.
type IDGenerator interface {
	NextAccountNumber(ctx context.Context) (string, error)
	NextReferenceNumber() string
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator is notified after every committed mutation.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service applies deposits, withdrawals and transfers, and manages the
// account lifecycle. Every mutation runs as exactly one unit of work.
type Service struct {
	repo      RepositoryPort
	ids       IDGenerator
	audit     AuditPort
	invalid   Invalidator
	metrics   *Metrics
	logger    *slog.Logger
	maxAmount decimal.Decimal
	now       func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, ids IDGenerator, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		ids:       ids,
		audit:     audit,
		logger:    logger,
		maxAmount: DefaultMaxTransactionAmount,
		now:       time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMaxAmount overrides the per-posting ceiling.
func (s *Service) WithMaxAmount(limit decimal.Decimal) {
	if limit.IsPositive() {
		s.maxAmount = limit
	}
}

// WithInvalidator registers a hook run after each committed mutation.
func (s *Service) WithInvalidator(inv Invalidator) {
	s.invalid = inv
}

// WithMetrics attaches posting counters.
func (s *Service) WithMetrics(m *Metrics) {
	s.metrics = m
}

// MaxAmount returns the active per-posting ceiling.
func (s *Service) MaxAmount() decimal.Decimal {
	return s.maxAmount
}

// Deposit credits an active account.
func (s *Service) Deposit(ctx context.Context, in PostingInput) (Transaction, error) {
	return s.postSingle(ctx, TransactionDeposit, in)
}

// Withdraw debits an active account holding at least the requested amount.
func (s *Service) Withdraw(ctx context.Context, in PostingInput) (Transaction, error) {
	return s.postSingle(ctx, TransactionWithdraw, in)
}

func (s *Service) postSingle(ctx context.Context, typ TransactionType, in PostingInput) (txn Transaction, err error) {
	action := "ledger." + lower(typ)
	ctx, span := tracer.Start(ctx, "ledger.Service."+string(typ),
		trace.WithAttributes(attribute.Int64("account.id", in.AccountID)))
	start := s.now()
	defer func() { s.finish(span, typ, start, err) }()

	if err := s.ValidateAmount(in.Amount); err != nil {
		return Transaction{}, err
	}
	err = s.runUnit(ctx, ConstraintReferenceNumber, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, in.IdempotencyKey, action); err != nil {
				return err
			}
		}
		posted, err := s.apply(ctx, tx, Posting{
			AccountID:   in.AccountID,
			Type:        typ,
			Amount:      in.Amount,
			Description: in.Description,
			ActorID:     in.ActorID,
		})
		if err != nil {
			return err
		}
		txn = posted
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.afterCommit(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   action,
		Entity:   "transaction",
		EntityID: txn.ReferenceNumber,
		Meta: map[string]any{
			"account_id":    txn.AccountID,
			"amount":        money.Numeric(txn.Amount),
			"balance_after": money.Numeric(txn.BalanceAfter),
		},
	})
	return txn, nil
}

// Transfer moves amount from source to target. Both balance updates and both
// log rows commit together or not at all.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (result TransferResult, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Service.Transfer", trace.WithAttributes(
		attribute.Int64("source.id", in.SourceID),
		attribute.Int64("target.id", in.TargetID),
	))
	start := s.now()
	defer func() { s.finish(span, TransactionTransfer, start, err) }()

	if err := s.ValidateAmount(in.Amount); err != nil {
		return TransferResult{}, err
	}
	if in.SourceID == in.TargetID {
		return TransferResult{}, ErrSameAccountTransfer
	}
	err = s.runUnit(ctx, ConstraintReferenceNumber, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, in.IdempotencyKey, "ledger.transfer"); err != nil {
				return err
			}
		}
		source, target, err := lockPair(ctx, tx, in.SourceID, in.TargetID)
		if err != nil {
			return err
		}
		if source.Status != AccountStatusActive || target.Status != AccountStatusActive {
			return ErrAccountNotActive
		}
		if source.Balance.LessThan(in.Amount) {
			return ErrInsufficientBalance
		}
		source.Balance = source.Balance.Sub(in.Amount)
		target.Balance = target.Balance.Add(in.Amount)
		now := s.now().UTC()
		source.UpdatedAt, target.UpdatedAt = now, now

		if err := tx.UpdateAccountBalanceAndStatus(ctx, source); err != nil {
			return err
		}
		if err := tx.UpdateAccountBalanceAndStatus(ctx, target); err != nil {
			return err
		}
		correlation := uuid.New()
		debit, err := tx.AppendTransaction(ctx, Transaction{
			AccountID:       source.ID,
			Type:            TransactionTransfer,
			Direction:       DirectionDebit,
			Amount:          in.Amount,
			CounterpartyID:  &target.ID,
			BalanceAfter:    source.Balance,
			Description:     describe("transfer to "+target.Number, in.Description),
			ReferenceNumber: s.ids.NextReferenceNumber(),
			CorrelationID:   correlation,
			ActorID:         in.ActorID,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}
		credit, err := tx.AppendTransaction(ctx, Transaction{
			AccountID:       target.ID,
			Type:            TransactionTransfer,
			Direction:       DirectionCredit,
			Amount:          in.Amount,
			CounterpartyID:  &source.ID,
			BalanceAfter:    target.Balance,
			Description:     describe("received from "+source.Number, in.Description),
			ReferenceNumber: s.distinctReference(debit.ReferenceNumber),
			CorrelationID:   correlation,
			ActorID:         in.ActorID,
			CreatedAt:       now,
		})
		if err != nil {
			return err
		}
		result = TransferResult{Debit: debit, Credit: credit}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.afterCommit(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "ledger.transfer",
		Entity:   "transaction",
		EntityID: result.Debit.CorrelationID.String(),
		Meta: map[string]any{
			"source_id":        in.SourceID,
			"target_id":        in.TargetID,
			"amount":           money.Numeric(in.Amount),
			"debit_reference":  result.Debit.ReferenceNumber,
			"credit_reference": result.Credit.ReferenceNumber,
		},
	})
	return result, nil
}

// PostWithin applies a single-account posting inside a unit of work opened by
// another service, so that the posting commits together with that service's
// own writes. Errors are returned unclassified; the owner of the unit decides.
// The teller ceiling does not apply here: the owning service bounds its own
// amounts (loan principals go up to 1B).
func (s *Service) PostWithin(ctx context.Context, tx TxRepository, p Posting) (Transaction, error) {
	if !p.Amount.IsPositive() || !money.HasValidScale(p.Amount) {
		return Transaction{}, ErrInvalidAmount
	}
	txn, err := s.apply(ctx, tx, p)
	if err != nil {
		return Transaction{}, err
	}
	if s.metrics != nil {
		s.metrics.observe(p.Type, nil, 0)
	}
	return txn, nil
}

// Notify runs post-commit hooks for a unit of work owned by another service.
func (s *Service) Notify(ctx context.Context) {
	s.bump(ctx)
}

// ValidateAmount checks 0 < amount <= ceiling with at most two fractional digits.
func (s *Service) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(s.maxAmount) || !money.HasValidScale(amount) {
		return ErrInvalidAmount
	}
	return nil
}

// GetAccount loads a single account.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAccounts lists accounts matching filter.
func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	return s.repo.ListAccounts(ctx, filter)
}

// ListTransactions returns an account's log, most recent first.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if _, err := s.repo.GetAccount(ctx, filter.AccountID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) apply(ctx context.Context, tx TxRepository, p Posting) (Transaction, error) {
	direction, ok := DirectionOf(p.Type)
	if !ok {
		return Transaction{}, ErrUnsupportedPosting
	}
	account, err := tx.GetAccountForUpdate(ctx, p.AccountID)
	if err != nil {
		return Transaction{}, err
	}
	if account.Status != AccountStatusActive {
		return Transaction{}, ErrAccountNotActive
	}
	if direction == DirectionDebit {
		if account.Balance.LessThan(p.Amount) {
			return Transaction{}, ErrInsufficientBalance
		}
		account.Balance = account.Balance.Sub(p.Amount)
	} else {
		account.Balance = account.Balance.Add(p.Amount)
	}
	now := s.now().UTC()
	account.UpdatedAt = now
	if err := tx.UpdateAccountBalanceAndStatus(ctx, account); err != nil {
		return Transaction{}, err
	}
	return tx.AppendTransaction(ctx, Transaction{
		AccountID:       account.ID,
		Type:            p.Type,
		Direction:       direction,
		Amount:          p.Amount,
		BalanceAfter:    account.Balance,
		Description:     p.Description,
		ReferenceNumber: s.ids.NextReferenceNumber(),
		CorrelationID:   uuid.New(),
		ActorID:         p.ActorID,
		CreatedAt:       now,
	})
}

// runUnit executes fn as one unit of work. The whole unit is rolled back and
// resubmitted when a concurrent unit on the same rows forced a serialization
// failure, or when a unique violation on retryConstraint shows a generated
// number collided.
func (s *Service) runUnit(ctx context.Context, retryConstraint string, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 1; attempt <= maxUnitAttempts; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		reason := db.ResubmitReason(err, retryConstraint)
		if reason == "" || ctx.Err() != nil {
			break
		}
		s.logger.Warn("resubmitting unit", slog.String("reason", reason), slog.Int("attempt", attempt))
	}
	return classify(err)
}

func (s *Service) distinctReference(taken string) string {
	ref := s.ids.NextReferenceNumber()
	for i := 0; ref == taken && i < 10; i++ {
		ref = s.ids.NextReferenceNumber()
	}
	return ref
}

func (s *Service) afterCommit(ctx context.Context, entry shared.AuditLog) {
	if s.audit != nil {
		entry.At = s.now()
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", entry.Action), slog.Any("error", err))
		}
	}
	s.bump(ctx)
}

func (s *Service) bump(ctx context.Context) {
	if s.invalid == nil {
		return
	}
	if err := s.invalid.Bump(ctx); err != nil {
		s.logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) finish(span trace.Span, typ TransactionType, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrPersistenceFailure) {
			s.logger.Error("ledger unit failed", slog.String("type", string(typ)), slog.Any("error", err))
		}
	}
	span.End()
	if s.metrics != nil {
		s.metrics.observe(typ, err, s.now().Sub(start))
	}
}

// lockPair locks both accounts in ascending id order so concurrent opposite
// transfers cannot deadlock.
func lockPair(ctx context.Context, tx TxRepository, sourceID, targetID int64) (Account, Account, error) {
	firstID, secondID := sourceID, targetID
	if secondID < firstID {
		firstID, secondID = secondID, firstID
	}
	first, err := tx.GetAccountForUpdate(ctx, firstID)
	if err != nil {
		return Account{}, Account{}, err
	}
	second, err := tx.GetAccountForUpdate(ctx, secondID)
	if err != nil {
		return Account{}, Account{}, err
	}
	if first.ID == sourceID {
		return first, second, nil
	}
	return second, first, nil
}

func describe(prefix, desc string) string {
	if desc == "" {
		return prefix
	}
	return prefix + ": " + desc
}

func lower(t TransactionType) string {
	switch t {
	case TransactionDeposit:
		return "deposit"
	case TransactionWithdraw:
		return "withdraw"
	case TransactionTransfer:
		return "transfer"
	}
	return string(t)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
