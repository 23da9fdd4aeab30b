// Package reports derives statements, activity totals and the branch
// dashboard from the ledger and the loan book. Reports are read-only.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/branchledger/branchledger/internal/history"
	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/loans"
)

// TopAccountsLimit caps the dashboard's largest-balance list.
const TopAccountsLimit = 5

var tracer = otel.Tracer("github.com/branchledger/branchledger/internal/reports")

// Repository runs the aggregate queries behind the reports.
type Repository interface {
	TransactionTotals(ctx context.Context, filter TransactionFilter) ([]TypeTotal, error)
	LoanTotals(ctx context.Context, filter LoanFilter) ([]StatusTotal, error)
	AccountTotals(ctx context.Context) ([]AccountTypeTotal, error)
	CustomerCount(ctx context.Context) (int64, error)
	// TransactionCount counts postings at or after since, transfers once.
	TransactionCount(ctx context.Context, since time.Time) (int64, error)
	// ExternalFlowSince sums every non-transfer movement at or after since.
	ExternalFlowSince(ctx context.Context, since time.Time) (ledger.Flow, error)
}

// AccountReader reads accounts and their logs.
type AccountReader interface {
	GetAccount(ctx context.Context, id int64) (ledger.Account, error)
	ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error)
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error)
}

// Service builds reports.
type Service struct {
	repo     Repository
	accounts AccountReader
	history  *history.Reconstructor
	cache    *Cache
	group    singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the report sources. cache may be nil.
func NewService(repo Repository, accounts AccountReader, hist *history.Reconstructor, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, accounts: accounts, history: hist, cache: cache, logger: logger, now: time.Now}
}

// WithNow overrides the clock used for the dashboard.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// AccountStatement lists an account's activity over [from, to] with its
// opening and closing balance. The closing balance is checked against the
// reconstructed balance of the window; a posting landing between the two
// reads triggers one rebuild before ErrStatementMismatch is returned.
func (s *Service) AccountStatement(ctx context.Context, accountID int64, from, to time.Time) (Statement, error) {
	ctx, span := tracer.Start(ctx, "reports.AccountStatement")
	defer span.End()

	if to.Before(from) {
		return Statement{}, history.ErrInvalidRange
	}
	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Statement{}, err
	}
	var mismatch error
	for attempt := 0; attempt < 2; attempt++ {
		st, err := s.statement(ctx, account, from, to)
		if err != nil {
			return Statement{}, err
		}
		window, err := s.history.ClosingBalance(ctx, accountID, from, to)
		if err != nil {
			return Statement{}, err
		}
		if window.Closing.Equal(st.Closing) && window.Opening.Equal(st.Opening) {
			return st, nil
		}
		mismatch = fmt.Errorf("%w: account %d closing %s, reconstructed %s", ErrStatementMismatch, accountID, st.Closing, window.Closing)
	}
	s.logger.Error("statement mismatch", slog.Int64("account_id", accountID), slog.Any("error", mismatch))
	return Statement{}, mismatch
}

func (s *Service) statement(ctx context.Context, account ledger.Account, from, to time.Time) (Statement, error) {
	opening, err := s.history.OpeningBalanceAt(ctx, account.ID, from)
	if err != nil {
		return Statement{}, err
	}
	txns, err := s.accounts.ListTransactions(ctx, ledger.TransactionFilter{AccountID: account.ID, From: &from, To: &to})
	if err != nil {
		return Statement{}, err
	}
	slices.Reverse(txns)
	flow := history.Summarize(txns)
	return Statement{
		Account:      account,
		From:         from,
		To:           to,
		Opening:      opening,
		Credits:      flow.Credits,
		Debits:       flow.Debits,
		Closing:      opening.Add(flow.Net()),
		Transactions: txns,
	}, nil
}

// TransactionReport totals postings across all accounts in [From, To].
func (s *Service) TransactionReport(ctx context.Context, filter TransactionFilter) (TransactionReport, error) {
	if filter.From.IsZero() || filter.To.IsZero() {
		return TransactionReport{}, fmt.Errorf("%w: from and to are required", ErrInvalidFilter)
	}
	if filter.To.Before(filter.From) {
		return TransactionReport{}, history.ErrInvalidRange
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return TransactionReport{}, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidFilter, filter.Type)
	}
	totals, err := s.repo.TransactionTotals(ctx, filter)
	if err != nil {
		return TransactionReport{}, err
	}
	report := TransactionReport{
		From:          filter.From,
		To:            filter.To,
		Deposits:      decimal.Zero,
		Withdrawals:   decimal.Zero,
		Transfers:     decimal.Zero,
		Disbursements: decimal.Zero,
		Payments:      decimal.Zero,
		ByType:        totals,
	}
	for _, t := range totals {
		report.Count += t.Count
		switch t.Type {
		case ledger.TransactionDeposit:
			report.Deposits = report.Deposits.Add(t.Total)
		case ledger.TransactionWithdraw:
			report.Withdrawals = report.Withdrawals.Add(t.Total)
		case ledger.TransactionTransfer:
			report.Transfers = report.Transfers.Add(t.Total)
		case ledger.TransactionLoanDisbursement:
			report.Disbursements = report.Disbursements.Add(t.Total)
		case ledger.TransactionLoanPayment:
			report.Payments = report.Payments.Add(t.Total)
		}
	}
	return report, nil
}

// LoanReport summarises loans applied for within the filter.
func (s *Service) LoanReport(ctx context.Context, filter LoanFilter) (LoanReport, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return LoanReport{}, fmt.Errorf("%w: unknown loan status %q", ErrInvalidFilter, filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return LoanReport{}, history.ErrInvalidRange
	}
	totals, err := s.repo.LoanTotals(ctx, filter)
	if err != nil {
		return LoanReport{}, err
	}
	return summarizeLoans(totals), nil
}

func summarizeLoans(totals []StatusTotal) LoanReport {
	report := LoanReport{
		TotalPrincipal:   decimal.Zero,
		TotalOutstanding: decimal.Zero,
		ByStatus:         make(map[loans.Status]int64, len(totals)),
	}
	for _, t := range totals {
		report.Count += t.Count
		report.TotalPrincipal = report.TotalPrincipal.Add(t.Principal)
		report.ByStatus[t.Status] += t.Count
		if t.Status.Outstanding() {
			report.TotalOutstanding = report.TotalOutstanding.Add(t.Remaining)
		}
	}
	return report
}

// PortfolioSummary returns the branch dashboard. Results are cached until
// the next ledger mutation, and concurrent callers share one computation.
func (s *Service) PortfolioSummary(ctx context.Context) (Portfolio, error) {
	ctx, span := tracer.Start(ctx, "reports.PortfolioSummary")
	defer span.End()

	now := s.now()
	day := now.Format(time.DateOnly)
	v, err, _ := s.group.Do("portfolio:"+day, func() (any, error) {
		var out Portfolio
		err := s.cache.FetchJSON(ctx, &out, func(ctx context.Context) (any, error) {
			return s.buildPortfolio(ctx, now)
		}, "reports", "portfolio", day)
		return out, err
	})
	if err != nil {
		return Portfolio{}, err
	}
	return v.(Portfolio), nil
}

func (s *Service) buildPortfolio(ctx context.Context, now time.Time) (Portfolio, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	var (
		accountTotals []AccountTypeTotal
		loanTotals    []StatusTotal
		customers     int64
		today         int64
		monthFlow     ledger.Flow
		top           []ledger.Account
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		accountTotals, err = s.repo.AccountTotals(gctx)
		return err
	})
	g.Go(func() (err error) {
		loanTotals, err = s.repo.LoanTotals(gctx, LoanFilter{})
		return err
	})
	g.Go(func() (err error) {
		customers, err = s.repo.CustomerCount(gctx)
		return err
	})
	g.Go(func() (err error) {
		today, err = s.repo.TransactionCount(gctx, dayStart)
		return err
	})
	g.Go(func() (err error) {
		monthFlow, err = s.repo.ExternalFlowSince(gctx, monthStart)
		return err
	})
	g.Go(func() (err error) {
		top, err = s.accounts.ListAccounts(gctx, ledger.AccountFilter{Status: ledger.AccountStatusActive, ByBalance: true, Limit: TopAccountsLimit})
		return err
	})
	if err := g.Wait(); err != nil {
		return Portfolio{}, err
	}

	out := Portfolio{
		AsOf:              now,
		TotalBalance:      decimal.Zero,
		Customers:         customers,
		TransactionsToday: today,
		AccountTypes:      make(map[ledger.AccountType]int64, len(accountTotals)),
		TopAccounts:       top,
	}
	for _, t := range accountTotals {
		out.TotalBalance = out.TotalBalance.Add(t.Balance)
		out.AccountTypes[t.Type] += t.Count
	}
	// Transfers move money between accounts and leave the total unchanged,
	// so only external flows are reversed.
	out.PreviousMonthBalance = out.TotalBalance.Sub(monthFlow.Net())

	loanSummary := summarizeLoans(loanTotals)
	out.OutstandingLoans = loanSummary.TotalOutstanding
	out.LoanStatuses = loanSummary.ByStatus
	out.PendingLoans = loanSummary.ByStatus[loans.StatusPending]
	return out, nil
}

// Warm recomputes the dashboard into the cache.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.PortfolioSummary(ctx)
	return err
}
