package reporthttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/history"
	"github.com/branchledger/branchledger/internal/ledger"
	ledgerhttp "github.com/branchledger/branchledger/internal/ledger/http"
	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/reports"
)

type stubReports struct {
	from, to time.Time
	txFilter reports.TransactionFilter
	err      error
}

func (s *stubReports) AccountStatement(ctx context.Context, accountID int64, from, to time.Time) (reports.Statement, error) {
	s.from, s.to = from, to
	if s.err != nil {
		return reports.Statement{}, s.err
	}
	if to.Before(from) {
		return reports.Statement{}, history.ErrInvalidRange
	}
	return reports.Statement{
		Account: ledger.Account{ID: accountID, Number: "1001000007"},
		From:    from,
		To:      to,
		Opening: decimal.NewFromInt(1500),
		Closing: decimal.NewFromInt(1500),
		Credits: decimal.Zero,
		Debits:  decimal.Zero,
	}, nil
}

func (s *stubReports) TransactionReport(ctx context.Context, filter reports.TransactionFilter) (reports.TransactionReport, error) {
	s.txFilter = filter
	return reports.TransactionReport{Count: 4}, s.err
}

func (s *stubReports) LoanReport(ctx context.Context, filter reports.LoanFilter) (reports.LoanReport, error) {
	return reports.LoanReport{Count: 2}, s.err
}

func (s *stubReports) PortfolioSummary(ctx context.Context) (reports.Portfolio, error) {
	return reports.Portfolio{Customers: 12}, s.err
}

func serve(svc ReportService, role authz.Role, path string) *httptest.ResponseRecorder {
	h := NewHandler(nil, svc, httpx.NewResponder(nil, ErrorMappings, ledgerhttp.ErrorMappings), authz.Middleware{Authorizer: authz.DefaultPolicy()})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(authz.WithActor(req.Context(), authz.Actor{ID: 3, Role: role})))
		})
	})
	r.Route("/reports", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatementJSONCoversWholeDays(t *testing.T) {
	svc := &stubReports{}
	rec := serve(svc, authz.RoleStaff, "/reports/statement?account_id=7&from=2026-03-01&to=2026-03-31")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"opening_balance":"1500"`)
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), svc.from)
	require.True(t, svc.to.After(time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)))

	require.Equal(t, http.StatusBadRequest, serve(svc, authz.RoleStaff, "/reports/statement?account_id=7&from=2026-03-01").Code)
	require.Equal(t, http.StatusBadRequest, serve(svc, authz.RoleStaff, "/reports/statement?from=2026-03-01&to=2026-03-31").Code)
	require.Equal(t, http.StatusUnprocessableEntity, serve(svc, authz.RoleStaff, "/reports/statement?account_id=7&from=2026-03-31&to=2026-03-01").Code)

	svc.err = ledger.ErrAccountNotFound
	require.Equal(t, http.StatusNotFound, serve(svc, authz.RoleStaff, "/reports/statement?account_id=7&from=2026-03-01&to=2026-03-31").Code)
	svc.err = reports.ErrStatementMismatch
	require.Equal(t, http.StatusInternalServerError, serve(svc, authz.RoleStaff, "/reports/statement?account_id=7&from=2026-03-01&to=2026-03-31").Code)
}

func TestStatementCSVNeedsExportCapability(t *testing.T) {
	path := "/reports/statement?account_id=7&from=2026-03-01&to=2026-03-31&format=csv"
	require.Equal(t, http.StatusForbidden, serve(&stubReports{}, authz.RoleStaff, path).Code)

	rec := serve(&stubReports{}, authz.RoleManager, path)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "statement-1001000007-20260301.csv")
	require.Contains(t, rec.Body.String(), `Opening Balance,"1,500.00"`)
}

func TestTransactionReportParsesFilter(t *testing.T) {
	svc := &stubReports{}
	rec := serve(svc, authz.RoleStaff, "/reports/transactions?from=2026-03-01&to=2026-03-02&type=deposit")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ledger.TransactionDeposit, svc.txFilter.Type)

	svc.err = reports.ErrInvalidFilter
	require.Equal(t, http.StatusBadRequest, serve(svc, authz.RoleStaff, "/reports/transactions?from=2026-03-01&to=2026-03-02&type=x").Code)
}

func TestPortfolioAndLoans(t *testing.T) {
	rec := serve(&stubReports{}, authz.RoleStaff, "/reports/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"customers":12`)

	rec = serve(&stubReports{}, authz.RoleStaff, "/reports/loans?status=disbursed")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusBadRequest, serve(&stubReports{}, authz.RoleStaff, "/reports/loans?from=yesterday").Code)
}

func TestReportsRequireActor(t *testing.T) {
	h := NewHandler(nil, &stubReports{}, httpx.NewResponder(nil, ErrorMappings), authz.Middleware{Authorizer: authz.DefaultPolicy()})
	r := chi.NewRouter()
	r.Route("/reports", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/portfolio", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
