package loanhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/loans"
	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// stubService records calls and returns canned results.
type stubService struct {
	applied  loans.ApplyInput
	approved int64
	err      error
}

func (s *stubService) Apply(ctx context.Context, in loans.ApplyInput) (loans.Loan, error) {
	s.applied = in
	if s.err != nil {
		return loans.Loan{}, s.err
	}
	return loans.Loan{ID: 1, CustomerID: in.CustomerID, Principal: in.Principal, Status: loans.StatusPending}, nil
}

func (s *stubService) Approve(ctx context.Context, id, approverID int64) (loans.Loan, error) {
	s.approved = approverID
	return loans.Loan{ID: id, Status: loans.StatusApproved}, s.err
}

func (s *stubService) Reject(ctx context.Context, id, approverID int64, reason string) (loans.Loan, error) {
	return loans.Loan{ID: id, Status: loans.StatusRejected, RejectionReason: reason}, s.err
}

func (s *stubService) Disburse(ctx context.Context, in loans.DisburseInput) (loans.Loan, error) {
	return loans.Loan{}, s.err
}

func (s *stubService) RecordPayment(ctx context.Context, in loans.PaymentInput) (loans.PaymentResult, error) {
	return loans.PaymentResult{}, s.err
}

func (s *stubService) Schedule(ctx context.Context, id int64) ([]loans.AmortizationEntry, error) {
	return nil, s.err
}

func (s *stubService) Get(ctx context.Context, id int64) (loans.Loan, error) {
	return loans.Loan{}, loans.ErrLoanNotFound
}

func (s *stubService) List(ctx context.Context, filter loans.ListFilter) ([]loans.Loan, error) {
	return nil, s.err
}

func (s *stubService) Config() loans.Config { return loans.DefaultConfig() }

func router(svc LoanService, role authz.Role) http.Handler {
	h := NewHandler(nil, svc, httpx.NewResponder(nil, ErrorMappings), authz.Middleware{Authorizer: authz.DefaultPolicy()})
	h.now = func() time.Time { return time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), authz.Actor{ID: 21, Role: role})))
		})
	})
	r.Route("/loans", h.MountRoutes)
	return r
}

func call(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestApplyDecodesDecimalPrincipal(t *testing.T) {
	svc := &stubService{}
	rec := call(router(svc, authz.RoleStaff), http.MethodPost, "/loans", `{"customer_id":3,"principal":"120000000.00","term_months":12}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, svc.applied.Principal.Equal(decimal.NewFromInt(120_000_000)))
	require.Equal(t, int64(21), svc.applied.ActorID)

	svc.err = loans.ErrInvalidLoanTerms
	rec = call(router(svc, authz.RoleStaff), http.MethodPost, "/loans", `{"customer_id":3,"principal":"5","term_months":12}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestApproveNeedsManager(t *testing.T) {
	svc := &stubService{}
	require.Equal(t, http.StatusForbidden, call(router(svc, authz.RoleStaff), http.MethodPost, "/loans/4/approve", "").Code)
	rec := call(router(svc, authz.RoleManager), http.MethodPost, "/loans/4/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(21), svc.approved)

	svc.err = loans.ErrInvalidTransition
	require.Equal(t, http.StatusConflict, call(router(svc, authz.RoleManager), http.MethodPost, "/loans/4/approve", "").Code)
}

func TestRejectRequiresReason(t *testing.T) {
	svc := &stubService{}
	require.Equal(t, http.StatusBadRequest, call(router(svc, authz.RoleManager), http.MethodPost, "/loans/4/reject", `{}`).Code)
	rec := call(router(svc, authz.RoleManager), http.MethodPost, "/loans/4/reject", `{"reason":"income"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"rejection_reason":"income"`)
}

func TestQuote(t *testing.T) {
	rec := call(router(&stubService{}, authz.RoleStaff), http.MethodGet, "/loans/quote?principal=120000000&term=12", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q quoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.True(t, q.MonthlyPayment.Equal(decimal.RequireFromString("10661854.64")))
	require.True(t, q.TotalInterest.Equal(decimal.RequireFromString("7942255.70")))
	require.Len(t, q.Schedule, 12)
	require.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), q.Schedule[0].DueDate)

	rec = call(router(&stubService{}, authz.RoleStaff), http.MethodGet, "/loans/quote?principal=1000000&rate=0&term=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	require.True(t, q.MonthlyPayment.Equal(decimal.NewFromInt(100000)))

	for _, bad := range []string{"principal=abc&term=12", "principal=100&term=0", "principal=100&term=12&rate=-1"} {
		require.Equal(t, http.StatusUnprocessableEntity, call(router(&stubService{}, authz.RoleStaff), http.MethodGet, "/loans/quote?"+bad, "").Code, bad)
	}
}

func TestGetMissingLoan(t *testing.T) {
	require.Equal(t, http.StatusNotFound, call(router(&stubService{}, authz.RoleStaff), http.MethodGet, "/loans/9", "").Code)
}
