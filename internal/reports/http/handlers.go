package reporthttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/loans"
	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/reports"
)

// ErrorMappings maps report sentinels onto problem responses.
var ErrorMappings = []httpx.ErrorMapping{
	{Target: reports.ErrInvalidFilter, Status: http.StatusBadRequest, Title: "Invalid Filter"},
	{Target: reports.ErrStatementMismatch, Status: http.StatusInternalServerError, Title: "Statement Does Not Reconcile"},
}

// ReportService is the report contract used by the handler.
type ReportService interface {
	AccountStatement(ctx context.Context, accountID int64, from, to time.Time) (reports.Statement, error)
	TransactionReport(ctx context.Context, filter reports.TransactionFilter) (reports.TransactionReport, error)
	LoanReport(ctx context.Context, filter reports.LoanFilter) (reports.LoanReport, error)
	PortfolioSummary(ctx context.Context) (reports.Portfolio, error)
}

// Handler serves /reports.
type Handler struct {
	logger  *slog.Logger
	service ReportService
	errs    *httpx.Responder
	authz   authz.Middleware
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service ReportService, errs *httpx.Responder, mw authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, errs: errs, authz: mw}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.CapReportView))
	r.Get("/portfolio", h.portfolio)
	r.Get("/transactions", h.transactions)
	r.Get("/loans", h.loans)
	r.Get("/statement", h.statement)
}

func (h *Handler) portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.PortfolioSummary(r.Context())
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	from, to, err := requiredRange(r)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	report, err := h.service.TransactionReport(r.Context(), reports.TransactionFilter{
		From: from,
		To:   to,
		Type: ledger.TransactionType(strings.ToUpper(r.URL.Query().Get("type"))),
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) loans(w http.ResponseWriter, r *http.Request) {
	from, err := httpx.QueryTime(r, "from", false)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	to, err := httpx.QueryTime(r, "to", true)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	report, err := h.service.LoanReport(r.Context(), reports.LoanFilter{
		From:   from,
		To:     to,
		Status: loans.Status(strings.ToUpper(r.URL.Query().Get("status"))),
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// statement renders JSON, or CSV when format=csv. CSV export needs the
// export capability on top of report access.
func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.QueryInt(r, "account_id", 0)
	if err != nil || id == 0 {
		h.errs.RespondError(w, r, fmt.Errorf("%w: account_id is required", httpx.ErrValidation))
		return
	}
	csv := strings.EqualFold(r.URL.Query().Get("format"), "csv")
	if csv {
		actor, _ := authz.ActorFrom(r.Context())
		if !h.authz.Authorizer.Can(actor.Role, authz.CapReportExport) {
			h.errs.RespondError(w, r, httpx.ErrForbidden)
			return
		}
	}
	from, to, err := requiredRange(r)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	st, err := h.service.AccountStatement(r.Context(), int64(id), from, to)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	if !csv {
		httpx.JSON(w, http.StatusOK, st)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=statement-%s-%s.csv", st.Account.Number, from.Format("20060102")))
	if err := reports.StatementCSV(w, st); err != nil {
		h.logger.Error("write statement csv", slog.Int("account_id", id), slog.Any("error", err))
	}
}

func requiredRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := httpx.QueryTime(r, "from", false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := httpx.QueryTime(r, "to", true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from == nil || to == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from and to are required", httpx.ErrValidation)
	}
	return *from, *to, nil
}
