package loanhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/loans"
	"github.com/branchledger/branchledger/internal/money"
	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// ErrorMappings maps loan sentinels onto problem responses.
var ErrorMappings = []httpx.ErrorMapping{
	{Target: loans.ErrInvalidLoanTerms, Status: http.StatusUnprocessableEntity, Title: "Invalid Loan Terms"},
	{Target: loans.ErrLoanNotFound, Status: http.StatusNotFound, Title: "Loan Not Found"},
	{Target: loans.ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid Transition"},
	{Target: loans.ErrDisbursementNotAllowed, Status: http.StatusConflict, Title: "Disbursement Not Allowed"},
	{Target: loans.ErrPaymentExceedsBalance, Status: http.StatusUnprocessableEntity, Title: "Payment Exceeds Balance"},
	{Target: loans.ErrPaymentBelowInterest, Status: http.StatusUnprocessableEntity, Title: "Payment Below Interest"},
}

// LoanService is the loan contract used by the handler.
type LoanService interface {
	Apply(ctx context.Context, in loans.ApplyInput) (loans.Loan, error)
	Approve(ctx context.Context, id, approverID int64) (loans.Loan, error)
	Reject(ctx context.Context, id, approverID int64, reason string) (loans.Loan, error)
	Disburse(ctx context.Context, in loans.DisburseInput) (loans.Loan, error)
	RecordPayment(ctx context.Context, in loans.PaymentInput) (loans.PaymentResult, error)
	Schedule(ctx context.Context, id int64) ([]loans.AmortizationEntry, error)
	Get(ctx context.Context, id int64) (loans.Loan, error)
	List(ctx context.Context, filter loans.ListFilter) ([]loans.Loan, error)
	Config() loans.Config
}

// Handler serves /loans.
type Handler struct {
	logger  *slog.Logger
	service LoanService
	errs    *httpx.Responder
	authz   authz.Middleware
	now     func() time.Time
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service LoanService, errs *httpx.Responder, mw authz.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, errs: errs, authz: mw, now: time.Now}
}

// MountRoutes registers loan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.authz.Require(authz.CapLoanApply)).Post("/", h.apply)
	r.With(h.authz.Require(authz.CapReportView)).Get("/", h.list)
	r.With(h.authz.Require(authz.CapLoanApply)).Get("/quote", h.quote)
	r.Route("/{id}", func(r chi.Router) {
		r.With(h.authz.Require(authz.CapReportView)).Get("/", h.get)
		r.With(h.authz.Require(authz.CapReportView)).Get("/schedule", h.schedule)
		r.With(h.authz.Require(authz.CapLoanApprove)).Post("/approve", h.approve)
		r.With(h.authz.Require(authz.CapLoanApprove)).Post("/reject", h.reject)
		r.With(h.authz.Require(authz.CapLoanDisburse)).Post("/disburse", h.disburse)
		r.With(h.authz.Require(authz.CapLedgerPost)).Post("/payments", h.pay)
	})
}

type applyRequest struct {
	CustomerID int64           `json:"customer_id" validate:"required,gt=0"`
	Principal  decimal.Decimal `json:"principal"`
	TermMonths int             `json:"term_months" validate:"required,gt=0"`
	Purpose    string          `json:"purpose" validate:"max=500"`
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	loan, err := h.service.Apply(r.Context(), loans.ApplyInput{
		CustomerID: req.CustomerID,
		Principal:  req.Principal,
		TermMonths: req.TermMonths,
		Purpose:    req.Purpose,
		ActorID:    authz.ActorID(r.Context()),
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loan)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.QueryInt(r, "customer_id", 0)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	status := loans.Status(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		h.errs.RespondError(w, r, httpx.ErrValidation)
		return
	}
	out, err := h.service.List(r.Context(), loans.ListFilter{CustomerID: int64(customerID), Status: status, Limit: limit, Offset: offset})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"loans": out})
}

type quoteResponse struct {
	MonthlyPayment decimal.Decimal           `json:"monthly_payment"`
	TotalInterest  decimal.Decimal           `json:"total_interest"`
	Schedule       []loans.AmortizationEntry `json:"schedule"`
}

// quote previews payment and schedule without persisting anything. The rate
// defaults to the configured product rate.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principal, err := money.Parse(q.Get("principal"))
	if err != nil || !principal.IsPositive() {
		h.errs.RespondError(w, r, loans.ErrInvalidLoanTerms)
		return
	}
	rate := h.service.Config().AnnualRate
	if raw := q.Get("rate"); raw != "" {
		if rate, err = money.Parse(raw); err != nil || rate.IsNegative() {
			h.errs.RespondError(w, r, loans.ErrInvalidLoanTerms)
			return
		}
	}
	term, err := httpx.QueryInt(r, "term", 0)
	if err != nil || term <= 0 || term > 600 {
		h.errs.RespondError(w, r, loans.ErrInvalidLoanTerms)
		return
	}
	quote := loans.Quote(principal, rate, term)
	schedule := loans.Schedule(quote, h.now().UTC())
	interest := decimal.Zero
	for _, e := range schedule {
		interest = interest.Add(e.Interest)
	}
	httpx.JSON(w, http.StatusOK, quoteResponse{MonthlyPayment: quote.MonthlyPayment, TotalInterest: interest, Schedule: schedule})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	loan, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	entries, err := h.service.Schedule(r.Context(), id)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"schedule": entries})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	loan, err := h.service.Approve(r.Context(), id, authz.ActorID(r.Context()))
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	loan, err := h.service.Reject(r.Context(), id, authz.ActorID(r.Context()), req.Reason)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

type disburseRequest struct {
	AccountID int64 `json:"account_id" validate:"required,gt=0"`
}

func (h *Handler) disburse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	var req disburseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	loan, err := h.service.Disburse(r.Context(), loans.DisburseInput{LoanID: id, AccountID: req.AccountID, ActorID: authz.ActorID(r.Context())})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loan)
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	res, err := h.service.RecordPayment(r.Context(), loans.PaymentInput{LoanID: id, Amount: req.Amount, ActorID: authz.ActorID(r.Context())})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}
