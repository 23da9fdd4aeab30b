package ledgerhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/history"
	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// IdempotencyHeader carries the client's replay-protection key.
const IdempotencyHeader = "Idempotency-Key"

// ErrorMappings maps ledger sentinels onto problem responses.
var ErrorMappings = []httpx.ErrorMapping{
	{Target: ledger.ErrInvalidAmount, Status: http.StatusUnprocessableEntity, Title: "Invalid Amount"},
	{Target: ledger.ErrAccountNotFound, Status: http.StatusNotFound, Title: "Account Not Found"},
	{Target: ledger.ErrAccountNotActive, Status: http.StatusConflict, Title: "Account Not Active"},
	{Target: ledger.ErrInsufficientBalance, Status: http.StatusConflict, Title: "Insufficient Balance"},
	{Target: ledger.ErrSameAccountTransfer, Status: http.StatusUnprocessableEntity, Title: "Same Account Transfer"},
	{Target: ledger.ErrAccountTypeExists, Status: http.StatusConflict, Title: "Account Type Exists"},
	{Target: ledger.ErrInvalidAccountType, Status: http.StatusUnprocessableEntity, Title: "Invalid Account Type"},
	{Target: ledger.ErrInvalidAccountState, Status: http.StatusConflict, Title: "Invalid Account State"},
	{Target: ledger.ErrNonZeroBalance, Status: http.StatusConflict, Title: "Non Zero Balance"},
	{Target: ledger.ErrCustomerNotFound, Status: http.StatusNotFound, Title: "Customer Not Found"},
	{Target: ledger.ErrDuplicateRequest, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Target: ledger.ErrUnsupportedPosting, Status: http.StatusUnprocessableEntity, Title: "Unsupported Posting"},
	{Target: history.ErrInvalidRange, Status: http.StatusUnprocessableEntity, Title: "Invalid Range"},
	{Target: ledger.ErrPersistenceFailure, Status: http.StatusServiceUnavailable, Title: "Persistence Failure"},
}

// LedgerService is the ledger contract used by the handler.
type LedgerService interface {
	Deposit(ctx context.Context, in ledger.PostingInput) (ledger.Transaction, error)
	Withdraw(ctx context.Context, in ledger.PostingInput) (ledger.Transaction, error)
	Transfer(ctx context.Context, in ledger.TransferInput) (ledger.TransferResult, error)
	OpenAccount(ctx context.Context, in ledger.OpenAccountInput) (ledger.Account, error)
	Freeze(ctx context.Context, id, actorID int64) (ledger.Account, error)
	Unfreeze(ctx context.Context, id, actorID int64) (ledger.Account, error)
	Close(ctx context.Context, id, actorID int64) (ledger.Account, error)
	GetAccount(ctx context.Context, id int64) (ledger.Account, error)
	ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error)
	ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error)
}

// BalanceHistory answers point-in-time balance questions.
type BalanceHistory interface {
	OpeningBalanceAt(ctx context.Context, accountID int64, at time.Time) (decimal.Decimal, error)
}

// Handler serves account and posting endpoints.
type Handler struct {
	logger  *slog.Logger
	ledger  LedgerService
	history BalanceHistory
	errs    *httpx.Responder
	authz   authz.Middleware
	limit   func(http.Handler) http.Handler
	now     func() time.Time
}

// NewHandler constructs the handler. limit wraps posting routes; nil disables it.
func NewHandler(logger *slog.Logger, svc LedgerService, hist BalanceHistory, errs *httpx.Responder, mw authz.Middleware, limit func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{logger: logger, ledger: svc, history: hist, errs: errs, authz: mw, limit: limit, now: time.Now}
}

// MountAccountRoutes registers /accounts.
func (h *Handler) MountAccountRoutes(r chi.Router) {
	r.With(h.authz.Require(authz.CapAccountOpen)).Post("/", h.openAccount)
	r.With(h.authz.Require(authz.CapReportView)).Get("/", h.listAccounts)
	r.Route("/{id}", func(r chi.Router) {
		r.With(h.authz.Require(authz.CapReportView)).Get("/", h.getAccount)
		r.With(h.authz.Require(authz.CapReportView)).Get("/transactions", h.listTransactions)
		r.With(h.authz.Require(authz.CapReportView)).Get("/balance", h.balanceAt)
		r.With(h.authz.Require(authz.CapAccountFreeze)).Post("/freeze", h.lifecycle(h.ledger.Freeze))
		r.With(h.authz.Require(authz.CapAccountUnfreeze)).Post("/unfreeze", h.lifecycle(h.ledger.Unfreeze))
		r.With(h.authz.Require(authz.CapAccountClose)).Post("/close", h.lifecycle(h.ledger.Close))
	})
}

// MountTransactionRoutes registers /transactions.
func (h *Handler) MountTransactionRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.CapLedgerPost), h.limit)
	r.Post("/deposit", h.deposit)
	r.Post("/withdraw", h.withdraw)
	r.Post("/transfer", h.transfer)
}

type openAccountRequest struct {
	CustomerID  int64  `json:"customer_id" validate:"required,gt=0"`
	AccountType string `json:"account_type" validate:"required,oneof=CHECKING SAVINGS"`
	TermMonths  int    `json:"term_months" validate:"gte=0,lte=120"`
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	acct, err := h.ledger.OpenAccount(r.Context(), ledger.OpenAccountInput{
		CustomerID: req.CustomerID,
		Type:       ledger.AccountType(req.AccountType),
		TermMonths: req.TermMonths,
		ActorID:    authz.ActorID(r.Context()),
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
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
	customerID, err := httpx.QueryInt(r, "customer_id", 0)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	accounts, err := h.ledger.ListAccounts(r.Context(), ledger.AccountFilter{
		CustomerID: int64(customerID),
		Type:       ledger.AccountType(strings.ToUpper(q.Get("type"))),
		Status:     ledger.AccountStatus(strings.ToUpper(q.Get("status"))),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	acct, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
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
	limit, err := httpx.QueryInt(r, "limit", 0)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	txns, err := h.ledger.ListTransactions(r.Context(), ledger.TransactionFilter{AccountID: id, From: from, To: to, Limit: limit})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

type balanceResponse struct {
	AccountID int64           `json:"account_id"`
	At        time.Time       `json:"at"`
	Balance   decimal.Decimal `json:"balance"`
}

// balanceAt returns the balance just before ?at=, defaulting to now.
func (h *Handler) balanceAt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	at, err := httpx.QueryTime(r, "at", false)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	when := h.now().UTC()
	if at != nil {
		when = *at
	}
	balance, err := h.history.OpeningBalanceAt(r.Context(), id, when)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{AccountID: id, At: when, Balance: balance})
}

func (h *Handler) lifecycle(op func(ctx context.Context, id, actorID int64) (ledger.Account, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			h.errs.RespondError(w, r, err)
			return
		}
		acct, err := op(r.Context(), id, authz.ActorID(r.Context()))
		if err != nil {
			h.errs.RespondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, acct)
	}
}

type postingRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.ledger.Deposit)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.ledger.Withdraw)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, op func(context.Context, ledger.PostingInput) (ledger.Transaction, error)) {
	var req postingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	txn, err := op(r.Context(), ledger.PostingInput{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		ActorID:        authz.ActorID(r.Context()),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, txn)
}

type transferRequest struct {
	SourceAccountID int64           `json:"source_account_id" validate:"required,gt=0"`
	TargetAccountID int64           `json:"target_account_id" validate:"required,gt=0"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description" validate:"max=255"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	res, err := h.ledger.Transfer(r.Context(), ledger.TransferInput{
		SourceID:       req.SourceAccountID,
		TargetID:       req.TargetAccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		ActorID:        authz.ActorID(r.Context()),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if len(key) > 128 {
		key = key[:128]
	}
	return key
}
