package customers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// ErrorMappings maps customer sentinels onto problem responses.
var ErrorMappings = []httpx.ErrorMapping{
	{Target: ErrCustomerNotFound, Status: http.StatusNotFound, Title: "Customer Not Found"},
	{Target: ErrDuplicateNational, Status: http.StatusConflict, Title: "Duplicate Customer"},
}

// Handler serves /customers.
type Handler struct {
	logger  *slog.Logger
	service *Service
	errs    *httpx.Responder
	authz   authz.Middleware
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *Service, errs *httpx.Responder, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, errs: errs, authz: mw}
}

// MountRoutes registers customer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.authz.Require(authz.CapCustomerManage))
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
}

type createRequest struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	NationalID string `json:"national_id" validate:"required,alphanum,max=32"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Email      string `json:"email" validate:"omitempty,email"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	c, err := h.service.Create(r.Context(), CreateInput{
		FullName:   req.FullName,
		NationalID: req.NationalID,
		Phone:      req.Phone,
		Email:      req.Email,
		ActorID:    authz.ActorID(r.Context()),
	})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := httpx.QueryInt(r, "limit", 50)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	offset, err := httpx.QueryInt(r, "offset", 0)
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	out, err := h.service.List(r.Context(), ListFilter{Search: r.URL.Query().Get("search"), Limit: limit, Offset: offset})
	if err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customers": out})
}
