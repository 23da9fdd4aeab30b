package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// ErrorMappings maps auth sentinels onto problem responses.
var ErrorMappings = []httpx.ErrorMapping{
	{Target: ErrInvalidCredentials, Status: http.StatusUnauthorized, Title: "Invalid Credentials"},
	{Target: ErrUnauthorized, Status: http.StatusUnauthorized, Title: "Unauthorized"},
	{Target: ErrForbidden, Status: http.StatusForbidden, Title: "Forbidden"},
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger  *slog.Logger
	service *Service
	errs    *httpx.Responder
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, errs *httpx.Responder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, errs: errs}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.errs.RespondError(w, r, err)
		return
	}
	sess, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Info("login rejected", slog.String("username", req.Username), slog.Any("error", err))
		h.errs.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

// Authenticate requires a valid bearer token and stores its actor in the
// request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			h.errs.RespondError(w, r, ErrUnauthorized)
			return
		}
		actor, err := h.service.Authenticate(strings.TrimSpace(raw))
		if err != nil {
			h.errs.RespondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), actor)))
	})
}
