package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/branchledger/branchledger/internal/auth"
	"github.com/branchledger/branchledger/internal/customers"
	ledgerhttp "github.com/branchledger/branchledger/internal/ledger/http"
	loanhttp "github.com/branchledger/branchledger/internal/loans/http"
	"github.com/branchledger/branchledger/internal/observability"
	"github.com/branchledger/branchledger/internal/platform/httpx"
	reporthttp "github.com/branchledger/branchledger/internal/reports/http"
	"github.com/branchledger/branchledger/jobs"
)

// APIPrefix roots every versioned endpoint.
const APIPrefix = "/api/v1"

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	AuthHandler     *auth.Handler
	CustomerHandler *customers.Handler
	LedgerHandler   *ledgerhttp.Handler
	LoanHandler     *loanhttp.Handler
	ReportHandler   *reporthttp.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
	Health          map[string]Pinger
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthz(params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.With(httprate.LimitByIP(10, time.Minute)).Route("/auth", params.AuthHandler.MountRoutes)

		r.Group(func(r chi.Router) {
			r.Use(params.AuthHandler.Authenticate)
			r.Route("/customers", params.CustomerHandler.MountRoutes)
			r.Route("/accounts", params.LedgerHandler.MountAccountRoutes)
			r.Route("/transactions", params.LedgerHandler.MountTransactionRoutes)
			r.Route("/loans", params.LoanHandler.MountRoutes)
			r.Route("/reports", params.ReportHandler.MountRoutes)
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})
	return r
}

func healthz(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := map[string]string{"status": "ok"}
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		httpx.JSON(w, status, out)
	}
}
