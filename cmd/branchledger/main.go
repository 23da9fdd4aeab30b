package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httprate"
	"github.com/hibiken/asynq"

	"github.com/branchledger/branchledger/cmd/branchledger/cli"
	"github.com/branchledger/branchledger/internal/app"
	"github.com/branchledger/branchledger/internal/auth"
	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/customers"
	"github.com/branchledger/branchledger/internal/history"
	"github.com/branchledger/branchledger/internal/identifier"
	"github.com/branchledger/branchledger/internal/ledger"
	ledgerhttp "github.com/branchledger/branchledger/internal/ledger/http"
	"github.com/branchledger/branchledger/internal/loans"
	loanhttp "github.com/branchledger/branchledger/internal/loans/http"
	"github.com/branchledger/branchledger/internal/observability"
	"github.com/branchledger/branchledger/internal/platform/cache"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/reports"
	reporthttp "github.com/branchledger/branchledger/internal/reports/http"
	"github.com/branchledger/branchledger/internal/shared"
	"github.com/branchledger/branchledger/jobs"
	"github.com/branchledger/branchledger/migrations"
)

const serviceName = "branchledger"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "jobs":
		err = triggerJob(ctx, cfg, logger, os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q (want serve, migrate or jobs)", cmd)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	n, err := migrations.Apply(ctx, pool, logger)
	if err != nil {
		return err
	}
	logger.Info("migrations complete", slog.Int("applied", n))
	return nil
}

func triggerJob(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) != 2 || args[0] != "trigger" {
		return fmt.Errorf("usage: branchledger jobs trigger <%v>", cli.JobNames())
	}
	c := cli.NewJobsCLI(cfg.RedisAddr)
	defer c.Close()
	info, err := c.Trigger(ctx, args[1])
	if err != nil {
		return err
	}
	logger.Info("job enqueued", slog.String("task", info.Type), slog.String("id", info.ID), slog.String("queue", info.Queue))
	return nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{HealthCheckPeriod: time.Minute})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, reports run uncached", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	ids := identifier.NewGenerator(identifier.NewPGStore(pool))
	reportCache := reports.NewCache(redisClient, cfg.ReportCacheTTL, logger)

	ledgerRepo := ledger.NewRepository(pool, cfg.TxOptions())
	ledgerService := ledger.NewService(ledgerRepo, ids, auditLogger, logger)
	ledgerService.WithMaxAmount(cfg.LedgerMaxAmount)
	ledgerService.WithInvalidator(reportCache)
	ledgerService.WithMetrics(ledger.NewMetrics(metrics.Registerer()))
	reconstructor := history.NewReconstructor(ledgerRepo)

	loanService := loans.NewService(loans.NewRepository(pool, cfg.TxOptions()), ledgerService, ids, auditLogger, cfg.LoanConfig(), logger)
	customerService := customers.NewService(customers.NewRepository(pool), auditLogger, logger)
	reportService := reports.NewService(reports.NewPGRepository(pool), ledgerService, reconstructor, reportCache, logger)
	authService := auth.NewService(auth.NewRepository(pool), auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL))

	errs := httpx.NewResponder(logger,
		auth.ErrorMappings,
		customers.ErrorMappings,
		loanhttp.ErrorMappings,
		reporthttp.ErrorMappings,
		ledgerhttp.ErrorMappings,
	)
	mw := authz.Middleware{Authorizer: authz.DefaultPolicy(), Logger: logger}
	postingLimit := httprate.Limit(cfg.RateLimitPerMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint))

	queueOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(queueOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer jobClient.Close()
	inspector := asynq.NewInspector(queueOpts)
	defer inspector.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AuthHandler:     auth.NewHandler(logger, authService, errs),
		CustomerHandler: customers.NewHandler(logger, customerService, errs, mw),
		LedgerHandler:   ledgerhttp.NewHandler(logger, ledgerService, reconstructor, errs, mw, postingLimit),
		LoanHandler:     loanhttp.NewHandler(logger, loanService, errs, mw),
		ReportHandler:   reporthttp.NewHandler(logger, reportService, errs, mw),
		JobHandler:      jobs.NewHandler(inspector, jobClient, mw, logger),
		Metrics:         metrics,
		Health: map[string]app.Pinger{
			"postgres": pool,
			"redis":    app.PingFunc(func(ctx context.Context) error { return cache.Ping(ctx, redisClient) }),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
