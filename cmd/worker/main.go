package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/branchledger/branchledger/internal/app"
	"github.com/branchledger/branchledger/internal/history"
	"github.com/branchledger/branchledger/internal/identifier"
	jobmetrics "github.com/branchledger/branchledger/internal/jobs"
	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/loans"
	"github.com/branchledger/branchledger/internal/observability"
	"github.com/branchledger/branchledger/internal/platform/cache"
	"github.com/branchledger/branchledger/internal/platform/db"
	"github.com/branchledger/branchledger/internal/reports"
	"github.com/branchledger/branchledger/internal/shared"
	"github.com/branchledger/branchledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "branchledger-worker")
	if err != nil {
		logger.Error("init tracer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: int32(cfg.WorkerConcurrency) + 2, AppName: "branchledger-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
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

	loanService := loans.NewService(loans.NewRepository(pool, cfg.TxOptions()), ledgerService, ids, auditLogger, cfg.LoanConfig(), logger)
	reportService := reports.NewService(reports.NewPGRepository(pool), ledgerService, history.NewReconstructor(ledgerRepo), reportCache, logger)

	handlers := &jobs.Handlers{
		Loans:   loanService,
		Reports: reportService,
		Keys:    shared.NewIdempotencyStore(pool),
		Metrics: jobmetrics.NewMetrics(metrics.Registerer()),
		Logger:  logger,
	}
	schedule, err := jobs.Schedule(cfg.JobOverdueCron, cfg.JobReportWarmCron, cfg.JobIdempotencyCron)
	if err != nil {
		logger.Error("build schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers.TaskHandlers(),
		Cron:        schedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency), slog.Int("cron_jobs", len(schedule)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
