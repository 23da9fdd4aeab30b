package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	defaultConcurrency = 5
	shutdownTimeout    = 30 * time.Second
	maxRetryDelay      = 30 * time.Minute
)

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration schedules a prepared task on a cron spec.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects what NewWorker needs.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Worker runs the asynq server and, when cron entries exist, the scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
}

// NewWorker registers handlers and cron entries. Every handler runs behind
// logTask.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			return nil, errors.New("jobs: handler needs a type and a func")
		}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{QueueDefault: 1},
		ShutdownTimeout: shutdownTimeout,
		RetryDelayFunc:  retryDelay,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			limit, _ := asynq.GetMaxRetry(ctx)
			logger.Error("job failed", slog.String("task", task.Type()),
				slog.Int("retry", retried), slog.Int("max_retry", limit), slog.Any("error", err))
		}),
	})

	mux := asynq.NewServeMux()
	mux.Use(logTask(logger))
	for _, h := range cfg.Handlers {
		mux.HandleFunc(h.Type, h.Handler)
	}

	w := &Worker{server: srv, mux: mux}
	if len(cfg.Cron) == 0 {
		return w, nil
	}
	w.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
		Location: time.UTC,
		EnqueueErrorHandler: func(task *asynq.Task, _ []asynq.Option, err error) {
			if !errors.Is(err, asynq.ErrDuplicateTask) {
				logger.Error("schedule enqueue", slog.String("task", task.Type()), slog.Any("error", err))
			}
		},
	})
	for _, entry := range cfg.Cron {
		if _, err := w.scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Run processes tasks until ctx is cancelled or the server stops.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return err
		}
	}
	<-ctx.Done()
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	return ctx.Err()
}

// retryDelay doubles from 10s per attempt up to maxRetryDelay.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 8 {
		return maxRetryDelay
	}
	d := 10 * time.Second << n
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// logTask logs the start and end of every task with its id and duration.
func logTask(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			id, _ := asynq.GetTaskID(ctx)
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			attrs := []any{slog.String("task", t.Type()), slog.String("id", id), slog.Duration("took", time.Since(start))}
			if err == nil {
				logger.Info("job done", attrs...)
			}
			return err
		})
	}
}
