package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/branchledger/branchledger/internal/jobs"
)

// OverdueMarker sweeps loans that missed a scheduled instalment.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context) (int, error)
}

// PortfolioWarmer recomputes the cached dashboard.
type PortfolioWarmer interface {
	Warm(ctx context.Context) error
}

// KeyCleaner prunes idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handlers runs the periodic ledger jobs.
type Handlers struct {
	Loans   OverdueMarker
	Reports PortfolioWarmer
	Keys    KeyCleaner
	Metrics *jobmetrics.Metrics
	Logger  *slog.Logger
}

// TaskHandlers lists the asynq handlers for registration with a Worker.
func (h *Handlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLoanMarkOverdue, Handler: h.MarkOverdue},
		{Type: TaskReportWarmPortfolio, Handler: h.WarmPortfolio},
		{Type: TaskIdempotencyCleanup, Handler: h.CleanupIdempotency},
	}
}

// MarkOverdue handles TaskLoanMarkOverdue.
func (h *Handlers) MarkOverdue(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskLoanMarkOverdue)
	defer func() { err = tracker.End(err) }()

	n, err := h.Loans.MarkOverdue(ctx)
	tracker.Affected(n)
	if err != nil {
		h.logger().Error("mark overdue loans", slog.Int("marked", n), slog.Any("error", err))
		return err
	}
	h.logger().Info("overdue sweep finished", slog.Int("marked", n))
	return nil
}

// WarmPortfolio handles TaskReportWarmPortfolio.
func (h *Handlers) WarmPortfolio(ctx context.Context, _ *asynq.Task) (err error) {
	tracker := h.Metrics.Track(TaskReportWarmPortfolio)
	defer func() { err = tracker.End(err) }()

	if err := h.Reports.Warm(ctx); err != nil {
		h.logger().Warn("warm portfolio summary", slog.Any("error", err))
		return err
	}
	return nil
}

// CleanupIdempotency handles TaskIdempotencyCleanup.
func (h *Handlers) CleanupIdempotency(ctx context.Context, t *asynq.Task) (err error) {
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := h.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := h.Keys.Cleanup(ctx, payload.retention())
	if err != nil {
		return err
	}
	tracker.Affected(int(removed))
	h.logger().Info("idempotency keys pruned", slog.Int64("removed", removed))
	return nil
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Schedule returns the cron registrations for the periodic jobs. An empty
// spec disables that job.
func Schedule(overdueSpec, warmSpec, cleanupSpec string) ([]CronRegistration, error) {
	cleanup, err := NewIdempotencyCleanupTask(CleanupPayload{})
	if err != nil {
		return nil, err
	}
	var out []CronRegistration
	for _, c := range []CronRegistration{
		{Spec: overdueSpec, Task: NewMarkOverdueTask()},
		{Spec: warmSpec, Task: NewWarmPortfolioTask()},
		{Spec: cleanupSpec, Task: cleanup},
	} {
		if c.Spec != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
