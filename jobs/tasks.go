package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLoanMarkOverdue flags disbursed loans that fell behind schedule.
	TaskLoanMarkOverdue = "loans:mark_overdue"
	// TaskReportWarmPortfolio recomputes the dashboard into the report cache.
	TaskReportWarmPortfolio = "reports:warm_portfolio"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// DefaultIdempotencyRetention is how long a posting key blocks replays.
const DefaultIdempotencyRetention = 24 * time.Hour

// CleanupPayload configures an idempotency cleanup run.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

func (p CleanupPayload) retention() time.Duration {
	if p.RetentionHours <= 0 {
		return DefaultIdempotencyRetention
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewMarkOverdueTask constructs the overdue sweep task. Only one sweep may be
// queued at a time.
func NewMarkOverdueTask() *asynq.Task {
	return asynq.NewTask(TaskLoanMarkOverdue, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(10*time.Minute), asynq.Unique(time.Hour))
}

// NewWarmPortfolioTask constructs the dashboard warmup task.
func NewWarmPortfolioTask() *asynq.Task {
	return asynq.NewTask(TaskReportWarmPortfolio, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Timeout(2*time.Minute))
}

// NewIdempotencyCleanupTask constructs the key cleanup task.
func NewIdempotencyCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
