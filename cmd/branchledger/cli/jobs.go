// Package cli holds the operator subcommands of the branchledger binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hibiken/asynq"

	"github.com/branchledger/branchledger/jobs"
)

// JobsCLI enqueues periodic jobs on demand.
type JobsCLI struct {
	client *asynq.Client
}

// NewJobsCLI connects to the queue at redisAddr.
func NewJobsCLI(redisAddr string) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// Close releases the queue client.
func (c *JobsCLI) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var builders = map[string]func() (*asynq.Task, error){
	jobs.TaskLoanMarkOverdue: func() (*asynq.Task, error) {
		return jobs.NewMarkOverdueTask(), nil
	},
	jobs.TaskReportWarmPortfolio: func() (*asynq.Task, error) {
		return jobs.NewWarmPortfolioTask(), nil
	},
	jobs.TaskIdempotencyCleanup: func() (*asynq.Task, error) {
		return jobs.NewIdempotencyCleanupTask(jobs.CleanupPayload{})
	},
}

// JobNames lists the task types Trigger accepts.
func JobNames() []string {
	out := make([]string, 0, len(builders))
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Trigger enqueues the named job with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("jobs cli: unsupported job %q (want one of %v)", name, JobNames())
	}
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := build()
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}
