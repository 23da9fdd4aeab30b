package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchledger/branchledger/jobs"
)

func TestJobNamesCoverPeriodicJobs(t *testing.T) {
	assert.Equal(t, []string{
		jobs.TaskIdempotencyCleanup,
		jobs.TaskLoanMarkOverdue,
		jobs.TaskReportWarmPortfolio,
	}, JobNames())
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), "ledger:rebuild")
	require.ErrorContains(t, err, "unsupported job")

	_, err = c.Trigger(context.Background(), jobs.TaskLoanMarkOverdue)
	require.ErrorContains(t, err, "client not configured")
}
