package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestRetryDelayIsCapped(t *testing.T) {
	task := asynq.NewTask(TaskLoanMarkOverdue, nil)
	require.Equal(t, 10*time.Second, retryDelay(0, nil, task))
	require.Equal(t, 40*time.Second, retryDelay(2, nil, task))
	require.Equal(t, maxRetryDelay, retryDelay(20, nil, task))
}

func TestLogTaskPassesErrorsThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	boom := errors.New("boom")

	h := logTask(logger)(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))
	require.ErrorIs(t, h.ProcessTask(context.Background(), asynq.NewTask(TaskReportWarmPortfolio, nil)), boom)
	require.Empty(t, buf.String())

	h = logTask(logger)(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return nil }))
	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TaskReportWarmPortfolio, nil)))
	require.Contains(t, buf.String(), "job done")
}

func TestNewWorkerRejectsEmptyHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Handlers: []TaskHandler{{Type: TaskLoanMarkOverdue}}})
	require.Error(t, err)
}
