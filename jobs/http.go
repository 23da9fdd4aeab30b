package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// Client enqueues ad-hoc runs of the periodic jobs.
type Client struct {
	client *asynq.Client
}

// NewClient connects to the queue.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueMarkOverdue queues an immediate overdue sweep. It fails with
// asynq.ErrDuplicateTask while another sweep is queued.
func (c *Client) EnqueueMarkOverdue(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewMarkOverdueTask())
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueuer submits ad-hoc jobs.
type Enqueuer interface {
	EnqueueMarkOverdue(ctx context.Context) (*asynq.TaskInfo, error)
}

// QueueInspector reports queue depth. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler serves /jobs: queue health for staff and a manual overdue sweep for
// loan approvers.
type Handler struct {
	inspector QueueInspector
	client    Enqueuer
	authz     authz.Middleware
	logger    *slog.Logger
}

// NewHandler constructs the handler.
func NewHandler(inspector QueueInspector, client Enqueuer, mw authz.Middleware, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, client: client, authz: mw, logger: logger}
}

// MountRoutes registers /jobs.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.With(h.authz.Require(authz.CapLoanApprove)).Post("/overdue", h.triggerOverdue)
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Paused    bool   `json:"paused"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Failed    int    `json:"failed_today"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, out)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("queue info", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	if info != nil {
		out = queueHealth{
			Queue:     info.Queue,
			Paused:    info.Paused,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Failed:    info.Failed,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) triggerOverdue(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	info, err := h.client.EnqueueMarkOverdue(r.Context())
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		httpx.Problem(w, http.StatusConflict, "Sweep Already Queued", "")
	case err != nil:
		h.logger.Error("enqueue overdue sweep", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
	default:
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
	}
}
