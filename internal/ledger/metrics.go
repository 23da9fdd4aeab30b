package ledger

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger postings.
type Metrics struct {
	postings *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the ledger collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "branchledger_ledger_postings_total",
		Help: "Ledger postings partitioned by transaction type and outcome.",
	}, []string{"type", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "branchledger_ledger_posting_duration_seconds",
		Help:    "Duration of ledger units of work.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(postings, duration)
	return &Metrics{postings: postings, duration: duration}
}

func (m *Metrics) observe(typ TransactionType, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(string(typ), outcome(err)).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(string(typ)).Observe(elapsed.Seconds())
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrAccountNotActive), errors.Is(err, ErrAccountNotFound):
		return "account_rejected"
	default:
		return "rejected"
	}
}
