// Package history derives past balances from the current balance and the
// append-only transaction log. No balance history is stored; every figure is
// recomputed, so the log must never be edited or pruned.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/branchledger/branchledger/internal/ledger"
)

// Epsilon is the smallest step between two distinguishable log timestamps.
// Postgres timestamptz keeps microseconds.
const Epsilon = time.Microsecond

var tracer = otel.Tracer("github.com/branchledger/branchledger/internal/history")

// ErrInvalidRange indicates to precedes from.
var ErrInvalidRange = errors.New("history: invalid range")

// Source reads balances and flows for one account.
type Source interface {
	// Snapshot returns the current balance and the flow recorded at or after
	// since, read consistently.
	Snapshot(ctx context.Context, accountID int64, since time.Time) (ledger.BalanceSnapshot, error)
	// FlowBetween sums the flow recorded in [from, to].
	FlowBetween(ctx context.Context, accountID int64, from, to time.Time) (ledger.Flow, error)
}

// Reconstructor answers point-in-time balance questions.
type Reconstructor struct {
	source Source
}

// NewReconstructor constructs a Reconstructor over source.
func NewReconstructor(source Source) *Reconstructor {
	return &Reconstructor{source: source}
}

// OpeningBalanceAt returns the balance of the account immediately before at:
// the current balance minus everything credited since at, plus everything
// debited since at.
func (r *Reconstructor) OpeningBalanceAt(ctx context.Context, accountID int64, at time.Time) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "history.OpeningBalanceAt", trace.WithAttributes(attribute.Int64("account.id", accountID)))
	defer span.End()

	snap, err := r.source.Snapshot(ctx, accountID, at)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Balance.Sub(snap.Since.Credits).Add(snap.Since.Debits), nil
}

// Flows sums credits and debits recorded in [from, to].
func (r *Reconstructor) Flows(ctx context.Context, accountID int64, from, to time.Time) (ledger.Flow, error) {
	if to.Before(from) {
		return ledger.Flow{}, ErrInvalidRange
	}
	return r.source.FlowBetween(ctx, accountID, from, to)
}

// Window is the opening and closing balance of an interval with its flow.
type Window struct {
	From    time.Time       `json:"from"`
	To      time.Time       `json:"to"`
	Opening decimal.Decimal `json:"opening_balance"`
	Flow    ledger.Flow     `json:"flow"`
	Closing decimal.Decimal `json:"closing_balance"`
}

// ClosingBalance returns opening(from) + credits - debits over [from, to].
func (r *Reconstructor) ClosingBalance(ctx context.Context, accountID int64, from, to time.Time) (Window, error) {
	flow, err := r.Flows(ctx, accountID, from, to)
	if err != nil {
		return Window{}, err
	}
	opening, err := r.OpeningBalanceAt(ctx, accountID, from)
	if err != nil {
		return Window{}, err
	}
	return Window{
		From:    from,
		To:      to,
		Opening: opening,
		Flow:    flow,
		Closing: opening.Add(flow.Net()),
	}, nil
}

// Reverse walks current back to the balance before the earliest of txns by
// undoing each row. Rows may be in any order.
func Reverse(current decimal.Decimal, txns []ledger.Transaction) decimal.Decimal {
	out := current
	for _, t := range txns {
		out = out.Sub(t.SignedAmount())
	}
	return out
}

// Summarize splits txns into credits and debits.
func Summarize(txns []ledger.Transaction) ledger.Flow {
	flow := ledger.Flow{Credits: decimal.Zero, Debits: decimal.Zero}
	for _, t := range txns {
		if t.Direction == ledger.DirectionDebit {
			flow.Debits = flow.Debits.Add(t.Amount)
		} else {
			flow.Credits = flow.Credits.Add(t.Amount)
		}
	}
	return flow
}
