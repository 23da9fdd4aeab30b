// Package identifier issues the externally visible numbers of accounts, loans
// and ledger transactions.
//
// Numbers are derived from the highest value already persisted, so two
// concurrent callers may receive the same candidate. Storage enforces
// uniqueness and callers retry on a unique violation.
package identifier

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
)

const (
	// AccountNumberSeed is issued when no account exists yet.
	AccountNumberSeed = "1001000001"
	loanPrefix        = "LN"
	referencePrefix   = "TXN"
)

// Store looks up the highest identifiers currently persisted. The boolean is
// false when nothing matches.
type Store interface {
	MaxAccountNumber(ctx context.Context) (string, bool, error)
	MaxLoanNumber(ctx context.Context, prefix string) (string, bool, error)
}

// Generator derives new identifiers from persisted maxima.
type Generator struct {
	store Store
	now   func() time.Time
	intn  func(n int) int
}

// NewGenerator constructs a Generator backed by store.
func NewGenerator(store Store) *Generator {
	return &Generator{store: store, now: time.Now, intn: rand.IntN}
}

// WithNow overrides the clock for testing.
func (g *Generator) WithNow(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// WithRand overrides the random source used for reference suffixes.
func (g *Generator) WithRand(intn func(n int) int) {
	if intn != nil {
		g.intn = intn
	}
}

// NextAccountNumber returns the persisted maximum plus one.
func (g *Generator) NextAccountNumber(ctx context.Context) (string, error) {
	current, ok, err := g.store.MaxAccountNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("identifier: max account number: %w", err)
	}
	if !ok {
		return AccountNumberSeed, nil
	}
	n, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return "", fmt.Errorf("identifier: malformed account number %q: %w", current, err)
	}
	return strconv.FormatUint(n+1, 10), nil
}

// NextLoanNumber returns "LN" + year + a six digit sequence that restarts every year.
func (g *Generator) NextLoanNumber(ctx context.Context) (string, error) {
	prefix := LoanPrefix(g.now())
	current, ok, err := g.store.MaxLoanNumber(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("identifier: max loan number: %w", err)
	}
	seq := 1
	if ok {
		n, err := strconv.Atoi(current[len(prefix):])
		if err != nil {
			return "", fmt.Errorf("identifier: malformed loan number %q: %w", current, err)
		}
		seq = n + 1
	}
	return fmt.Sprintf("%s%06d", prefix, seq), nil
}

// NextReferenceNumber returns "TXN" + timestamp to the millisecond + a random
// suffix in [100, 999]. It never touches storage.
func (g *Generator) NextReferenceNumber() string {
	now := g.now()
	return fmt.Sprintf("%s%s%03d%d", referencePrefix, now.Format("20060102150405"), now.Nanosecond()/int(time.Millisecond), 100+g.intn(900))
}

// LoanPrefix is the per-year prefix shared by every loan number issued in t's year.
func LoanPrefix(t time.Time) string {
	return fmt.Sprintf("%s%04d", loanPrefix, t.Year())
}
