package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/branchledger/branchledger/internal/platform/db"
)

// Execer is satisfied by pgx.Tx and *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// ClaimIdempotencyKey records key for module through exec. Passing an open
// transaction makes the claim commit or roll back with the guarded writes.
// A key already claimed for module yields ErrIdempotencyConflict without
// aborting the transaction.
func ClaimIdempotencyKey(ctx context.Context, exec Execer, key, module string, at time.Time) error {
	switch {
	case key == "":
		return errors.New("idempotency key required")
	case module == "":
		return errors.New("idempotency module required")
	}
	tag, err := exec.Exec(ctx, `
		INSERT INTO idempotency_keys (module, key, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (module, key) DO NOTHING`, module, key, at)
	if db.IsUniqueViolation(err, "") {
		return ErrIdempotencyConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// IdempotencyStore prunes claimed keys once their retention has passed.
type IdempotencyStore struct {
	exec Execer
	now  func() time.Time
}

// NewIdempotencyStore constructs the store over exec, usually the *pgxpool.Pool.
func NewIdempotencyStore(exec Execer) *IdempotencyStore {
	return &IdempotencyStore{exec: exec, now: time.Now}
}

// Cleanup deletes keys claimed more than olderThan ago and reports how many went.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.exec == nil {
		return 0, nil
	}
	if olderThan <= 0 {
		return 0, errors.New("idempotency retention must be positive")
	}
	tag, err := s.exec.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
