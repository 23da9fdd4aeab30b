// Package migrations embeds the schema and applies it in file-name order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/branchledger/branchledger/internal/platform/db"
)

//go:embed *.sql
var files embed.FS

const createVersions = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Names lists the embedded migrations in the order they apply.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every migration not yet recorded in schema_migrations. Each file
// commits on its own together with its version row.
func Apply(ctx context.Context, pool db.Beginner, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := db.WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, createVersions)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("migrations: versions table: %w", err)
	}

	names, err := Names()
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return applied, err
		}
		ran := false
		err = db.WithTx(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name)
			if err != nil || tag.RowsAffected() == 0 {
				return err
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return err
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("migrations: %s: %w", name, err)
		}
		if ran {
			applied++
			logger.Info("migration applied", slog.String("version", name))
		}
	}
	return applied, nil
}
