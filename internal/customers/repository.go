package customers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/branchledger/branchledger/internal/platform/db"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id, full_name, national_id, COALESCE(phone, ''), COALESCE(email, ''), created_at`

func (r *PGRepository) Insert(ctx context.Context, c Customer) (Customer, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO customers (full_name, national_id, phone, email, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5) RETURNING id`,
		c.FullName, c.NationalID, c.Phone, c.Email, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		if db.IsUniqueViolation(err, ConstraintNationalID) {
			return Customer{}, ErrDuplicateNational
		}
		return Customer{}, err
	}
	return c, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.FullName, &c.NationalID, &c.Phone, &c.Email, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Customer, error) {
	query := `SELECT ` + columns + ` FROM customers`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += ` WHERE full_name ILIKE $1 OR national_id ILIKE $1`
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY full_name, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.FullName, &c.NationalID, &c.Phone, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
