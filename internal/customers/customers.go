// Package customers keeps the minimal customer register that accounts and
// loans refer to.
package customers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/branchledger/branchledger/internal/shared"
)

var (
	ErrCustomerNotFound  = errors.New("customers: customer not found")
	ErrDuplicateNational = errors.New("customers: national id already registered")
)

// ConstraintNationalID is the unique constraint on national ids.
const ConstraintNationalID = "customers_national_id_key"

// Customer is an account and loan holder.
type Customer struct {
	ID         int64     `json:"id"`
	FullName   string    `json:"full_name"`
	NationalID string    `json:"national_id"`
	Phone      string    `json:"phone,omitempty"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListFilter narrows listings. Search matches name or national id.
type ListFilter struct {
	Search string
	Limit  int
	Offset int
}

// Repository persists customers.
type Repository interface {
	Insert(ctx context.Context, c Customer) (Customer, error)
	Get(ctx context.Context, id int64) (Customer, error)
	List(ctx context.Context, filter ListFilter) ([]Customer, error)
}

// AuditPort records customer events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes customer operations.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// CreateInput carries a new customer's details.
type CreateInput struct {
	FullName   string
	NationalID string
	Phone      string
	Email      string
	ActorID    int64
}

// Create registers a customer.
func (s *Service) Create(ctx context.Context, in CreateInput) (Customer, error) {
	c, err := s.repo.Insert(ctx, Customer{
		FullName:   strings.TrimSpace(in.FullName),
		NationalID: strings.TrimSpace(in.NationalID),
		Phone:      strings.TrimSpace(in.Phone),
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "customer.create",
			Entity:   "customer",
			EntityID: fmt.Sprint(c.ID),
			Meta:     map[string]any{"national_id": c.NationalID},
			At:       c.CreatedAt,
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", "customer.create"), slog.Any("error", err))
		}
	}
	return c, nil
}

// Get loads a customer.
func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	return s.repo.Get(ctx, id)
}

// List returns customers ordered by name.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Customer, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}
