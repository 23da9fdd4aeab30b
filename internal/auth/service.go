package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/branchledger/branchledger/internal/authz"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *Tokens
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *Tokens) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// WithNow overrides the token clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.tokens.now = now
	}
}

// Login validates username/password credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !user.Active {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// Authenticate resolves a bearer token into an actor.
func (s *Service) Authenticate(token string) (authz.Actor, error) {
	return s.tokens.Parse(token)
}

// Register hashes password and stores the user. Used by the seeder.
func (s *Service) Register(ctx context.Context, username, password, fullName string, role authz.Role) (StaffUser, error) {
	if _, ok := authz.ParseRole(string(role)); !ok {
		return StaffUser{}, fmt.Errorf("auth: unknown role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return StaffUser{}, fmt.Errorf("auth: hash password: %w", err)
	}
	return s.repo.Create(ctx, StaffUser{
		Username:     strings.TrimSpace(username),
		PasswordHash: string(hash),
		FullName:     fullName,
		Role:         role,
		Active:       true,
	})
}
