package auth

import (
	"errors"
	"time"

	"github.com/branchledger/branchledger/internal/authz"
)

var (
	// ErrInvalidCredentials indicates login failure. Unknown users, inactive
	// users and wrong passwords are indistinguishable.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrUnauthorized indicates a missing, malformed or expired bearer token.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrForbidden indicates an authenticated actor lacking a capability.
	ErrForbidden    = errors.New("auth: forbidden")
	ErrUserNotFound = errors.New("auth: user not found")
)

// StaffUser represents a back-office operator.
type StaffUser struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	Role         authz.Role `json:"role"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Session is the result of a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      StaffUser `json:"user"`
}
