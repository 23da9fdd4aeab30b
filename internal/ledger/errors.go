package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount indicates a non-positive amount, one above the ceiling,
	// or one with more than two fractional digits.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountNotActive indicates a frozen or closed account where an active one is required.
	ErrAccountNotActive = errors.New("ledger: account not active")
	// ErrInsufficientBalance indicates the debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrSameAccountTransfer indicates identical source and target.
	ErrSameAccountTransfer = errors.New("ledger: source and target account are the same")
	// ErrPersistenceFailure indicates the unit of work could not commit. The
	// underlying storage error stays reachable through errors.Is and errors.As.
	ErrPersistenceFailure = errors.New("ledger: persistence failure")

	ErrAccountTypeExists   = errors.New("ledger: customer already holds an open account of this type")
	ErrInvalidAccountType  = errors.New("ledger: invalid account type")
	ErrInvalidAccountState = errors.New("ledger: account state does not allow this operation")
	ErrNonZeroBalance      = errors.New("ledger: account balance must be zero to close")
	ErrCustomerNotFound    = errors.New("ledger: customer not found")
	ErrDuplicateRequest    = errors.New("ledger: idempotency key already used")
	ErrUnsupportedPosting  = errors.New("ledger: transaction type cannot be posted to a single account")
)

var domainErrors = []error{
	ErrInvalidAmount,
	ErrAccountNotFound,
	ErrAccountNotActive,
	ErrInsufficientBalance,
	ErrSameAccountTransfer,
	ErrAccountTypeExists,
	ErrInvalidAccountType,
	ErrInvalidAccountState,
	ErrNonZeroBalance,
	ErrCustomerNotFound,
	ErrDuplicateRequest,
	ErrUnsupportedPosting,
	ErrPersistenceFailure,
}

// IsDomainError reports whether err is one of the classified ledger errors.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify leaves domain errors untouched and marks everything else as a
// persistence failure.
func classify(err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
}
