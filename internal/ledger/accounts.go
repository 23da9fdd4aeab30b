package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/shared"
)

var (
	rateLongTerm    = decimal.RequireFromString("6.0")
	rateMidTerm     = decimal.RequireFromString("5.0")
	rateShortTerm   = decimal.RequireFromString("4.0")
	rateDemandFloor = decimal.RequireFromString("0.5")
)

// InterestRateFor returns the annual percentage paid on an account. Savings
// rates step up with the committed term; checking accounts earn the floor rate.
func InterestRateFor(t AccountType, termMonths int) decimal.Decimal {
	if t != AccountTypeSavings {
		return rateDemandFloor
	}
	switch {
	case termMonths >= 12:
		return rateLongTerm
	case termMonths >= 6:
		return rateMidTerm
	case termMonths >= 3:
		return rateShortTerm
	default:
		return rateDemandFloor
	}
}

// OpenAccount creates an ACTIVE zero-balance account. A customer holds at most
// one non-closed account per type.
func (s *Service) OpenAccount(ctx context.Context, in OpenAccountInput) (Account, error) {
	ctx, span := tracer.Start(ctx, "ledger.Service.OpenAccount")
	defer span.End()

	if !in.Type.Valid() {
		return Account{}, ErrInvalidAccountType
	}
	if in.TermMonths < 0 {
		in.TermMonths = 0
	}
	var opened Account
	err := s.runUnit(ctx, ConstraintAccountNumber, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.CustomerExists(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrCustomerNotFound
		}
		if _, found, err := tx.FindOpenAccountByType(ctx, in.CustomerID, in.Type); err != nil {
			return err
		} else if found {
			return ErrAccountTypeExists
		}
		number, err := s.ids.NextAccountNumber(ctx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		opened, err = tx.InsertAccount(ctx, Account{
			CustomerID:   in.CustomerID,
			Number:       number,
			Type:         in.Type,
			Balance:      decimal.Zero,
			InterestRate: InterestRateFor(in.Type, in.TermMonths),
			TermMonths:   in.TermMonths,
			Status:       AccountStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.afterCommit(ctx, shared.AuditLog{
		ActorID:  in.ActorID,
		Action:   "account.open",
		Entity:   "account",
		EntityID: formatID(opened.ID),
		Meta: map[string]any{
			"account_number": opened.Number,
			"customer_id":    opened.CustomerID,
			"type":           string(opened.Type),
		},
	})
	return opened, nil
}

// Freeze blocks postings on an ACTIVE account.
func (s *Service) Freeze(ctx context.Context, id, actorID int64) (Account, error) {
	return s.transition(ctx, id, actorID, "account.freeze", func(a *Account) error {
		if a.Status != AccountStatusActive {
			return ErrInvalidAccountState
		}
		a.Status = AccountStatusFrozen
		return nil
	})
}

// Unfreeze reactivates a FROZEN account.
func (s *Service) Unfreeze(ctx context.Context, id, actorID int64) (Account, error) {
	return s.transition(ctx, id, actorID, "account.unfreeze", func(a *Account) error {
		if a.Status != AccountStatusFrozen {
			return ErrInvalidAccountState
		}
		a.Status = AccountStatusActive
		return nil
	})
}

// Close permanently closes an account whose balance is exactly zero.
func (s *Service) Close(ctx context.Context, id, actorID int64) (Account, error) {
	return s.transition(ctx, id, actorID, "account.close", func(a *Account) error {
		if a.Status == AccountStatusClosed {
			return ErrInvalidAccountState
		}
		if !a.Balance.IsZero() {
			return ErrNonZeroBalance
		}
		closedAt := s.now().UTC()
		a.Status = AccountStatusClosed
		a.ClosedAt = &closedAt
		return nil
	})
}

func (s *Service) transition(ctx context.Context, id, actorID int64, action string, mutate func(*Account) error) (Account, error) {
	ctx, span := tracer.Start(ctx, "ledger.Service.Transition")
	defer span.End()

	var updated Account
	var previous AccountStatus
	err := s.runUnit(ctx, "", func(ctx context.Context, tx TxRepository) error {
		account, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous = account.Status
		if err := mutate(&account); err != nil {
			return err
		}
		account.UpdatedAt = s.now().UTC()
		if err := tx.UpdateAccountBalanceAndStatus(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.afterCommit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "account",
		EntityID: formatID(id),
		Meta: map[string]any{
			"from": string(previous),
			"to":   string(updated.Status),
		},
	})
	return updated, nil
}
