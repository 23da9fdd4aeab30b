package loans

import "errors"

var (
	// ErrInvalidLoanTerms indicates principal or term outside the configured bounds.
	ErrInvalidLoanTerms       = errors.New("loans: invalid loan terms")
	ErrLoanNotFound           = errors.New("loans: loan not found")
	ErrInvalidTransition      = errors.New("loans: status does not allow this operation")
	ErrDisbursementNotAllowed = errors.New("loans: disbursement not allowed")
	ErrPaymentExceedsBalance  = errors.New("loans: payment exceeds remaining balance and interest")
	ErrPaymentBelowInterest   = errors.New("loans: payment does not cover accrued interest")
)

var domainErrors = []error{
	ErrInvalidLoanTerms,
	ErrLoanNotFound,
	ErrInvalidTransition,
	ErrDisbursementNotAllowed,
	ErrPaymentExceedsBalance,
	ErrPaymentBelowInterest,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
