package loans

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/branchledger/branchledger/internal/money"
)

// rateScale is the precision of the monthly rate derived from an annual percentage.
const rateScale = 10

var twelveHundred = decimal.NewFromInt(1200)

// MonthlyRate converts an annual percentage into a monthly fraction.
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.DivRound(twelveHundred, rateScale)
}

// MonthlyPayment returns the fixed instalment that amortizes principal over
// termMonths at annualRatePercent:
//
//	PMT = P * r(1+r)^n / ((1+r)^n - 1)
//
// Intermediate values are exact; only the result is rounded half up to cents.
func MonthlyPayment(principal, annualRatePercent decimal.Decimal, termMonths int) decimal.Decimal {
	if termMonths <= 0 {
		return decimal.Zero
	}
	n := decimal.NewFromInt(int64(termMonths))
	if annualRatePercent.IsZero() {
		return principal.DivRound(n, money.Scale)
	}
	r := MonthlyRate(annualRatePercent)
	growth := pow(decimal.NewFromInt(1).Add(r), termMonths)
	numerator := principal.Mul(r).Mul(growth)
	denominator := growth.Sub(decimal.NewFromInt(1))
	return numerator.DivRound(denominator, money.Scale)
}

// Schedule projects the repayment plan of loan. Due dates count from the
// loan's start date, or from today when it has not been disbursed. The final
// period absorbs rounding drift so the plan ends at exactly zero.
func Schedule(loan Loan, today time.Time) []AmortizationEntry {
	if loan.TermMonths <= 0 {
		return nil
	}
	r := MonthlyRate(loan.AnnualRate)
	start := today
	if loan.StartDate != nil {
		start = *loan.StartDate
	}
	remaining := loan.Principal
	out := make([]AmortizationEntry, 0, loan.TermMonths)
	for i := 1; i <= loan.TermMonths; i++ {
		interest := money.Round(remaining.Mul(r))
		principal := loan.MonthlyPayment.Sub(interest)
		if i == loan.TermMonths || principal.GreaterThan(remaining) {
			principal = remaining
		}
		remaining = remaining.Sub(principal)
		out = append(out, AmortizationEntry{
			PaymentNumber: i,
			DueDate:       addMonths(start, i),
			Principal:     principal,
			Interest:      interest,
			Total:         principal.Add(interest),
			Remaining:     decimal.Max(remaining, decimal.Zero),
		})
		if !remaining.IsPositive() {
			break
		}
	}
	return out
}

// addMonths moves t forward n calendar months, clamping the day to the end of
// the target month: Jan 31 plus one month is Feb 28 (or 29).
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, n, 0)
	last := target.AddDate(0, 1, -1).Day()
	return target.AddDate(0, 0, min(t.Day(), last)-1)
}

// Quote builds an undisbursed loan from raw terms so its payment and
// schedule can be previewed.
func Quote(principal, annualRatePercent decimal.Decimal, termMonths int) Loan {
	return Loan{
		Principal:      principal,
		AnnualRate:     annualRatePercent,
		TermMonths:     termMonths,
		MonthlyPayment: MonthlyPayment(principal, annualRatePercent, termMonths),
		TotalPaid:      decimal.Zero,
		Remaining:      principal,
	}
}

// DueBy sums the scheduled instalments due on or before at.
func DueBy(schedule []AmortizationEntry, at time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, e := range schedule {
		if e.DueDate.After(at) {
			break
		}
		total = total.Add(e.Total)
	}
	return total
}

func pow(base decimal.Decimal, n int) decimal.Decimal {
	out := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		out = out.Mul(base)
	}
	return out
}
