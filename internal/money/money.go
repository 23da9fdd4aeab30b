// Package money holds the decimal conventions shared by the ledger, loans and reports.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Scale is the number of fractional digits kept for every stored amount.
const Scale = 2

// Round rounds half away from zero to two fractional digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// HasValidScale reports whether d carries at most two fractional digits.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(Scale))
}

// Parse reads a decimal amount from text.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return d, nil
}

// Numeric renders an amount for a NUMERIC column parameter.
func Numeric(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

var printer = message.NewPrinter(language.English)

// Format renders an amount with grouped thousands, e.g. 1,250,000.50.
// The integer part is grouped by x/text while the fraction stays exact.
func Format(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(Scale)
	intPart, frac, _ := strings.Cut(fixed, ".")
	whole, err := decimal.NewFromString(intPart)
	if err != nil || !whole.IsInteger() || whole.GreaterThan(decimal.NewFromInt(1<<62)) {
		return d.StringFixed(Scale)
	}
	grouped := printer.Sprintf("%d", whole.IntPart())
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + grouped + "." + frac
}
