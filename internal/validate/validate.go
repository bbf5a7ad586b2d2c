// Package validate holds the pure input checks that gate a quote response:
// monetary parsing of seller-typed prices and deadline-date validity.
//
// Nothing here reads the clock or touches the network; callers pass "today"
// explicitly.
package validate

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ashureev/quoteworks/internal/domain"
)

// DateLayout is the wire and storage layout of deadline dates.
const DateLayout = "2006-01-02"

var maxDiscount = decimal.NewFromInt(100)

// PriceResult is the outcome of ValidatePrice.
//
// Empty marks "not yet priced" and is never OK. A zero Value with OK set is an
// explicit instruction to zero out the line.
type PriceResult struct {
	Value decimal.Decimal
	Empty bool
	OK    bool
}

// ValidatePrice parses a seller-typed price that may use '.' or ',' as the
// decimal separator. When both appear, the last separator in the text is the
// decimal point and earlier ones are grouping. A single separator kind that
// occurs more than once is treated as grouping only.
func ValidatePrice(text string) PriceResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return PriceResult{Empty: true}
	}

	lastSep := -1
	dots, commas, digits := 0, 0, 0
	for i, r := range text {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
			lastSep = i
		case r == ',':
			commas++
			lastSep = i
		default:
			return PriceResult{}
		}
	}
	if digits == 0 {
		return PriceResult{}
	}

	decimalAt := lastSep
	if lastSep >= 0 && (dots == 0 || commas == 0) && dots+commas > 1 {
		decimalAt = -1
	}

	var intPart, fracPart strings.Builder
	for i, r := range text {
		switch {
		case r == '.' || r == ',':
			continue
		case decimalAt >= 0 && i > decimalAt:
			fracPart.WriteRune(r)
		default:
			intPart.WriteRune(r)
		}
	}

	normalized := intPart.String()
	if normalized == "" {
		normalized = "0"
	}
	if fracPart.Len() > 0 {
		normalized += "." + fracPart.String()
	}

	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return PriceResult{}
	}
	return PriceResult{Value: value, OK: true}
}

// ParseDate parses a deadline in DateLayout.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}

// ValidateDeadline checks a deadline date against the caller-supplied today.
// Only calendar dates are compared; today itself is valid.
func ValidateDeadline(dateValue string, today time.Time) domain.ValidationResult {
	if strings.TrimSpace(dateValue) == "" {
		return domain.Invalid(domain.ReasonEmptyDate)
	}
	date, err := ParseDate(dateValue)
	if err != nil {
		return domain.Invalid(domain.ReasonInvalidDate)
	}
	if civilDate(date).Before(civilDate(today)) {
		return domain.Invalid(domain.ReasonPastDate)
	}
	return domain.Valid()
}

// ValidateDiscount checks a discount percentage. Empty means no discount.
func ValidateDiscount(text string) (decimal.Decimal, domain.ValidationResult) {
	res := ValidatePrice(text)
	if res.Empty {
		return decimal.Zero, domain.Valid()
	}
	if !res.OK || res.Value.GreaterThan(maxDiscount) {
		return decimal.Zero, domain.Invalid(domain.ReasonInvalidDiscount)
	}
	return res.Value, domain.Valid()
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
