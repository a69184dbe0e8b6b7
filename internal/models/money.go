package models

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Round2 rounds to two decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Commission returns round2(amount * percent / 100).
func Commission(amount, percent decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(percent).Div(hundred))
}

// ClampPercent bounds a configured percentage to [0,100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// ParseAmount parses a request amount and rounds it to cents.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return Round2(d), nil
}
