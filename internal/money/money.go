// Package money handles kuruş amounts. Every price and total in the system is an int64 count
// of minor units; decimals only appear at the product service boundary.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FromLira converts a lira amount to kuruş, rounding half away from zero.
func FromLira(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func ToLira(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Format renders minor units the tr-TR way: ₺1.234,50.
func Format(minor int64) string {
	d := ToLira(minor)
	neg := d.IsNegative()
	whole, frac, _ := strings.Cut(d.Abs().StringFixed(2), ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString("₺")
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}
