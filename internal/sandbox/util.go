package sandbox

import (
	"strings"

	"github.com/shopspring/decimal"
)

var priceNoise = strings.NewReplacer(
	"USD", "", "$", "", "\u20ac", "", "\u00a3", "",
	",", "", " ", "", "\u00a0", "", "\t", "", "\n", "",
)

var hundred = decimal.NewFromInt(100)

// ParsePrice converts a price string such as "$1,299.99" into integer cents.
// Currency symbols, whitespace and thousands separators are ignored. It
// reports false for empty, negative or non-numeric input.
func ParsePrice(s string) (int64, bool) {
	cleaned := priceNoise.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return 0, false
	}
	return d.Mul(hundred).Round(0).IntPart(), true
}
