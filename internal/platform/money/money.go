// Package money validates ISO 4217 currency codes and renders minor-unit amounts for humans.
package money

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// NormalizeCurrency returns the canonical upper-case ISO code for code.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("money: unsupported currency %q: %w", code, err)
	}
	return unit.String(), nil
}

// Scale reports how many fractional digits the currency's minor unit carries (2 for USD, 0 for JPY).
// Unknown codes default to 2.
func Scale(code string) int {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// Format renders amount (minor units) in English with the currency's narrow symbol, e.g. "$51.22".
func Format(amount int64, code string) string {
	return FormatIn(language.English, amount, code)
}

// FormatIn renders amount for the given language tag.
func FormatIn(tag language.Tag, amount int64, code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return fmt.Sprintf("%d %s", amount, strings.ToUpper(strings.TrimSpace(code)))
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(amount) / math.Pow10(scale)

	p := message.NewPrinter(tag)
	sign := ""
	if major < 0 {
		sign = "-"
		major = -major
	}
	return sign + p.Sprintf("%v%v", currency.NarrowSymbol(unit), number.Decimal(major, number.Scale(scale)))
}
