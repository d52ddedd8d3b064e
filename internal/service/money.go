package service

import (
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits lists currencies whose minor-unit exponent differs from
// the usual two decimal places.
var minorUnits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"CLP": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// MinorUnits returns the number of decimal places amounts in the given
// currency are settled at.
func MinorUnits(currency string) int32 {
	if exp, ok := minorUnits[currency]; ok {
		return exp
	}
	return 2
}

// RoundAmount rounds to the currency's minor units with round-half-even,
// so repeated conversions carry no systematic bias.
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.RoundBank(MinorUnits(currency))
}

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizePair renders the canonical "BASE/QUOTE" pair key.
func NormalizePair(base, quote string) string {
	return NormalizeCurrency(base) + "/" + NormalizeCurrency(quote)
}
