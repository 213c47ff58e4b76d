package services

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// FormatMoney renders minor units with the currency's standard scale,
// e.g. 123450 USD as "USD 1234.50" and 5000 JPY as "JPY 5000".
func FormatMoney(amount int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	value := decimal.New(amount, int32(-scale)).StringFixed(int32(scale))
	if code == "" {
		return value
	}
	return code + " " + value
}

// normalizeCurrency validates an ISO 4217 code, falling back to def when
// code is empty.
func normalizeCurrency(code, def string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = strings.ToUpper(strings.TrimSpace(def))
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", err
	}
	return unit.String(), nil
}
