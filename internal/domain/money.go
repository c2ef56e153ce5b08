package domain

import "github.com/shopspring/decimal"

// MinorUnits is the number of fractional digits of the cart currency.
const MinorUnits = 2

type Money = decimal.Decimal

func NewMoney(amount string) (Money, error) {
	return decimal.NewFromString(amount)
}

func MustMoney(amount string) Money {
	return decimal.RequireFromString(amount)
}

// RoundMoney rounds to the currency minor unit, half to even.
func RoundMoney(m Money) Money {
	return m.RoundBank(MinorUnits)
}
