// README: Common money value object used across modules (minor units, two decimals).
package types

import (
	"fmt"
	"math"
)

const DefaultCurrency = "TWD"

type Money struct {
	Amount   int64
	Currency string
}

// MoneyFromFloat converts a decimal amount such as 450.5 into minor units.
func MoneyFromFloat(v float64, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: int64(math.Round(v * 100)), Currency: currency}
}

func (m Money) Float() float64 {
	return float64(m.Amount) / 100
}

func (m Money) IsPositive() bool {
	return m.Amount > 0
}

func (m Money) Equal(o Money) bool {
	return m.Amount == o.Amount && m.Currency == o.Currency
}

func (m Money) String() string {
	return fmt.Sprintf("%.2f %s", m.Float(), m.Currency)
}
