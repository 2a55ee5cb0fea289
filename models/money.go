package models

import (
	"fmt"
	"strconv"
)

// Money is an amount in pence. Balances are kept as integers so sums over
// many ledgers never drift.
type Money int64

func Pounds(p int64) Money { return Money(p * 100) }

func (m Money) Pounds() float64 { return float64(m) / 100 }

// String formats the amount as GBP, e.g. "£25.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s£%d.%02d", sign, v/100, v%100)
}

// MarshalJSON emits pounds with two decimals so clients see 5.00, not 500.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Pounds(), 'f', 2, 64)), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	if f < 0 {
		*m = Money(f*100 - 0.5)
	} else {
		*m = Money(f*100 + 0.5)
	}
	return nil
}
