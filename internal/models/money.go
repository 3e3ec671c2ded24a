package models

import "fmt"

// Cents is a fixed-point currency amount in euro cents.
// All money in the ledger is integer cents; floating point is never used.
type Cents int64

// NewCents validates a non-negative amount (prices, fees).
func NewCents(v int64) (Cents, error) {
	if v < 0 {
		return 0, fmt.Errorf("amount must not be negative, got %d", v)
	}
	return Cents(v), nil
}

// String formats the amount as a decimal string, e.g. 850 -> "8.50".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
