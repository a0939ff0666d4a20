// Package money implements fixed-point monetary arithmetic for the ledger.
//
// Two scales are used throughout the core: Amount carries four decimal
// places and is used for intermediate ledger-line arithmetic (tax splits,
// proportional fee allocation); Cents carries two decimal places and is
// the persisted, display-facing unit for journal lines and bank amounts.
package money

import "fmt"

// Currency is an ISO-4217 code, e.g. "USD", "EGP".
type Currency string

// scale4 is the number of Amount units per whole currency unit (4dp).
const scale4 = 10000

// scale2 is the number of Cents units per whole currency unit (2dp).
const scale2 = 100

// Amount is a fixed-point value with four decimal places, stored as the
// integer number of ten-thousandths of a currency unit.
type Amount int64

// Cents is a fixed-point value with two decimal places, stored as the
// integer number of hundredths of a currency unit. This is the unit
// persisted on journal lines and bank transactions.
type Cents int64

// FromCents lifts a 2dp value into the 4dp intermediate scale.
func FromCents(c Cents) Amount {
	return Amount(int64(c) * (scale4 / scale2))
}

// Round rounds an Amount (4dp) down to Cents (2dp) using half-up rounding
// (ties round away from zero), matching the int64 minor-unit
// convention at display/storage boundaries.
func (a Amount) Round() Cents {
	unit := int64(scale4 / scale2)
	v := int64(a)
	neg := v < 0
	if neg {
		v = -v
	}
	q := v / unit
	r := v % unit
	if r*2 >= unit {
		q++
	}
	if neg {
		q = -q
	}
	return Cents(q)
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Neg returns -a.
func (a Amount) Neg() Amount { return -a }

// Abs returns the absolute value of a.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// MulPercent multiplies the amount by rate percent (e.g. 15 for 15%),
// keeping full precision in the 4dp domain before the caller rounds.
func (a Amount) MulPercent(ratePercent float64) Amount {
	return Amount(float64(a) * ratePercent / 100.0)
}

// DivByPercentPlusOne divides the amount by (1 + rate/100), used to strip
// tax out of a gross amount under the INCLUDED treatment.
func (a Amount) DivByPercentPlusOne(ratePercent float64) Amount {
	return Amount(float64(a) / (1.0 + ratePercent/100.0))
}

func (c Cents) String() string {
	neg := c < 0
	v := int64(c)
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%s%d.%02d", signStr(neg), v/scale2, v%scale2)
	return s
}

func signStr(neg bool) string {
	if neg {
		return "-"
	}
	return ""
}

// Abs returns the absolute value of c.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// WithinTolerance reports whether |a-b| <= toleranceCents.
func WithinTolerance(a, b, toleranceCents Cents) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= toleranceCents
}
