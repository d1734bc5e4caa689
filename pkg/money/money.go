// Package money holds the cent arithmetic shared by commission, tax and
// settlement code. Fractions round half-up to the nearest cent.
package money

import "github.com/shopspring/decimal"

var basisPointScale = decimal.NewFromInt(10000)

// ApplyBps returns round_half_up(amount * bps / 10000).
func ApplyBps(amountCents int64, bps int) int64 {
	if amountCents == 0 || bps == 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(basisPointScale).
		Round(0).
		IntPart()
}

// Prorate returns round_half_up(total * part / whole). A zero whole yields zero.
func Prorate(totalCents, partCents, wholeCents int64) int64 {
	if wholeCents == 0 || totalCents == 0 || partCents == 0 {
		return 0
	}
	return decimal.NewFromInt(totalCents).
		Mul(decimal.NewFromInt(partCents)).
		Div(decimal.NewFromInt(wholeCents)).
		Round(0).
		IntPart()
}

// EffectiveBps expresses part as basis points of whole, rounded half-up.
func EffectiveBps(partCents, wholeCents int64) int {
	if wholeCents == 0 {
		return 0
	}
	return int(decimal.NewFromInt(partCents).
		Mul(basisPointScale).
		Div(decimal.NewFromInt(wholeCents)).
		Round(0).
		IntPart())
}

// Clamp bounds value to [lo, hi].
func Clamp(value, lo, hi int64) int64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
