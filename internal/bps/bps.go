// Package bps implements fixed-point basis-point arithmetic for fees and
// pool percentages in binary outcome markets.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Amounts are integers in token base units; divisions truncate toward zero
// via QuoRem, so there is no intermediate rounding and no overflow wrap.
package bps

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Scale is the basis-point denominator: 10000 bps = 100%.
const Scale int64 = 10000

// DepositFeeBps is the fixed deposit fee rate: 100 bps = 1%.
const DepositFeeBps int64 = 100

var (
	// ErrNegativeAmount is returned when an amount is negative.
	ErrNegativeAmount = errors.New("bps: amount must not be negative")

	// ErrInvalidRate is returned when a fee rate is outside [0, Scale].
	ErrInvalidRate = errors.New("bps: rate must be within [0, 10000]")
)

var scaleDec = decimal.NewFromInt(Scale)

// Fee returns floor(amount * rate / 10000).
func Fee(amount decimal.Decimal, rate int64) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	if rate < 0 || rate > Scale {
		return decimal.Zero, ErrInvalidRate
	}
	q, _ := amount.Mul(decimal.NewFromInt(rate)).QuoRem(scaleDec, 0)
	return q, nil
}

// Net returns amount - Fee(amount, rate).
func Net(amount decimal.Decimal, rate int64) (decimal.Decimal, error) {
	fee, err := Fee(amount, rate)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Sub(fee), nil
}

// Split returns the fee and net portions of amount at the given rate.
// Fee + net always equals amount exactly.
func Split(amount decimal.Decimal, rate int64) (fee, net decimal.Decimal, err error) {
	fee, err = Fee(amount, rate)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return fee, amount.Sub(fee), nil
}

// Percentage returns the basis-point share of part within whole:
// floor(part * 10000 / whole). Returns 0 when whole is zero.
func Percentage(part, whole decimal.Decimal) int64 {
	if whole.IsZero() {
		return 0
	}
	q, _ := part.Mul(scaleDec).QuoRem(whole, 0)
	return q.IntPart()
}

// Complement returns Scale - pct, the basis points remaining after pct.
func Complement(pct int64) int64 {
	return Scale - pct
}
