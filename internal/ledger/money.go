package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

// Fixed-point scales.
const (
	minorUnitExp   = -2     // cents
	percentageExp  = -3     // Fee.Percentage thousandths of a percent
	feeScaleFactor = 100000 // Fee.Percentage value meaning 100%
)

// FormatAmount renders minor units as a major-unit string, e.g. 10500 -> "105.00".
func FormatAmount(minor int64) string {
	return decimal.New(minor, minorUnitExp).StringFixed(-minorUnitExp)
}

// FormatPercentage renders a fee percentage, e.g. 5000 -> "5.000%".
func FormatPercentage(p int64) string {
	return decimal.New(p, percentageExp).StringFixed(-percentageExp) + "%"
}

// MaxAmount is the largest amount a single transfer or bank move may carry.
// Below it amount*percentage fits in int64 for any percentage up to 100%.
const MaxAmount = math.MaxInt64 / feeScaleFactor

// FeeFor computes the fee for amount at percentage, truncating toward zero.
// amount must be in 1..MaxAmount and percentage in 1..100000.
func FeeFor(amount, percentage int64) int64 {
	return amount * percentage / feeScaleFactor
}

func checkAmount(amount int64, what string) error {
	if amount <= 0 {
		return invalidArgument("%s must be greater than zero", what)
	}
	if amount > MaxAmount {
		return invalidArgument("%s must not exceed %s", what, FormatAmount(MaxAmount))
	}
	return nil
}

func checkPercentage(p int64) error {
	if p <= 0 || p > feeScaleFactor {
		return invalidArgument("the transaction fee percentage must be between 1 and %d", feeScaleFactor)
	}
	return nil
}
