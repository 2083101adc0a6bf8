package types

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FormatUnits renders an integer amount with the given number of decimals,
// e.g. 1500000 with 6 decimals is "1.5".
func FormatUnits(amount *uint256.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}
