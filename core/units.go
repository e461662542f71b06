package core

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DefaultDecimals matches ether and most ERC-20 tokens.
const DefaultDecimals int32 = 18

// ParseUnits converts a human decimal amount ("1.5") into base units.
// Uses decimal arithmetic so no precision is lost on the way to 256 bits.
func ParseUnits(amount string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must not be negative", amount)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", amount)
	}
	return v, nil
}

// FormatUnits renders base units as a decimal string with trailing zeros trimmed.
func FormatUnits(v *uint256.Int, decimals int32) string {
	return decimal.NewFromBigInt(orZero(v).ToBig(), -decimals).String()
}
