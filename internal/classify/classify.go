// Package classify labels transfers against the fixed 0.5% large-transfer
// threshold. Pure functions, no side effects.
package classify

import (
	"math/big"
)

// thresholdPerMille is the large-transfer threshold expressed in 1/1000ths
// of total supply, so the test stays in integer arithmetic.
const thresholdPerMille = 5

var perMilleScale = big.NewInt(1000)

// IsLarge reports whether amount is at least 0.5% of totalSupply, using
// integer arithmetic to avoid float precision loss on large magnitudes:
// amount*1000/totalSupply >= 5 with truncating division.
//
// A zero supply or an unparseable input classifies as false, never as an error.
func IsLarge(amount, totalSupply string) bool {
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok || amt.Sign() < 0 {
		return false
	}
	supply, ok := new(big.Int).SetString(totalSupply, 10)
	if !ok || supply.Sign() <= 0 {
		return false
	}

	scaled := new(big.Int).Mul(amt, perMilleScale)
	scaled.Quo(scaled, supply)
	return scaled.Cmp(big.NewInt(thresholdPerMille)) >= 0
}
