package market

import (
	"math/big"

	"github.com/tokenscope/tokenscope/internal/types"
)

// Side labels which side of the reference price a large transfer likely
// settled on.
type Side int

const (
	SideNeutral Side = iota
	SideAbove
	SideBelow
)

// OffMarketStrategy decides the side for one large transfer. Implementations
// must be deterministic so the split is reproducible and testable.
type OffMarketStrategy interface {
	Classify(transfer types.Transfer, desc types.TokenDescriptor, price float64) Side
}

// SizeTierStrategy is the default: blocks moving at least 1% of supply are
// treated as discounted over-the-counter sales (below reference), smaller
// large transfers as premium accumulation (above reference).
type SizeTierStrategy struct{}

var (
	sizeTierScale     = big.NewInt(100)
	sizeTierThreshold = big.NewInt(1)
)

func (SizeTierStrategy) Classify(transfer types.Transfer, desc types.TokenDescriptor, _ float64) Side {
	amount, ok := new(big.Int).SetString(transfer.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return SideNeutral
	}
	supply, ok := new(big.Int).SetString(desc.TotalSupply, 10)
	if !ok || supply.Sign() <= 0 {
		return SideNeutral
	}

	scaled := new(big.Int).Mul(amount, sizeTierScale)
	scaled.Quo(scaled, supply)
	if scaled.Cmp(sizeTierThreshold) >= 0 {
		return SideBelow
	}
	return SideAbove
}
