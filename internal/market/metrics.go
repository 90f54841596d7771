// Package market derives valuation figures from a token descriptor and an
// externally supplied reference price. Everything here is recomputed per
// call and guarded against zero denominators: degenerate inputs yield
// neutral zeros, never NaN or Inf.
package market

import (
	"math"
	"math/big"

	"go.uber.org/zap"

	"github.com/tokenscope/tokenscope/internal/types"
)

// CapDiff is the absolute and relative gap between two capitalizations.
type CapDiff struct {
	Difference        float64
	PercentDifference float64
}

// CapDifference compares a base capitalization against a diluted one.
// A non-positive base yields a zero percentage.
func CapDifference(base, diluted float64) CapDiff {
	diff := diluted - base
	if base <= 0 {
		return CapDiff{Difference: diff}
	}
	return CapDiff{Difference: diff, PercentDifference: diff / base * 100}
}

// Calculator computes market metrics. The off-market split is delegated to
// an injectable strategy so the heuristic can be swapped and tested.
type Calculator struct {
	strategy OffMarketStrategy
	logger   *zap.Logger
}

// NewCalculator creates a calculator; a nil strategy falls back to the
// deterministic size-tier default.
func NewCalculator(strategy OffMarketStrategy, logger *zap.Logger) *Calculator {
	if strategy == nil {
		strategy = SizeTierStrategy{}
	}
	return &Calculator{strategy: strategy, logger: logger.Named("market")}
}

// Compute derives the capitalization figures. The descriptor carries no
// distinct max supply, so the fully diluted cap uses total supply too.
func (c *Calculator) Compute(desc types.TokenDescriptor, price float64) *types.MarketMetrics {
	if price <= 0 {
		return nil
	}

	supply := ToDecimal(desc.TotalSupply, desc.Decimals)
	marketCap := supply * price
	fullyDiluted := supply * price

	diff := CapDifference(marketCap, fullyDiluted)

	return &types.MarketMetrics{
		Price:           price,
		MarketCap:       marketCap,
		FullyDilutedCap: fullyDiluted,
		DilutionDelta:   diff.Difference,
		DilutionPercent: diff.PercentDifference,
	}
}

// ApplyOffMarket partitions the volume of the large-transfer subset into
// likely-above and likely-below buckets and fills the USD and
// percent-of-cap figures on m.
func (c *Calculator) ApplyOffMarket(m *types.MarketMetrics, desc types.TokenDescriptor, large []types.Transfer) {
	if m == nil || m.Price <= 0 {
		return
	}

	var aboveUSD, belowUSD float64
	for _, transfer := range large {
		usd := ToDecimal(transfer.Amount, desc.Decimals) * m.Price
		switch c.strategy.Classify(transfer, desc, m.Price) {
		case SideAbove:
			aboveUSD += usd
		case SideBelow:
			belowUSD += usd
		}
	}

	m.AboveReferenceUSD = aboveUSD
	m.BelowReferenceUSD = belowUSD
	if m.MarketCap > 0 {
		m.AbovePercentOfCap = aboveUSD / m.MarketCap * 100
		m.BelowPercentOfCap = belowUSD / m.MarketCap * 100
	}

	c.logger.Debug("Off-market volume split",
		zap.Int("large_transfers", len(large)),
		zap.Float64("above_usd", aboveUSD),
		zap.Float64("below_usd", belowUSD))
}

// ToDecimal converts a raw integer token amount into a float scaled by the
// token's decimal precision. Unparseable input yields 0.
func ToDecimal(raw string, decimals uint8) float64 {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 {
		return 0
	}

	value := new(big.Float).SetInt(n)
	scale := new(big.Float).SetFloat64(math.Pow10(int(decimals)))
	if scale.Sign() == 0 {
		return 0
	}

	out, _ := new(big.Float).Quo(value, scale).Float64()
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0
	}
	return out
}
