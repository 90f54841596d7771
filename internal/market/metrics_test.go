package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokenscope/tokenscope/internal/types"
)

// 1000 tokens at 18 decimals.
const testSupply = "1000000000000000000000"

func testDescriptor() types.TokenDescriptor {
	return types.TokenDescriptor{
		Address:     "0x1111111111111111111111111111111111111111",
		Name:        "Test Token",
		Symbol:      "TST",
		Decimals:    18,
		TotalSupply: testSupply,
	}
}

func TestCapDifference(t *testing.T) {
	diff := CapDifference(100, 150)
	assert.InDelta(t, 50, diff.Difference, 1e-9)
	assert.InDelta(t, 50, diff.PercentDifference, 1e-9)
}

func TestCapDifference_ZeroBase(t *testing.T) {
	diff := CapDifference(0, 150)
	assert.InDelta(t, 150, diff.Difference, 1e-9)
	assert.Zero(t, diff.PercentDifference)
}

func TestCapDifference_NegativeBase(t *testing.T) {
	diff := CapDifference(-10, 20)
	assert.InDelta(t, 30, diff.Difference, 1e-9)
	assert.Zero(t, diff.PercentDifference)
}

func TestCompute(t *testing.T) {
	c := NewCalculator(nil, zap.NewNop())

	m := c.Compute(testDescriptor(), 2.0)
	require.NotNil(t, m)
	assert.InDelta(t, 2.0, m.Price, 1e-9)
	assert.InDelta(t, 2000, m.MarketCap, 1e-6)
	assert.InDelta(t, 2000, m.FullyDilutedCap, 1e-6)
	assert.Zero(t, m.DilutionDelta)
	assert.Zero(t, m.DilutionPercent)
}

func TestCompute_NonPositivePrice(t *testing.T) {
	c := NewCalculator(nil, zap.NewNop())
	assert.Nil(t, c.Compute(testDescriptor(), 0))
	assert.Nil(t, c.Compute(testDescriptor(), -1))
}

func TestCompute_ZeroSupply(t *testing.T) {
	desc := testDescriptor()
	desc.TotalSupply = "0"

	c := NewCalculator(nil, zap.NewNop())
	m := c.Compute(desc, 2.0)
	require.NotNil(t, m)
	assert.Zero(t, m.MarketCap)
	assert.Zero(t, m.FullyDilutedCap)
}

func TestApplyOffMarket_SplitsBySizeTier(t *testing.T) {
	c := NewCalculator(nil, zap.NewNop())
	desc := testDescriptor()
	m := c.Compute(desc, 2.0)
	require.NotNil(t, m)

	large := []types.Transfer{
		{Amount: "15000000000000000000", Large: true}, // 15 tokens, 1.5% of supply
		{Amount: "6000000000000000000", Large: true},  // 6 tokens, 0.6% of supply
	}
	c.ApplyOffMarket(m, desc, large)

	assert.InDelta(t, 12, m.AboveReferenceUSD, 1e-6) // 6 * 2.0
	assert.InDelta(t, 30, m.BelowReferenceUSD, 1e-6) // 15 * 2.0
	assert.InDelta(t, 12.0/2000*100, m.AbovePercentOfCap, 1e-9)
	assert.InDelta(t, 30.0/2000*100, m.BelowPercentOfCap, 1e-9)
}

func TestApplyOffMarket_NilMetrics(t *testing.T) {
	c := NewCalculator(nil, zap.NewNop())
	c.ApplyOffMarket(nil, testDescriptor(), nil) // must not panic
}

func TestApplyOffMarket_ZeroCapLeavesPercentsZero(t *testing.T) {
	desc := testDescriptor()
	desc.TotalSupply = "0"

	c := NewCalculator(nil, zap.NewNop())
	m := c.Compute(desc, 2.0)
	require.NotNil(t, m)

	c.ApplyOffMarket(m, desc, []types.Transfer{{Amount: "1000", Large: true}})
	assert.Zero(t, m.AbovePercentOfCap)
	assert.Zero(t, m.BelowPercentOfCap)
}

func TestSizeTierStrategy(t *testing.T) {
	desc := testDescriptor()
	strategy := SizeTierStrategy{}

	// Exactly 1% of supply: treated as a discounted block sale.
	assert.Equal(t, SideBelow, strategy.Classify(types.Transfer{Amount: "10000000000000000000"}, desc, 2.0))
	// Below the tier boundary: premium accumulation.
	assert.Equal(t, SideAbove, strategy.Classify(types.Transfer{Amount: "9999999999999999999"}, desc, 2.0))
	// Degenerate inputs stay neutral.
	assert.Equal(t, SideNeutral, strategy.Classify(types.Transfer{Amount: "bogus"}, desc, 2.0))
	descZero := desc
	descZero.TotalSupply = "0"
	assert.Equal(t, SideNeutral, strategy.Classify(types.Transfer{Amount: "100"}, descZero, 2.0))
}

func TestToDecimal(t *testing.T) {
	assert.InDelta(t, 1000, ToDecimal(testSupply, 18), 1e-6)
	assert.InDelta(t, 1.5, ToDecimal("1500000000000000000", 18), 1e-9)
	assert.InDelta(t, 42, ToDecimal("42", 0), 1e-9)
	assert.Zero(t, ToDecimal("not-a-number", 18))
	assert.Zero(t, ToDecimal("-5", 18))
}
