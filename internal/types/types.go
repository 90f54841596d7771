package types

import (
	"time"

	"github.com/tokenscope/tokenscope/internal/diag"
)

// TokenDescriptor holds the on-chain metadata of a token. It is built once
// per analysis run and never mutated; a refresh produces a new descriptor.
type TokenDescriptor struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"` // decimal string, non-negative
	Compliant   bool   `json:"compliant"`    // all standard fields were readable
	Network     string `json:"network"`
}

// Transfer is a single token transfer extracted from the event log.
// Immutable after creation.
type Transfer struct {
	TxHash             string `json:"tx_hash"`
	From               string `json:"from"`
	To                 string `json:"to"`
	Amount             string `json:"amount"` // decimal string, non-negative
	Timestamp          int64  `json:"timestamp"`
	TimestampEstimated bool   `json:"timestamp_estimated"`
	Large              bool   `json:"large"`
}

// MarketMetrics holds valuation figures derived from a descriptor and an
// externally supplied reference price. Recomputed on every run, never cached.
type MarketMetrics struct {
	Price           float64 `json:"price"`
	MarketCap       float64 `json:"market_cap"`
	FullyDilutedCap float64 `json:"fully_diluted_cap"`
	DilutionDelta   float64 `json:"dilution_delta"`
	DilutionPercent float64 `json:"dilution_percent"`

	// Off-market split over large transfers, in USD and as percent of market cap.
	AboveReferenceUSD     float64 `json:"above_reference_usd"`
	BelowReferenceUSD     float64 `json:"below_reference_usd"`
	AbovePercentOfCap     float64 `json:"above_percent_of_cap"`
	BelowPercentOfCap     float64 `json:"below_percent_of_cap"`
}

// TokenMetrics is the immutable result of one analysis run.
// LargeTransfers is always a subsequence of Transfers in the same order.
type TokenMetrics struct {
	Token          TokenDescriptor `json:"token"`
	Market         *MarketMetrics  `json:"market,omitempty"`
	Transfers      []Transfer      `json:"transfers"`
	LargeTransfers []Transfer      `json:"large_transfers"`
	FromBlock      uint64          `json:"from_block"`
	ToBlock        uint64          `json:"to_block"`
	GeneratedAt    time.Time       `json:"generated_at"`
	Diagnostics    []diag.Event    `json:"diagnostics,omitempty"`
}

// Request describes one analysis to perform.
type Request struct {
	Address        string  `json:"address"`
	Network        string  `json:"network"`
	ReferencePrice float64 `json:"reference_price,omitempty"` // 0 means not supplied
	LookbackDays   int     `json:"lookback_days,omitempty"`   // 0 means default
}
