// Package blocks maps block numbers to timestamps. Resolution never fails:
// when the node cannot be reached the resolver degrades to a linear
// extrapolation estimate instead of aborting the pipeline.
package blocks

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// HeaderSource is the slice of the chain client the resolver needs.
type HeaderSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// attemptTimeouts gives each fetch attempt an increasing budget.
var attemptTimeouts = []time.Duration{10 * time.Second, 15 * time.Second, 15 * time.Second}

type cacheEntry struct {
	unix      int64
	estimated bool
}

// Resolver caches block timestamps for the lifetime of one analysis run.
// Entries are never evicted and never re-validated: resolving the same block
// twice returns identical results without a second remote call.
type Resolver struct {
	mu     sync.Mutex
	cache  map[uint64]cacheEntry
	client HeaderSource

	blockTime int64 // seconds per block for estimation

	// last observed head, used as the extrapolation anchor when the live
	// head fetch fails too
	headNum  uint64
	headTime int64
	headSet  bool

	logger *zap.Logger
}

// NewResolver creates a per-run resolver. blockTime is the per-network block
// time in seconds.
func NewResolver(client HeaderSource, blockTime int64, logger *zap.Logger) *Resolver {
	return &Resolver{
		cache:     make(map[uint64]cacheEntry),
		client:    client,
		blockTime: blockTime,
		logger:    logger.Named("blocks"),
	}
}

// SeedHead primes the extrapolation anchor, typically with the head block
// the orchestrator already fetched when determining the scan range.
func (r *Resolver) SeedHead(number uint64, unix int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.headSet || number > r.headNum {
		r.headNum = number
		r.headTime = unix
		r.headSet = true
	}
}

// Resolve returns the unix timestamp of a block and whether it was estimated.
// It never returns an error; exhausted retries degrade to extrapolation.
func (r *Resolver) Resolve(ctx context.Context, number uint64) (int64, bool) {
	r.mu.Lock()
	if entry, ok := r.cache[number]; ok {
		r.mu.Unlock()
		return entry.unix, entry.estimated
	}
	r.mu.Unlock()

	for attempt, timeout := range attemptTimeouts {
		if ctx.Err() != nil {
			break
		}

		unix, err := r.fetchBlockTime(ctx, number, timeout)
		if err == nil {
			r.store(number, unix, false)
			return unix, false
		}

		r.logger.Debug("Block fetch attempt failed",
			zap.Uint64("block", number),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	unix := r.estimate(ctx, number)
	r.store(number, unix, true)
	return unix, true
}

func (r *Resolver) fetchBlockTime(ctx context.Context, number uint64, timeout time.Duration) (int64, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header, err := r.client.HeaderByNumber(fetchCtx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}
	r.observeHead(header.Number.Uint64(), int64(header.Time))
	return int64(header.Time), nil
}

// estimate extrapolates a timestamp from the best head anchor available:
// the live head if reachable, otherwise the last observed head, otherwise
// wall clock with the requested block assumed near-head.
func (r *Resolver) estimate(ctx context.Context, number uint64) int64 {
	headNum, headTime := r.headAnchor(ctx, number)

	var unix int64
	if number <= headNum {
		unix = headTime - int64(headNum-number)*r.blockTime
	} else {
		unix = headTime + int64(number-headNum)*r.blockTime
	}

	r.logger.Debug("Estimated block timestamp",
		zap.Uint64("block", number),
		zap.Uint64("head", headNum),
		zap.Int64("timestamp", unix))
	return unix
}

func (r *Resolver) headAnchor(ctx context.Context, number uint64) (uint64, int64) {
	fetchCtx, cancel := context.WithTimeout(ctx, attemptTimeouts[0])
	defer cancel()

	if header, err := r.client.HeaderByNumber(fetchCtx, nil); err == nil {
		r.observeHead(header.Number.Uint64(), int64(header.Time))
		return header.Number.Uint64(), int64(header.Time)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.headSet {
		return r.headNum, r.headTime
	}
	// No ground truth at all: treat the block as current.
	return number, time.Now().Unix()
}

func (r *Resolver) observeHead(number uint64, unix int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.headSet || number > r.headNum {
		r.headNum = number
		r.headTime = unix
		r.headSet = true
	}
}

func (r *Resolver) store(number uint64, unix int64, estimated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Concurrent pre-warm batches may race on the same block; both writes
	// carry equivalent values, last one wins.
	r.cache[number] = cacheEntry{unix: unix, estimated: estimated}
}
