// Package analyzer sequences one token analysis run: connect, fetch the
// descriptor, derive market metrics, scan transfers, resolve timestamps and
// assemble the result. Only the connect and descriptor stages can fail the
// run; every later stage degrades to a partial result instead.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tokenscope/tokenscope/internal/blocks"
	"github.com/tokenscope/tokenscope/internal/chain"
	"github.com/tokenscope/tokenscope/internal/config"
	"github.com/tokenscope/tokenscope/internal/diag"
	"github.com/tokenscope/tokenscope/internal/market"
	"github.com/tokenscope/tokenscope/internal/scan"
	"github.com/tokenscope/tokenscope/internal/token"
	"github.com/tokenscope/tokenscope/internal/types"
)

// State is the observable pipeline stage.
type State string

const (
	StateIdle                      State = "idle"
	StateConnecting                State = "connecting"
	StateFetchingDescriptor        State = "fetching_descriptor"
	StateComputingMarketMetrics    State = "computing_market_metrics"
	StateDeterminingRange          State = "determining_range"
	StateRetrievingTransfers       State = "retrieving_transfers"
	StateResolvingBlocks           State = "resolving_blocks"
	StateClassifyingAndAggregating State = "classifying_and_aggregating"
	StateDone                      State = "done"
	StateFailed                    State = "failed"
)

const (
	connectAttempts     = 3
	connectBackoffDelay = 1 * time.Second
	headFetchTimeout    = 10 * time.Second
)

// Analyzer runs the analysis pipeline. The selector (and its endpoint
// memory) is shared across runs; block caches are created per run.
type Analyzer struct {
	cfg      *config.Config
	selector *chain.Selector
	strategy market.OffMarketStrategy
	bus      *diag.Bus
	logger   *zap.Logger

	mu    sync.Mutex
	state State
}

// Options for creating an Analyzer.
type Options struct {
	Config   *config.Config
	Selector *chain.Selector
	Strategy market.OffMarketStrategy // nil selects the deterministic default
	Bus      *diag.Bus                // nil disables event publishing
	Logger   *zap.Logger
}

// New creates an Analyzer.
func New(opts Options) *Analyzer {
	return &Analyzer{
		cfg:      opts.Config,
		selector: opts.Selector,
		strategy: opts.Strategy,
		bus:      opts.Bus,
		logger:   opts.Logger.Named("analyzer"),
		state:    StateIdle,
	}
}

// State returns the current pipeline state.
func (a *Analyzer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Analyze runs one full analysis and returns an immutable snapshot.
func (a *Analyzer) Analyze(ctx context.Context, req types.Request) (*types.TokenMetrics, error) {
	diags := diag.NewRecorder(a.bus)
	calc := market.NewCalculator(a.strategy, a.logger)

	a.setState(StateConnecting)
	client, err := a.connect(ctx, req.Network)
	if err != nil {
		return nil, a.fail(diags, diag.StageConnect, err)
	}
	defer client.Close()

	a.setState(StateFetchingDescriptor)
	if !common.IsHexAddress(req.Address) {
		err := &chain.ConfigurationError{Network: req.Network, Address: req.Address, Reason: "invalid token address"}
		return nil, a.fail(diags, diag.StageDescriptor, err)
	}
	address := common.HexToAddress(req.Address)

	fetcher := token.NewFetcher(client, diags, a.logger)
	desc, err := fetcher.Fetch(ctx, req.Network, address)
	if err != nil {
		return nil, a.fail(diags, diag.StageDescriptor, err)
	}

	var metrics *types.MarketMetrics
	if req.ReferencePrice > 0 {
		a.setState(StateComputingMarketMetrics)
		metrics = calc.Compute(desc, req.ReferencePrice)
	}

	a.setState(StateDeterminingRange)
	fromBlock, toBlock, scannable := a.determineRange(ctx, client, req, diags)

	var transfers []types.Transfer
	if scannable {
		resolver := blocks.NewResolver(client, a.cfg.BlockTime(req.Network), a.logger)
		resolver.SeedHead(toBlock, time.Now().Unix())

		retriever := scan.NewRetriever(scan.RetrieverOptions{
			Client:    client,
			Resolver:  resolver,
			ChunkSize: a.cfg.Scan.ChunkSize,
			MaxEvents: a.cfg.Scan.MaxEvents,
			BatchSize: a.cfg.Scan.BatchSize,
			Diags:     diags,
			Logger:    a.logger,
		})

		a.setState(StateRetrievingTransfers)
		logs, err := retriever.FetchLogs(ctx, address, fromBlock, toBlock)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}

		a.setState(StateResolvingBlocks)
		transfers = retriever.BuildTransfers(ctx, logs, desc.TotalSupply)
	}

	a.setState(StateClassifyingAndAggregating)
	sort.SliceStable(transfers, func(i, j int) bool {
		return transfers[i].Timestamp > transfers[j].Timestamp
	})

	large := make([]types.Transfer, 0)
	for _, transfer := range transfers {
		if transfer.Large {
			large = append(large, transfer)
		}
	}

	if metrics != nil {
		calc.ApplyOffMarket(metrics, desc, large)
	}

	a.setState(StateDone)
	a.logger.Info("Analysis completed",
		zap.String("token", desc.Address),
		zap.String("network", req.Network),
		zap.Int("transfers", len(transfers)),
		zap.Int("large_transfers", len(large)))

	return &types.TokenMetrics{
		Token:          desc,
		Market:         metrics,
		Transfers:      transfers,
		LargeTransfers: large,
		FromBlock:      fromBlock,
		ToBlock:        toBlock,
		GeneratedAt:    time.Now().UTC(),
		Diagnostics:    diags.Events(),
	}, nil
}

// Refresh re-runs the pipeline for a previous request. The endpoint memory
// survives; block caches and all derived figures are rebuilt from scratch.
func (a *Analyzer) Refresh(ctx context.Context, req types.Request) (*types.TokenMetrics, error) {
	return a.Analyze(ctx, req)
}

// connect delegates to the selector with a bounded outer retry. Unknown
// networks are permanent failures and skip the retry loop.
func (a *Analyzer) connect(ctx context.Context, network string) (chain.Client, error) {
	operation := func() (chain.Client, error) {
		client, err := a.selector.Connect(ctx, network)
		if err != nil {
			var cfgErr *chain.ConfigurationError
			if errors.As(err, &cfgErr) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return client, nil
	}

	notify := func(err error, delay time.Duration) {
		a.logger.Warn("Connect attempt failed, retrying",
			zap.String("network", network),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(connectBackoffDelay)),
		backoff.WithMaxTries(connectAttempts),
		backoff.WithNotify(notify))
}

// determineRange computes [max(0, head - blocksPerDay*lookbackDays), head].
// A failed head fetch degrades to an empty scan rather than failing the run.
func (a *Analyzer) determineRange(ctx context.Context, client chain.Client, req types.Request, diags *diag.Recorder) (uint64, uint64, bool) {
	headCtx, cancel := context.WithTimeout(ctx, headFetchTimeout)
	defer cancel()

	head, err := client.BlockNumber(headCtx)
	if err != nil {
		a.logger.Warn("Head fetch failed, skipping transfer scan", zap.Error(err))
		diags.Warn(diag.StageRange, "head block unavailable, transfer scan skipped", map[string]string{
			"error": err.Error(),
		})
		return 0, 0, false
	}

	lookbackDays := req.LookbackDays
	if lookbackDays <= 0 {
		lookbackDays = a.cfg.Scan.LookbackDays
	}

	span := a.cfg.Scan.BlocksPerDay * uint64(lookbackDays)
	fromBlock := uint64(0)
	if head > span {
		fromBlock = head - span
	}
	return fromBlock, head, true
}

func (a *Analyzer) fail(diags *diag.Recorder, stage diag.Stage, err error) error {
	a.setState(StateFailed)
	diags.Error(stage, err.Error(), nil)
	a.logger.Error("Analysis failed", zap.String("stage", string(stage)), zap.Error(err))
	return fmt.Errorf("analysis failed at %s: %w", stage, err)
}

func (a *Analyzer) setState(state State) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	a.logger.Debug("Pipeline state changed", zap.String("state", string(state)))
}
