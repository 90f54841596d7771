// Package scan collects ERC-20 transfer logs over a block range. The range
// is split into chunks scanned strictly in order; a failing chunk is skipped
// and recorded as a diagnostic so the pipeline keeps whatever it can get.
package scan

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokenscope/tokenscope/internal/classify"
	"github.com/tokenscope/tokenscope/internal/diag"
	"github.com/tokenscope/tokenscope/internal/types"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DefaultChunkTimeout bounds each chunk query.
const DefaultChunkTimeout = 20 * time.Second

// LogSource is the slice of the chain client the retriever needs.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
}

// BlockTimestamper resolves block numbers to timestamps without failing.
type BlockTimestamper interface {
	Resolve(ctx context.Context, number uint64) (int64, bool)
}

// Retriever scans a block range for transfer logs and converts them into
// transfer records.
type Retriever struct {
	client       LogSource
	resolver     BlockTimestamper
	chunkSize    uint64
	maxEvents    int
	batchSize    int
	chunkTimeout time.Duration
	diags        *diag.Recorder
	logger       *zap.Logger
}

// RetrieverOptions configures a Retriever. Zero values fall back to the
// configured defaults.
type RetrieverOptions struct {
	Client       LogSource
	Resolver     BlockTimestamper
	ChunkSize    uint64
	MaxEvents    int
	BatchSize    int
	ChunkTimeout time.Duration
	Diags        *diag.Recorder
	Logger       *zap.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(opts RetrieverOptions) *Retriever {
	r := &Retriever{
		client:       opts.Client,
		resolver:     opts.Resolver,
		chunkSize:    opts.ChunkSize,
		maxEvents:    opts.MaxEvents,
		batchSize:    opts.BatchSize,
		chunkTimeout: opts.ChunkTimeout,
		diags:        opts.Diags,
		logger:       opts.Logger.Named("scan"),
	}
	if r.chunkSize == 0 {
		r.chunkSize = 10_000
	}
	if r.maxEvents <= 0 {
		r.maxEvents = 2_000
	}
	if r.batchSize <= 0 {
		r.batchSize = 20
	}
	if r.chunkTimeout <= 0 {
		r.chunkTimeout = DefaultChunkTimeout
	}
	if r.diags == nil {
		r.diags = diag.NewRecorder(nil)
	}
	return r
}

// FetchLogs scans [from, to] for transfer events of the token, chunk by
// chunk. Chunk failures are skipped with a diagnostic; collection stops
// early once maxEvents is reached. The returned list may therefore be
// incomplete relative to the requested range.
func (r *Retriever) FetchLogs(ctx context.Context, token common.Address, from, to uint64) ([]ethtypes.Log, error) {
	if from > to {
		return nil, fmt.Errorf("invalid block range: %d > %d", from, to)
	}

	var collected []ethtypes.Log
	for _, chunk := range Chunks(from, to, r.chunkSize) {
		if ctx.Err() != nil {
			return collected, ctx.Err()
		}

		logs, err := r.fetchChunk(ctx, token, chunk)
		if err != nil {
			r.logger.Warn("Chunk query failed, skipping",
				zap.Uint64("from", chunk.From),
				zap.Uint64("to", chunk.To),
				zap.Error(err))
			r.diags.Warn(diag.StageScan, "chunk query failed, range skipped", map[string]string{
				"from_block": fmt.Sprintf("%d", chunk.From),
				"to_block":   fmt.Sprintf("%d", chunk.To),
				"error":      err.Error(),
			})
			continue
		}

		collected = append(collected, logs...)
		if len(collected) >= r.maxEvents {
			collected = collected[:r.maxEvents]
			r.logger.Info("Event cap reached, stopping scan early",
				zap.Int("events", len(collected)),
				zap.Uint64("stopped_at", chunk.To))
			r.diags.Info(diag.StageScan, "event cap reached, scan stopped early", map[string]string{
				"events":     fmt.Sprintf("%d", len(collected)),
				"stopped_at": fmt.Sprintf("%d", chunk.To),
			})
			break
		}
	}

	return collected, nil
}

func (r *Retriever) fetchChunk(ctx context.Context, token common.Address, chunk Chunk) ([]ethtypes.Log, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, r.chunkTimeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(chunk.From),
		ToBlock:   new(big.Int).SetUint64(chunk.To),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{TransferTopic}},
	}
	return r.client.FilterLogs(chunkCtx, query)
}

// BuildTransfers pre-warms block timestamps for the distinct blocks behind
// the logs, then converts each log into a transfer record classified
// against totalSupply. Malformed logs are dropped.
func (r *Retriever) BuildTransfers(ctx context.Context, logs []ethtypes.Log, totalSupply string) []types.Transfer {
	r.prewarm(ctx, logs)

	transfers := make([]types.Transfer, 0, len(logs))
	for _, lg := range logs {
		transfer, ok := r.toTransfer(ctx, lg, totalSupply)
		if !ok {
			continue
		}
		transfers = append(transfers, transfer)
	}
	return transfers
}

// prewarm resolves the union of distinct block numbers in sequential
// batches, each batch running up to batchSize resolutions concurrently.
// This amortizes resolver calls when many events share a block.
func (r *Retriever) prewarm(ctx context.Context, logs []ethtypes.Log) {
	seen := make(map[uint64]struct{}, len(logs))
	numbers := make([]uint64, 0, len(logs))
	for _, lg := range logs {
		if _, dup := seen[lg.BlockNumber]; dup {
			continue
		}
		seen[lg.BlockNumber] = struct{}{}
		numbers = append(numbers, lg.BlockNumber)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	for start := 0; start < len(numbers); start += r.batchSize {
		end := start + r.batchSize
		if end > len(numbers) {
			end = len(numbers)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for _, number := range numbers[start:end] {
			g.Go(func() error {
				r.resolver.Resolve(gCtx, number)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

func (r *Retriever) toTransfer(ctx context.Context, lg ethtypes.Log, totalSupply string) (types.Transfer, bool) {
	// Transfer(address indexed from, address indexed to, uint256 value)
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return types.Transfer{}, false
	}

	amount := new(big.Int).SetBytes(lg.Data).String()
	unix, estimated := r.resolver.Resolve(ctx, lg.BlockNumber)

	return types.Transfer{
		TxHash:             lg.TxHash.Hex(),
		From:               common.BytesToAddress(lg.Topics[1].Bytes()[12:]).Hex(),
		To:                 common.BytesToAddress(lg.Topics[2].Bytes()[12:]).Hex(),
		Amount:             amount,
		Timestamp:          unix,
		TimestampEstimated: estimated,
		Large:              classify.IsLarge(amount, totalSupply),
	}, true
}
