package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the data-service surface the pipeline depends on. Production
// code talks to an EVM node through it; tests inject stubs.
type Client interface {
	// Endpoint returns the URL this client is connected to.
	Endpoint() string
	// BlockNumber returns the current head block number.
	BlockNumber(ctx context.Context) (uint64, error)
	// HeaderByNumber returns the header for the given block, or the head
	// header when number is nil.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	// CodeAt returns the contract code at the given address.
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	// CallContract executes a read-only contract call.
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	// FilterLogs queries event logs matching the filter.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	// Close releases the underlying connection.
	Close()
}

// rpcClient backs Client with go-ethereum's ethclient.
type rpcClient struct {
	endpoint string
	ec       *ethclient.Client
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string) (Client, error) {
	ec, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return &rpcClient{endpoint: endpoint, ec: ec}, nil
}

func (c *rpcClient) Endpoint() string {
	return c.endpoint
}

func (c *rpcClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

func (c *rpcClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.ec.HeaderByNumber(ctx, number)
}

func (c *rpcClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.ec.CodeAt(ctx, account, blockNumber)
}

func (c *rpcClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ec.CallContract(ctx, msg, blockNumber)
}

func (c *rpcClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.ec.FilterLogs(ctx, q)
}

func (c *rpcClient) Close() {
	c.ec.Close()
}
