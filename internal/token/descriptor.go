// Package token fetches ERC-20 descriptor fields. Individual field failures
// degrade to documented defaults; only a non-contract address is fatal.
package token

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/tokenscope/tokenscope/internal/chain"
	"github.com/tokenscope/tokenscope/internal/diag"
	"github.com/tokenscope/tokenscope/internal/types"
)

// Defaults used when an individual descriptor field cannot be read.
const (
	DefaultName     = "Unknown Token"
	DefaultSymbol   = "???"
	DefaultDecimals = uint8(18)
	DefaultSupply   = "0"
)

const callTimeout = 10 * time.Second

// ContractReadError marks one unreadable descriptor field. It is recovered
// with a default, never surfaced to the caller as a failure.
type ContractReadError struct {
	Field string
	Err   error
}

func (e *ContractReadError) Error() string {
	return fmt.Sprintf("failed to read contract field %s: %v", e.Field, e.Err)
}

func (e *ContractReadError) Unwrap() error {
	return e.Err
}

// ContractCaller is the slice of the chain client the fetcher needs.
type ContractCaller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Fetcher builds token descriptors from on-chain state.
type Fetcher struct {
	client ContractCaller
	diags  *diag.Recorder
	logger *zap.Logger
}

// NewFetcher creates a descriptor fetcher. diags may be nil.
func NewFetcher(client ContractCaller, diags *diag.Recorder, logger *zap.Logger) *Fetcher {
	if diags == nil {
		diags = diag.NewRecorder(nil)
	}
	return &Fetcher{client: client, diags: diags, logger: logger.Named("token")}
}

// Fetch reads name, symbol, decimals and total supply individually. A field
// failure falls back to its default with a warning; an address without
// contract code is a fatal configuration error.
func (f *Fetcher) Fetch(ctx context.Context, network string, address common.Address) (types.TokenDescriptor, error) {
	codeCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	code, err := f.client.CodeAt(codeCtx, address, nil)
	if err != nil {
		return types.TokenDescriptor{}, fmt.Errorf("failed to check contract code at %s: %w", address.Hex(), err)
	}
	if len(code) == 0 {
		return types.TokenDescriptor{}, &chain.ConfigurationError{
			Network: network,
			Address: address.Hex(),
			Reason:  "address is not a contract",
		}
	}

	desc := types.TokenDescriptor{
		Address:     address.Hex(),
		Name:        DefaultName,
		Symbol:      DefaultSymbol,
		Decimals:    DefaultDecimals,
		TotalSupply: DefaultSupply,
		Compliant:   true,
		Network:     network,
	}

	if name, err := f.callString(ctx, address, "name"); err != nil {
		f.fieldFailed(&desc, "name", err)
	} else {
		desc.Name = name
	}

	if symbol, err := f.callString(ctx, address, "symbol"); err != nil {
		f.fieldFailed(&desc, "symbol", err)
	} else {
		desc.Symbol = symbol
	}

	if decimals, err := f.callUint8(ctx, address, "decimals"); err != nil {
		f.fieldFailed(&desc, "decimals", err)
	} else {
		desc.Decimals = decimals
	}

	if supply, err := f.callBigInt(ctx, address, "totalSupply"); err != nil {
		f.fieldFailed(&desc, "totalSupply", err)
	} else {
		desc.TotalSupply = supply.String()
	}

	return desc, nil
}

func (f *Fetcher) fieldFailed(desc *types.TokenDescriptor, field string, err error) {
	desc.Compliant = false
	readErr := &ContractReadError{Field: field, Err: err}
	f.logger.Warn("Descriptor field unreadable, using default",
		zap.String("address", desc.Address),
		zap.String("field", field),
		zap.Error(err))
	f.diags.Warn(diag.StageDescriptor, readErr.Error(), map[string]string{
		"address": desc.Address,
		"field":   field,
	})
}

func (f *Fetcher) call(ctx context.Context, address common.Address, method string) ([]interface{}, error) {
	input, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	output, err := f.client.CallContract(callCtx, ethereum.CallMsg{To: &address, Data: input}, nil)
	if err != nil {
		return nil, err
	}

	values, err := erc20ABI.Unpack(method, output)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty %s return data", method)
	}
	return values, nil
}

func (f *Fetcher) callString(ctx context.Context, address common.Address, method string) (string, error) {
	values, err := f.call(ctx, address, method)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s return type %T", method, values[0])
	}
	return s, nil
}

func (f *Fetcher) callUint8(ctx context.Context, address common.Address, method string) (uint8, error) {
	values, err := f.call(ctx, address, method)
	if err != nil {
		return 0, err
	}
	n, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected %s return type %T", method, values[0])
	}
	return n, nil
}

func (f *Fetcher) callBigInt(ctx context.Context, address common.Address, method string) (*big.Int, error) {
	values, err := f.call(ctx, address, method)
	if err != nil {
		return nil, err
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s return type %T", method, values[0])
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative %s value", method)
	}
	return n, nil
}
