package dex

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/flasharb/types"
)

// Adapter is the uniform quoting and trade-construction contract every venue
// family implements. Quote methods are read-only and must never mutate venue
// state. A single pool's failure degrades to an empty list or zero amount so
// discovery continues; adapters do not propagate per-pool errors.
type Adapter interface {
	// Name returns the venue name used in per-hop venue selectors.
	Name() string

	// Kind returns the venue's pricing family.
	Kind() types.VenueKind

	// FindPools returns the pools on this venue holding both tokens.
	FindPools(ctx context.Context, tokenA, tokenB common.Address) []*types.Pool

	// GetAmountOut quotes amountIn of tokenIn against pool, returning the
	// expected tokenOut amount. Zero means no quote was obtainable.
	GetAmountOut(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *big.Int

	// FindArbitragePaths enumerates paths start -> middle -> end within this
	// venue. A nil middle means direct start -> end paths.
	FindArbitragePaths(ctx context.Context, start common.Address, middle *common.Address, end common.Address) []*types.ArbitragePath

	// SimulatePathSwap runs amountIn through every hop of path and returns
	// the final amount, zero if any hop fails to quote.
	SimulatePathSwap(ctx context.Context, path *types.ArbitragePath, amountIn *big.Int) *big.Int

	// CreateSwapTransaction builds the calldata for a single swap.
	CreateSwapTransaction(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (*SwapCall, error)

	// RouterAddress returns the venue router the execution contract routes
	// this adapter's hops through.
	RouterAddress() common.Address
}

// SwapCall is a ready-to-submit contract invocation for one swap.
type SwapCall struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Reserves is a token pair reserve snapshot.
type Reserves struct {
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint32
}

// SimulatePath is the shared hop loop behind SimulatePathSwap: it threads
// amountIn through each pool of path via a.GetAmountOut, returning zero as
// soon as any hop quotes zero.
func SimulatePath(ctx context.Context, a Adapter, path *types.ArbitragePath, amountIn *big.Int) *big.Int {
	if path == nil || path.Validate() != nil || amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}

	amount := new(big.Int).Set(amountIn)
	for i, pool := range path.Pools {
		amount = a.GetAmountOut(ctx, pool, path.Tokens[i], path.Tokens[i+1], amount)
		if amount == nil || amount.Sign() <= 0 {
			return new(big.Int)
		}
	}
	return amount
}
