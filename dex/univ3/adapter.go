// Package univ3 implements the venue adapter for concentrated-liquidity AMMs
// (Uniswap V3 style). Quotes go through the venue's read-only quoter, once per
// supported fee tier; a missing pool at a tier quotes zero and is skipped.
package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/cache"
	"github.com/arbiterlabs/flasharb/dex"
	"github.com/arbiterlabs/flasharb/types"
)

const quoterABIJson = `[{
	"inputs": [{
		"components": [
			{"name": "tokenIn", "type": "address"},
			{"name": "tokenOut", "type": "address"},
			{"name": "amountIn", "type": "uint256"},
			{"name": "fee", "type": "uint24"},
			{"name": "sqrtPriceLimitX96", "type": "uint160"}
		],
		"name": "params",
		"type": "tuple"
	}],
	"name": "quoteExactInputSingle",
	"outputs": [
		{"name": "amountOut", "type": "uint256"},
		{"name": "sqrtPriceX96After", "type": "uint160"},
		{"name": "initializedTicksCrossed", "type": "uint32"},
		{"name": "gasEstimate", "type": "uint256"}
	],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const factoryABIJson = `[{
	"inputs": [
		{"name": "tokenA", "type": "address"},
		{"name": "tokenB", "type": "address"},
		{"name": "fee", "type": "uint24"}
	],
	"name": "getPool",
	"outputs": [{"name": "pool", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}]`

const routerABIJson = `[{
	"inputs": [{
		"components": [
			{"name": "tokenIn", "type": "address"},
			{"name": "tokenOut", "type": "address"},
			{"name": "fee", "type": "uint24"},
			{"name": "recipient", "type": "address"},
			{"name": "deadline", "type": "uint256"},
			{"name": "amountIn", "type": "uint256"},
			{"name": "amountOutMinimum", "type": "uint256"},
			{"name": "sqrtPriceLimitX96", "type": "uint160"}
		],
		"name": "params",
		"type": "tuple"
	}],
	"name": "exactInputSingle",
	"outputs": [{"name": "amountOut", "type": "uint256"}],
	"stateMutability": "payable",
	"type": "function"
}]`

// DefaultFeeTiers are the tiers probed when a pool does not pin one.
var DefaultFeeTiers = []uint32{500, 3000, 10000}

const (
	poolCacheSize = 4096
	swapDeadline  = 2 * time.Minute
)

// ContractCaller is the read-only RPC surface the adapter needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config wires one concentrated-liquidity venue.
type Config struct {
	Name      string
	Caller    ContractCaller
	Router    common.Address
	Quoter    common.Address
	Factory   common.Address
	FeeTiers  []uint32
	Recipient common.Address
	Logger    *zap.Logger
	Clock     cache.Clock
}

// Adapter quotes and builds trades for one concentrated-liquidity venue.
type Adapter struct {
	name      string
	caller    ContractCaller
	router    common.Address
	quoter    common.Address
	factory   common.Address
	feeTiers  []uint32
	recipient common.Address
	logger    *zap.Logger
	now       func() time.Time

	quoterABI  abi.ABI
	factoryABI abi.ABI
	routerABI  abi.ABI

	pools *cache.TTLCache
}

type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// New creates a concentrated-liquidity venue adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("venue name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = DefaultFeeTiers
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	quoterABI, err := abi.JSON(strings.NewReader(quoterABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse quoter ABI: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	routerABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}

	pools, err := cache.New(poolCacheSize, 0, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool cache: %w", err)
	}

	return &Adapter{
		name:       cfg.Name,
		caller:     cfg.Caller,
		router:     cfg.Router,
		quoter:     cfg.Quoter,
		factory:    cfg.Factory,
		feeTiers:   cfg.FeeTiers,
		recipient:  cfg.Recipient,
		logger:     cfg.Logger,
		now:        now,
		quoterABI:  quoterABI,
		factoryABI: factoryABI,
		routerABI:  routerABI,
		pools:      pools,
	}, nil
}

// Name returns the venue name.
func (a *Adapter) Name() string { return a.name }

// Kind returns the concentrated-liquidity pricing family.
func (a *Adapter) Kind() types.VenueKind { return types.VenueConcentratedLiquidity }

// RouterAddress returns the venue's swap router.
func (a *Adapter) RouterAddress() common.Address { return a.router }

// FindPools probes the factory once per fee tier and returns every pool that
// exists for the pair. Missing tiers are skipped, not errors.
func (a *Adapter) FindPools(ctx context.Context, tokenA, tokenB common.Address) []*types.Pool {
	key := cache.PairKey(tokenA, tokenB)
	if cached, ok := a.pools.Get(key); ok {
		return cached.([]*types.Pool)
	}

	var pools []*types.Pool
	for _, tier := range a.feeTiers {
		addr, err := a.poolAt(ctx, tokenA, tokenB, tier)
		if err != nil {
			a.logger.Debug("factory getPool failed",
				zap.String("venue", a.name),
				zap.Uint32("tier", tier),
				zap.Error(err))
			continue
		}
		if addr == (common.Address{}) {
			continue
		}
		pools = append(pools, &types.Pool{
			Venue:   a.name,
			Kind:    types.VenueConcentratedLiquidity,
			Address: addr,
			Tokens:  []common.Address{tokenA, tokenB},
			FeeTier: tier,
		})
	}

	if len(pools) > 0 {
		a.pools.Set(key, pools)
	}
	return pools
}

// GetAmountOut quotes via the read-only quoter. A pool with a pinned fee tier
// is quoted at that tier; an unpinned pool is quoted once per supported tier
// and the maximum non-zero result wins.
func (a *Adapter) GetAmountOut(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}

	tiers := a.feeTiers
	if pool != nil && pool.FeeTier != 0 {
		tiers = []uint32{pool.FeeTier}
	}

	best := new(big.Int)
	for _, tier := range tiers {
		out, err := a.quoteTier(ctx, tokenIn, tokenOut, amountIn, tier)
		if err != nil {
			// No pool at this tier, or the quote reverted. Skip.
			a.logger.Debug("quoter call failed",
				zap.String("venue", a.name),
				zap.Uint32("tier", tier),
				zap.Error(err))
			continue
		}
		if out.Cmp(best) > 0 {
			best = out
		}
	}
	return best
}

// BestTier quotes every supported tier and returns the winning tier together
// with its amount out. Zero tier means no tier produced a quote.
func (a *Adapter) BestTier(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (uint32, *big.Int) {
	var bestTier uint32
	best := new(big.Int)
	for _, tier := range a.feeTiers {
		out, err := a.quoteTier(ctx, tokenIn, tokenOut, amountIn, tier)
		if err != nil {
			continue
		}
		if out.Cmp(best) > 0 {
			best = out
			bestTier = tier
		}
	}
	return bestTier, best
}

// FindArbitragePaths enumerates start -> middle -> end paths across tiers.
func (a *Adapter) FindArbitragePaths(ctx context.Context, start common.Address, middle *common.Address, end common.Address) []*types.ArbitragePath {
	if middle == nil {
		pools := a.FindPools(ctx, start, end)
		paths := make([]*types.ArbitragePath, 0, len(pools))
		for _, p := range pools {
			paths = append(paths, &types.ArbitragePath{
				Tokens: []common.Address{start, end},
				Pools:  []*types.Pool{p},
			})
		}
		return paths
	}

	first := a.FindPools(ctx, start, *middle)
	second := a.FindPools(ctx, *middle, end)
	var paths []*types.ArbitragePath
	for _, p1 := range first {
		for _, p2 := range second {
			paths = append(paths, &types.ArbitragePath{
				Tokens: []common.Address{start, *middle, end},
				Pools:  []*types.Pool{p1, p2},
			})
		}
	}
	return paths
}

// SimulatePathSwap threads amountIn through every hop of path.
func (a *Adapter) SimulatePathSwap(ctx context.Context, path *types.ArbitragePath, amountIn *big.Int) *big.Int {
	return dex.SimulatePath(ctx, a, path, amountIn)
}

// CreateSwapTransaction builds exactInputSingle calldata at the pool's tier.
func (a *Adapter) CreateSwapTransaction(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (*dex.SwapCall, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("invalid input amount")
	}
	tier := uint32(3000)
	if pool != nil && pool.FeeTier != 0 {
		tier = pool.FeeTier
	}

	data, err := a.routerABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		Fee:               big.NewInt(int64(tier)),
		Recipient:         a.recipient,
		Deadline:          big.NewInt(a.now().Add(swapDeadline).Unix()),
		AmountIn:          amountIn,
		AmountOutMinimum:  minAmountOut,
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack exactInputSingle: %w", err)
	}
	return &dex.SwapCall{To: a.router, Data: data, Value: new(big.Int)}, nil
}

func (a *Adapter) quoteTier(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, tier uint32) (*big.Int, error) {
	data, err := a.quoterABI.Pack("quoteExactInputSingle", quoteParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               big.NewInt(int64(tier)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack quoteExactInputSingle: %w", err)
	}

	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.quoter, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("quoter call failed: %w", err)
	}

	out, err := a.quoterABI.Unpack("quoteExactInputSingle", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack quote: %w", err)
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected quote result")
	}
	return amountOut, nil
}

func (a *Adapter) poolAt(ctx context.Context, tokenA, tokenB common.Address, tier uint32) (common.Address, error) {
	data, err := a.factoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(tier)))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getPool: %w", err)
	}
	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("factory call failed: %w", err)
	}
	out, err := a.factoryABI.Unpack("getPool", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack getPool: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPool result")
	}
	return addr, nil
}
