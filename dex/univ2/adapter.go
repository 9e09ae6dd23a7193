// Package univ2 implements the venue adapter for constant-product AMMs
// (Uniswap V2 and its forks). Quotes go through the venue router; a manual
// reserve-math fallback covers router call failures.
package univ2

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/cache"
	"github.com/arbiterlabs/flasharb/dex"
	"github.com/arbiterlabs/flasharb/types"
)

const routerABIJson = `[{
	"constant": true,
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "path", "type": "address[]"}
	],
	"name": "getAmountsOut",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "amountOutMin", "type": "uint256"},
		{"name": "path", "type": "address[]"},
		{"name": "to", "type": "address"},
		{"name": "deadline", "type": "uint256"}
	],
	"name": "swapExactTokensForTokens",
	"outputs": [{"name": "amounts", "type": "uint256[]"}],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

const pairABIJson = `[{
	"constant": true,
	"inputs": [],
	"name": "getReserves",
	"outputs": [
		{"name": "reserve0", "type": "uint112"},
		{"name": "reserve1", "type": "uint112"},
		{"name": "blockTimestampLast", "type": "uint32"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

const (
	defaultFeeBps    = 30
	poolCacheSize    = 4096
	reserveCacheSize = 4096
	reserveTTL       = 3 * time.Second
	swapDeadline     = 2 * time.Minute
)

// ContractCaller is the read-only RPC surface the adapter needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config wires one constant-product venue.
type Config struct {
	Name     string
	Caller   ContractCaller
	Router   common.Address
	Factory  common.Address
	InitCode []byte
	FeeBps   uint32
	// Recipient receives swap output when building standalone swap calldata.
	Recipient common.Address
	Logger    *zap.Logger
	Clock     cache.Clock
}

// Adapter quotes and builds trades for one constant-product venue.
type Adapter struct {
	name      string
	caller    ContractCaller
	router    common.Address
	factory   common.Address
	initCode  []byte
	feeBps    uint32
	recipient common.Address
	logger    *zap.Logger
	now       func() time.Time

	routerABI abi.ABI
	pairABI   abi.ABI

	pools    *cache.TTLCache
	reserves *cache.TTLCache
}

// New creates a constant-product venue adapter.
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
	if cfg.FeeBps == 0 {
		cfg.FeeBps = defaultFeeBps
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	routerABI, err := abi.JSON(strings.NewReader(routerABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}

	pools, err := cache.New(poolCacheSize, 0, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool cache: %w", err)
	}
	reserves, err := cache.New(reserveCacheSize, reserveTTL, cfg.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create reserve cache: %w", err)
	}

	return &Adapter{
		name:      cfg.Name,
		caller:    cfg.Caller,
		router:    cfg.Router,
		factory:   cfg.Factory,
		initCode:  cfg.InitCode,
		feeBps:    cfg.FeeBps,
		recipient: cfg.Recipient,
		logger:    cfg.Logger,
		now:       now,
		routerABI: routerABI,
		pairABI:   pairABI,
		pools:     pools,
		reserves:  reserves,
	}, nil
}

// Name returns the venue name.
func (a *Adapter) Name() string { return a.name }

// Kind returns the constant-product pricing family.
func (a *Adapter) Kind() types.VenueKind { return types.VenueConstantProduct }

// RouterAddress returns the venue router.
func (a *Adapter) RouterAddress() common.Address { return a.router }

// FindPools returns the venue's pool for the pair, if one exists with
// liquidity. Constant-product venues have at most one pool per pair.
func (a *Adapter) FindPools(ctx context.Context, tokenA, tokenB common.Address) []*types.Pool {
	key := cache.PairKey(sortTokens(tokenA, tokenB))
	if cached, ok := a.pools.Get(key); ok {
		return []*types.Pool{cached.(*types.Pool)}
	}

	pairAddr := a.pairFor(tokenA, tokenB)
	if _, _, err := a.fetchReserves(ctx, pairAddr); err != nil {
		a.logger.Debug("pair lookup failed",
			zap.String("venue", a.name),
			zap.String("pair", pairAddr.Hex()),
			zap.Error(err))
		return nil
	}

	t0, t1 := sortTokens(tokenA, tokenB)
	pool := &types.Pool{
		Venue:   a.name,
		Kind:    types.VenueConstantProduct,
		Address: pairAddr,
		Tokens:  []common.Address{t0, t1},
		FeeBps:  a.feeBps,
	}
	a.pools.Set(key, pool)
	return []*types.Pool{pool}
}

// GetAmountOut quotes amountIn via the router's getAmountsOut; if the router
// call fails it falls back to the constant-product formula over cached
// reserves. Returns zero when no quote is obtainable.
func (a *Adapter) GetAmountOut(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *big.Int {
	if pool == nil || amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}

	if out, err := a.routerQuote(ctx, tokenIn, tokenOut, amountIn); err == nil && out.Sign() > 0 {
		return out
	} else if err != nil {
		a.logger.Debug("router quote failed, using reserve math",
			zap.String("venue", a.name),
			zap.Error(err))
	}

	reserveIn, reserveOut, err := a.orientedReserves(ctx, pool, tokenIn)
	if err != nil {
		a.logger.Debug("reserve lookup failed",
			zap.String("venue", a.name),
			zap.String("pool", pool.Address.Hex()),
			zap.Error(err))
		return new(big.Int)
	}

	return AmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps)
}

// FindArbitragePaths enumerates start -> middle -> end paths within this
// venue; a nil middle yields the direct single-hop path.
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
	if len(first) == 0 || len(second) == 0 {
		return nil
	}

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

// CreateSwapTransaction builds swapExactTokensForTokens calldata.
func (a *Adapter) CreateSwapTransaction(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (*dex.SwapCall, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("invalid input amount")
	}
	deadline := big.NewInt(a.now().Add(swapDeadline).Unix())
	data, err := a.routerABI.Pack("swapExactTokensForTokens",
		amountIn,
		minAmountOut,
		[]common.Address{tokenIn, tokenOut},
		a.recipient,
		deadline,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swap calldata: %w", err)
	}
	return &dex.SwapCall{To: a.router, Data: data, Value: new(big.Int)}, nil
}

// routerQuote calls getAmountsOut on the router.
func (a *Adapter) routerQuote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	data, err := a.routerABI.Pack("getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAmountsOut: %w", err)
	}

	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("router call failed: %w", err)
	}

	out, err := a.routerABI.Unpack("getAmountsOut", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getAmountsOut: %w", err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, fmt.Errorf("unexpected getAmountsOut result")
	}
	return amounts[len(amounts)-1], nil
}

// orientedReserves returns (reserveIn, reserveOut) for the given input token.
func (a *Adapter) orientedReserves(ctx context.Context, pool *types.Pool, tokenIn common.Address) (*big.Int, *big.Int, error) {
	r0, r1, err := a.fetchReserves(ctx, pool.Address)
	if err != nil {
		return nil, nil, err
	}
	if len(pool.Tokens) == 2 && tokenIn == pool.Tokens[1] {
		return r1, r0, nil
	}
	return r0, r1, nil
}

// fetchReserves reads the pair's reserves, serving short-TTL snapshots from
// cache to keep one scan tick from hammering the node.
func (a *Adapter) fetchReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	key := cache.PairKey(pair, a.factory)
	if cached, ok := a.reserves.Get(key); ok {
		snap := cached.(*dex.Reserves)
		return snap.Reserve0, snap.Reserve1, nil
	}

	data, err := a.pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack getReserves: %w", err)
	}
	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to call getReserves: %w", err)
	}
	out, err := a.pairABI.Unpack("getReserves", raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack getReserves: %w", err)
	}

	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unexpected getReserves result")
	}
	if r0.Sign() == 0 || r1.Sign() == 0 {
		return nil, nil, fmt.Errorf("pair has no liquidity")
	}

	a.reserves.Set(key, &dex.Reserves{Reserve0: r0, Reserve1: r1})
	return r0, r1, nil
}

// pairFor derives the CREATE2 pair address for two tokens.
func (a *Adapter) pairFor(tokenA, tokenB common.Address) common.Address {
	t0, t1 := sortTokens(tokenA, tokenB)
	salt := crypto.Keccak256(t0.Bytes(), t1.Bytes())
	return common.BytesToAddress(crypto.Keccak256(
		[]byte{0xff}, a.factory.Bytes(), salt, a.initCode,
	))
}

// AmountOut is the constant-product quote with the fee baked in:
// amountIn*(1-fee)*reserveOut / (reserveIn + amountIn*(1-fee)).
func AmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return new(big.Int)
	}
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}

	feeFactor := big.NewInt(10000 - int64(feeBps))
	amountInWithFee := new(big.Int).Mul(amountIn, feeFactor)
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(10000)),
		amountInWithFee,
	)
	return new(big.Int).Div(numerator, denominator)
}

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}
