// Package balancer implements the venue adapter for weighted/invariant-pool
// venues fronted by a vault (Balancer V2 style). The authoritative quote is
// the vault's queryBatchSwap; when it is unavailable a closed-form
// approximation selected by pool kind stands in, and is never treated as
// authoritative for execution.
package balancer

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

	"github.com/arbiterlabs/flasharb/dex"
	"github.com/arbiterlabs/flasharb/types"
)

const vaultABIJson = `[{
	"inputs": [
		{"name": "kind", "type": "uint8"},
		{"components": [
			{"name": "poolId", "type": "bytes32"},
			{"name": "assetInIndex", "type": "uint256"},
			{"name": "assetOutIndex", "type": "uint256"},
			{"name": "amount", "type": "uint256"},
			{"name": "userData", "type": "bytes"}
		], "name": "swaps", "type": "tuple[]"},
		{"name": "assets", "type": "address[]"},
		{"components": [
			{"name": "sender", "type": "address"},
			{"name": "fromInternalBalance", "type": "bool"},
			{"name": "recipient", "type": "address"},
			{"name": "toInternalBalance", "type": "bool"}
		], "name": "funds", "type": "tuple"}
	],
	"name": "queryBatchSwap",
	"outputs": [{"name": "assetDeltas", "type": "int256[]"}],
	"stateMutability": "nonpayable",
	"type": "function"
}, {
	"inputs": [
		{"components": [
			{"name": "poolId", "type": "bytes32"},
			{"name": "kind", "type": "uint8"},
			{"name": "assetIn", "type": "address"},
			{"name": "assetOut", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "userData", "type": "bytes"}
		], "name": "singleSwap", "type": "tuple"},
		{"components": [
			{"name": "sender", "type": "address"},
			{"name": "fromInternalBalance", "type": "bool"},
			{"name": "recipient", "type": "address"},
			{"name": "toInternalBalance", "type": "bool"}
		], "name": "funds", "type": "tuple"},
		{"name": "limit", "type": "uint256"},
		{"name": "deadline", "type": "uint256"}
	],
	"name": "swap",
	"outputs": [{"name": "amountCalculated", "type": "uint256"}],
	"stateMutability": "payable",
	"type": "function"
}]`

const (
	swapKindGivenIn = 0
	swapDeadline    = 2 * time.Minute

	defaultFeeBps = 30
	// unknownPoolDiscountBps is the conservative flat haircut applied when a
	// pool's kind is not recognized. Logged as an estimate only.
	unknownPoolDiscountBps = 1000
)

// ContractCaller is the read-only RPC surface the adapter needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config wires one vault-based weighted/invariant venue.
type Config struct {
	Name   string
	Caller ContractCaller
	Vault  common.Address
	// Pools are the registered vault pools the adapter trades; vault venues
	// have no on-chain pair->pool derivation, so registration comes from
	// configuration.
	Pools     []*types.Pool
	Recipient common.Address
	Logger    *zap.Logger
}

// Adapter quotes and builds trades for one vault-based venue.
type Adapter struct {
	name      string
	caller    ContractCaller
	vault     common.Address
	pools     []*types.Pool
	recipient common.Address
	logger    *zap.Logger
	now       func() time.Time

	vaultABI abi.ABI
}

type batchSwapStep struct {
	PoolId        [32]byte
	AssetInIndex  *big.Int
	AssetOutIndex *big.Int
	Amount        *big.Int
	UserData      []byte
}

type fundManagement struct {
	Sender              common.Address
	FromInternalBalance bool
	Recipient           common.Address
	ToInternalBalance   bool
}

type singleSwap struct {
	PoolId   [32]byte
	Kind     uint8
	AssetIn  common.Address
	AssetOut common.Address
	Amount   *big.Int
	UserData []byte
}

// New creates a vault venue adapter.
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

	vaultABI, err := abi.JSON(strings.NewReader(vaultABIJson))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vault ABI: %w", err)
	}

	return &Adapter{
		name:      cfg.Name,
		caller:    cfg.Caller,
		vault:     cfg.Vault,
		pools:     cfg.Pools,
		recipient: cfg.Recipient,
		logger:    cfg.Logger,
		now:       time.Now,
		vaultABI:  vaultABI,
	}, nil
}

// Name returns the venue name.
func (a *Adapter) Name() string { return a.name }

// Kind returns the weighted-pool pricing family.
func (a *Adapter) Kind() types.VenueKind { return types.VenueWeightedPool }

// RouterAddress returns the vault, which doubles as the venue router.
func (a *Adapter) RouterAddress() common.Address { return a.vault }

// FindPools returns every registered pool holding both tokens.
func (a *Adapter) FindPools(_ context.Context, tokenA, tokenB common.Address) []*types.Pool {
	var found []*types.Pool
	for _, p := range a.pools {
		if holdsToken(p, tokenA) && holdsToken(p, tokenB) {
			found = append(found, p)
		}
	}
	return found
}

// GetAmountOut quotes via queryBatchSwap; on failure it falls back to the
// closed-form approximation for the pool's kind.
func (a *Adapter) GetAmountOut(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *big.Int {
	if pool == nil || amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}

	if out, err := a.queryBatchSwap(ctx, pool, tokenIn, tokenOut, amountIn); err == nil && out.Sign() > 0 {
		return out
	} else if err != nil {
		a.logger.Debug("queryBatchSwap failed, using closed-form approximation",
			zap.String("venue", a.name),
			zap.Error(err))
	}

	return a.approximate(pool, amountIn)
}

// FindArbitragePaths enumerates start -> middle -> end paths over registered
// pools; a nil middle yields direct single-hop paths.
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

// CreateSwapTransaction builds vault swap calldata for a single pool.
func (a *Adapter) CreateSwapTransaction(_ context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int) (*dex.SwapCall, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("invalid input amount")
	}

	data, err := a.vaultABI.Pack("swap",
		singleSwap{
			PoolId:   pool.PoolID,
			Kind:     swapKindGivenIn,
			AssetIn:  tokenIn,
			AssetOut: tokenOut,
			Amount:   amountIn,
			UserData: []byte{},
		},
		fundManagement{
			Sender:    a.recipient,
			Recipient: a.recipient,
		},
		minAmountOut,
		big.NewInt(a.now().Add(swapDeadline).Unix()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack vault swap: %w", err)
	}
	return &dex.SwapCall{To: a.vault, Data: data, Value: new(big.Int)}, nil
}

// queryBatchSwap runs the vault's authoritative batch quote for one step.
func (a *Adapter) queryBatchSwap(ctx context.Context, pool *types.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	assets := []common.Address{tokenIn, tokenOut}
	data, err := a.vaultABI.Pack("queryBatchSwap",
		uint8(swapKindGivenIn),
		[]batchSwapStep{{
			PoolId:        pool.PoolID,
			AssetInIndex:  big.NewInt(0),
			AssetOutIndex: big.NewInt(1),
			Amount:        amountIn,
			UserData:      []byte{},
		}},
		assets,
		fundManagement{Sender: a.recipient, Recipient: a.recipient},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack queryBatchSwap: %w", err)
	}

	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.vault, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("vault call failed: %w", err)
	}

	out, err := a.vaultABI.Unpack("queryBatchSwap", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack queryBatchSwap: %w", err)
	}
	deltas, ok := out[0].([]*big.Int)
	if !ok || len(deltas) != 2 {
		return nil, fmt.Errorf("unexpected queryBatchSwap result")
	}

	// The vault reports deltas from its own perspective: the output asset's
	// delta is negative.
	return new(big.Int).Neg(deltas[1]), nil
}

// approximate is the closed-form fallback selected by pool kind.
func (a *Adapter) approximate(pool *types.Pool, amountIn *big.Int) *big.Int {
	feeBps := pool.FeeBps
	if feeBps == 0 {
		feeBps = defaultFeeBps
	}

	switch pool.PoolKind {
	case types.PoolKindWeighted:
		if pool.WeightIn == nil || pool.WeightOut == nil || pool.WeightIn.Sign() <= 0 {
			return new(big.Int)
		}
		// amountIn * (weightOut/weightIn) * (1 - fee)
		out := new(big.Int).Mul(amountIn, pool.WeightOut)
		out.Div(out, pool.WeightIn)
		return applyFee(out, feeBps)

	case types.PoolKindStable:
		// Stable pools trade near parity: amountIn * (1 - fee).
		return applyFee(amountIn, feeBps)

	default:
		a.logger.Warn("unknown pool kind, applying flat discount estimate",
			zap.String("venue", a.name),
			zap.String("pool", pool.Address.Hex()))
		return applyFee(amountIn, unknownPoolDiscountBps)
	}
}

func applyFee(amount *big.Int, feeBps uint32) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(10000-int64(feeBps)))
	return out.Div(out, big.NewInt(10000))
}

func holdsToken(p *types.Pool, token common.Address) bool {
	for _, t := range p.Tokens {
		if t == token {
			return true
		}
	}
	return false
}
