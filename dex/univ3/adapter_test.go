package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/flasharb/types"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	testQuoter  = common.HexToAddress("0x61fFE014bA17989E743c5F6cB21bF9697530B21e")
	testFactory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	testRouter  = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
)

// fakeCaller serves per-tier quotes and factory lookups. Tiers absent from
// quotes behave like missing pools: the call reverts.
type fakeCaller struct {
	quoterABI  abi.ABI
	factoryABI abi.ABI

	quotes map[uint32]*big.Int // tier -> amountOut
	pools  map[uint32]common.Address
}

func newFakeCaller(t *testing.T) *fakeCaller {
	t.Helper()
	quoterABI, err := abi.JSON(strings.NewReader(quoterABIJson))
	require.NoError(t, err)
	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJson))
	require.NoError(t, err)
	return &fakeCaller{
		quoterABI:  quoterABI,
		factoryABI: factoryABI,
		quotes:     make(map[uint32]*big.Int),
		pools:      make(map[uint32]common.Address),
	}
}

// word extracts the n-th 32-byte argument word from calldata.
func word(data []byte, n int) *big.Int {
	return new(big.Int).SetBytes(data[4+32*n : 4+32*(n+1)])
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch {
	case msg.To != nil && *msg.To == testQuoter:
		// quoteExactInputSingle tuple layout: tokenIn, tokenOut, amountIn,
		// fee, sqrtPriceLimitX96 — fee is the fourth word.
		tier := uint32(word(msg.Data, 3).Uint64())
		out, ok := f.quotes[tier]
		if !ok {
			return nil, fmt.Errorf("execution reverted")
		}
		method := f.quoterABI.Methods["quoteExactInputSingle"]
		return method.Outputs.Pack(out, new(big.Int), uint32(0), new(big.Int))

	case msg.To != nil && *msg.To == testFactory:
		// getPool(tokenA, tokenB, fee) — fee is the third word.
		tier := uint32(word(msg.Data, 2).Uint64())
		method := f.factoryABI.Methods["getPool"]
		return method.Outputs.Pack(f.pools[tier])
	}
	return nil, fmt.Errorf("unexpected call target")
}

func poolWithTier(tier uint32) *types.Pool {
	return &types.Pool{
		Venue:   "uniswapv3",
		Kind:    types.VenueConcentratedLiquidity,
		Tokens:  []common.Address{weth, usdc},
		FeeTier: tier,
	}
}

func newTestAdapter(t *testing.T, caller ContractCaller) *Adapter {
	t.Helper()
	a, err := New(Config{
		Name:    "uniswapv3",
		Caller:  caller,
		Router:  testRouter,
		Quoter:  testQuoter,
		Factory: testFactory,
	})
	require.NoError(t, err)
	return a
}

func TestGetAmountOutTakesMaxAcrossTiers(t *testing.T) {
	caller := newFakeCaller(t)
	caller.quotes[500] = big.NewInt(1990)
	caller.quotes[3000] = big.NewInt(2010)
	// Tier 10000 has no pool: reverts, must be skipped silently.
	a := newTestAdapter(t, caller)

	out := a.GetAmountOut(context.Background(), nil, weth, usdc, big.NewInt(1))
	assert.Equal(t, int64(2010), out.Int64())
}

func TestGetAmountOutAllTiersMissing(t *testing.T) {
	caller := newFakeCaller(t)
	a := newTestAdapter(t, caller)

	out := a.GetAmountOut(context.Background(), nil, weth, usdc, big.NewInt(1))
	assert.Equal(t, 0, out.Sign())
}

func TestGetAmountOutPinnedTier(t *testing.T) {
	caller := newFakeCaller(t)
	caller.quotes[500] = big.NewInt(5000)
	caller.quotes[3000] = big.NewInt(100)
	a := newTestAdapter(t, caller)

	pinned := a.GetAmountOut(context.Background(), poolWithTier(3000), weth, usdc, big.NewInt(1))
	assert.Equal(t, int64(100), pinned.Int64(), "pinned tier must not shop other tiers")
}

func TestBestTier(t *testing.T) {
	caller := newFakeCaller(t)
	caller.quotes[500] = big.NewInt(900)
	caller.quotes[10000] = big.NewInt(950)
	a := newTestAdapter(t, caller)

	tier, out := a.BestTier(context.Background(), weth, usdc, big.NewInt(1))
	assert.Equal(t, uint32(10000), tier)
	assert.Equal(t, int64(950), out.Int64())
}

func TestFindPoolsSkipsMissingTiers(t *testing.T) {
	caller := newFakeCaller(t)
	caller.pools[500] = common.HexToAddress("0x0000000000000000000000000000000000000001")
	caller.pools[10000] = common.HexToAddress("0x0000000000000000000000000000000000000002")
	// Tier 3000 resolves to the zero address: no pool.
	a := newTestAdapter(t, caller)

	pools := a.FindPools(context.Background(), weth, usdc)
	require.Len(t, pools, 2)
	tiers := []uint32{pools[0].FeeTier, pools[1].FeeTier}
	assert.ElementsMatch(t, []uint32{500, 10000}, tiers)
}

func TestFindArbitragePathsAcrossTiers(t *testing.T) {
	caller := newFakeCaller(t)
	caller.pools[500] = common.HexToAddress("0x0000000000000000000000000000000000000001")
	caller.pools[3000] = common.HexToAddress("0x0000000000000000000000000000000000000002")
	a := newTestAdapter(t, caller)

	dai := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	paths := a.FindArbitragePaths(context.Background(), weth, &dai, weth)
	// Two tiers per hop, two hops: four tier combinations.
	require.Len(t, paths, 4)
	for _, p := range paths {
		require.NoError(t, p.Validate())
		assert.True(t, p.IsClosedLoop())
	}
}

func TestCreateSwapTransactionUsesPoolTier(t *testing.T) {
	caller := newFakeCaller(t)
	a := newTestAdapter(t, caller)

	call, err := a.CreateSwapTransaction(context.Background(), poolWithTier(500), weth, usdc, big.NewInt(1000), big.NewInt(990))
	require.NoError(t, err)
	assert.Equal(t, testRouter, call.To)
	assert.NotEmpty(t, call.Data)
}
