package bot

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/config"
	"github.com/arbiterlabs/flasharb/gas"
	"github.com/arbiterlabs/flasharb/types"
	"github.com/arbiterlabs/flasharb/validator"
)

const (
	balToken  = "0xba100000625a3754423978a60c9317c58a424e3D"
	wethToken = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

func weightedVenue() config.VenueConfig {
	return config.VenueConfig{
		Name:  "balancer",
		Kind:  "weighted-pool",
		Vault: "0xBA12222222228d8Ba445958a75a0704d566BF2C8",
		Pools: []config.PoolConfig{{
			ID:        "0x5c6ee304399dbdb9c8ef030ab642b10820db8f56000200000000000000000014",
			Tokens:    []string{balToken, wethToken},
			Kind:      "weighted",
			FeeBps:    100,
			WeightIn:  "800000000000000000",
			WeightOut: "200000000000000000",
		}, {
			ID:     "0x06df3b2bbb68adc8b0e302443692037ed9f91b42000000000000000000000063",
			Tokens: []string{"0x6B175474E89094C44Da98b954EedeAC495271d0F", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
			Kind:   "stable",
		}},
	}
}

func TestVaultPoolsFromConfig(t *testing.T) {
	pools, err := vaultPools(weightedVenue())
	require.NoError(t, err)
	require.Len(t, pools, 2)

	weighted := pools[0]
	assert.Equal(t, "balancer", weighted.Venue)
	assert.Equal(t, types.VenueWeightedPool, weighted.Kind)
	// The pool contract address is the ID's 20-byte prefix.
	assert.Equal(t, common.HexToAddress("0x5c6ee304399dbdb9c8ef030ab642b10820db8f56"), weighted.Address)
	assert.Equal(t, types.PoolKindWeighted, weighted.PoolKind)
	assert.Equal(t, uint32(100), weighted.FeeBps)
	assert.Equal(t, 0, weighted.WeightIn.Cmp(big.NewInt(8e17)))
	assert.Equal(t, 0, weighted.WeightOut.Cmp(big.NewInt(2e17)))

	stable := pools[1]
	assert.Equal(t, types.PoolKindStable, stable.PoolKind)
	assert.Nil(t, stable.WeightIn)

	_, err = vaultPools(config.VenueConfig{Pools: []config.PoolConfig{{ID: "0x1234"}}})
	assert.Error(t, err)
}

// A weighted-pool venue built from configuration must surface its registered
// pools to the scanner without any on-chain lookup.
func TestBuildAdapterRegistersVaultPools(t *testing.T) {
	adapter, err := buildAdapter(weightedVenue(), nil, common.Address{}, zap.NewNop())
	require.NoError(t, err)

	found := adapter.FindPools(context.Background(), common.HexToAddress(balToken), common.HexToAddress(wethToken))
	require.Len(t, found, 1)
	assert.Equal(t, types.PoolKindWeighted, found[0].PoolKind)
}

type stubChain struct {
	base *big.Int
	tip  *big.Int
}

func (s stubChain) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(1), BaseFee: s.base}, nil
}

func (s stubChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return s.tip, nil
}

// gatedPrices blocks every lookup until `parties` lookups are in flight at
// once, so a serialized validation pass errors out instead of converging.
type gatedPrices struct {
	mu      sync.Mutex
	waiting int
	parties int
	release chan struct{}
}

func (p *gatedPrices) Price(context.Context, string) (float64, error) {
	p.mu.Lock()
	p.waiting++
	if p.waiting == p.parties {
		close(p.release)
	}
	p.mu.Unlock()

	select {
	case <-p.release:
		return 2000, nil
	case <-time.After(2 * time.Second):
		return 0, fmt.Errorf("price lookups never overlapped")
	}
}

func profitableOpportunity() types.ArbitrageOpportunity {
	weth := common.HexToAddress(wethToken)
	bal := common.HexToAddress(balToken)
	return types.ArbitrageOpportunity{
		BorrowToken: weth,
		LoanAmount:  big.NewInt(1e18),
		RawProfit:   big.NewInt(5e16),
		SpreadBps:   500,
		Path: types.ArbitragePath{
			Tokens: []common.Address{weth, bal, weth},
			Pools:  []*types.Pool{{}, {}},
		},
		Venues: []string{"a", "b"},
	}
}

// The top-N validation pass runs its candidates concurrently; execution is a
// separate, serialized step.
func TestValidateAllRunsConcurrently(t *testing.T) {
	prices := &gatedPrices{parties: 3, release: make(chan struct{})}

	v, err := validator.New(validator.Config{
		MinProfitUSD:         1,
		SlippageTolerancePct: 1,
		MinProfitBps:         1,
	}, gas.Default(), nil)
	require.NoError(t, err)

	est := gas.NewEstimator(stubChain{base: big.NewInt(10e9), tip: big.NewInt(2e9)}, nil)
	defer est.Stop()

	cfg := config.DefaultConfig()
	cfg.Gas.MaxGasPrice = nil

	b := &Bot{
		cfg:       cfg,
		validator: v,
		estimator: est,
		prices:    prices,
		baseToken: config.TokenConfig{Symbol: "WETH", Decimals: 18},
		logger:    zap.NewNop(),
	}

	opps := []types.ArbitrageOpportunity{
		profitableOpportunity(), profitableOpportunity(), profitableOpportunity(),
	}
	accepted := b.validateAll(context.Background(), opps)

	require.Len(t, accepted, 3)
	for _, c := range accepted {
		assert.True(t, c.result.Accepted)
		assert.Equal(t, gas.EstimateArbitrageGas(2), c.gasLimit)
	}
}
