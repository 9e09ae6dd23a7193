package scanner

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/flasharb/dex"
	"github.com/arbiterlabs/flasharb/types"
)

var (
	tokenX = common.HexToAddress("0x0000000000000000000000000000000000000001")
	tokenY = common.HexToAddress("0x0000000000000000000000000000000000000002")
	tokenZ = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

type pair struct{ in, out common.Address }

// fakeAdapter quotes from a fixed per-unit rate table, charging feeBps per
// swap, with an optional artificial delay to exercise timeout degradation.
type fakeAdapter struct {
	name   string
	rates  map[pair]*big.Rat
	feeBps int64
	delay  time.Duration
}

func newFakeAdapter(name string, feeBps int64) *fakeAdapter {
	return &fakeAdapter{name: name, rates: make(map[pair]*big.Rat), feeBps: feeBps}
}

func (f *fakeAdapter) setRate(in, out common.Address, num, den int64) {
	f.rates[pair{in, out}] = big.NewRat(num, den)
}

func (f *fakeAdapter) Name() string          { return f.name }
func (f *fakeAdapter) Kind() types.VenueKind { return types.VenueConstantProduct }
func (f *fakeAdapter) RouterAddress() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (f *fakeAdapter) FindPools(_ context.Context, a, b common.Address) []*types.Pool {
	if _, ok := f.rates[pair{a, b}]; !ok {
		if _, ok := f.rates[pair{b, a}]; !ok {
			return nil
		}
	}
	return []*types.Pool{{
		Venue:  f.name,
		Kind:   types.VenueConstantProduct,
		Tokens: []common.Address{a, b},
		FeeBps: uint32(f.feeBps),
	}}
}

func (f *fakeAdapter) GetAmountOut(_ context.Context, _ *types.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *big.Int {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	rate, ok := f.rates[pair{tokenIn, tokenOut}]
	if !ok || amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountIn, rate.Num())
	out.Div(out, rate.Denom())
	out.Mul(out, big.NewInt(10000-f.feeBps))
	out.Div(out, big.NewInt(10000))
	return out
}

func (f *fakeAdapter) FindArbitragePaths(ctx context.Context, start common.Address, middle *common.Address, end common.Address) []*types.ArbitragePath {
	if middle == nil {
		pools := f.FindPools(ctx, start, end)
		if len(pools) == 0 {
			return nil
		}
		return []*types.ArbitragePath{{Tokens: []common.Address{start, end}, Pools: pools}}
	}
	first := f.FindPools(ctx, start, *middle)
	second := f.FindPools(ctx, *middle, end)
	if len(first) == 0 || len(second) == 0 {
		return nil
	}
	return []*types.ArbitragePath{{
		Tokens: []common.Address{start, *middle, end},
		Pools:  []*types.Pool{first[0], second[0]},
	}}
}

func (f *fakeAdapter) SimulatePathSwap(ctx context.Context, path *types.ArbitragePath, amountIn *big.Int) *big.Int {
	return dex.SimulatePath(ctx, f, path, amountIn)
}

func (f *fakeAdapter) CreateSwapTransaction(_ context.Context, _ *types.Pool, _, _ common.Address, _, _ *big.Int) (*dex.SwapCall, error) {
	return &dex.SwapCall{}, nil
}

// Scenario: venue A prices 1 X at 2000 Y, venue B at 2100 Y. Buying Y on the
// cheap venue and selling on the rich one must surface a candidate whose
// profit tracks the ~5% spread minus round-trip fees.
func TestScanDirectSurfacesSpread(t *testing.T) {
	cheap := newFakeAdapter("venue-cheap", 30)
	cheap.setRate(tokenX, tokenY, 2000, 1)
	cheap.setRate(tokenY, tokenX, 1, 2000)

	rich := newFakeAdapter("venue-rich", 30)
	rich.setRate(tokenX, tokenY, 2100, 1)
	rich.setRate(tokenY, tokenX, 1, 2100)

	s := New([]dex.Adapter{cheap, rich}, Config{}, nil)

	oneToken := big.NewInt(1e18)
	opps := s.ScanDirect(context.Background(), tokenX, tokenY, oneToken)
	require.NotEmpty(t, opps, "the spread must surface at least one candidate")

	best := s.TopCandidates(opps)[0]
	assert.True(t, best.RawProfit.Sign() > 0)

	// 5% spread minus two 0.3% fees: roughly 4.4%.
	assert.InDelta(t, 440, best.SpreadBps, 30)

	// The loop buys Y where a unit of X fetches more (2100) and sells it
	// back where Y is dearer (2000 per X).
	assert.Equal(t, []string{"venue-rich", "venue-cheap"}, best.Venues)
}

func TestScanDirectNoOpportunityAtParity(t *testing.T) {
	a := newFakeAdapter("a", 30)
	a.setRate(tokenX, tokenY, 2000, 1)
	a.setRate(tokenY, tokenX, 1, 2000)

	b := newFakeAdapter("b", 30)
	b.setRate(tokenX, tokenY, 2000, 1)
	b.setRate(tokenY, tokenX, 1, 2000)

	s := New([]dex.Adapter{a, b}, Config{}, nil)
	opps := s.ScanDirect(context.Background(), tokenX, tokenY, big.NewInt(1e18))
	assert.Empty(t, opps, "identical pricing cannot beat round-trip fees")
}

// Scenario: three hops each charging 0.3%, reserves implying a 5% round-trip
// mismatch. Simulated output must be close to input * 1.05 * 0.997^3.
func TestTriangleSimulationMatchesClosedForm(t *testing.T) {
	v := newFakeAdapter("venue", 30)
	// Rates multiply to 1.05 around the loop X -> Y -> Z -> X.
	v.setRate(tokenX, tokenY, 2000, 1)
	v.setRate(tokenY, tokenZ, 3, 1)
	v.setRate(tokenZ, tokenX, 105, 2000*3*100)

	path := &types.ArbitragePath{
		Tokens: []common.Address{tokenX, tokenY, tokenZ, tokenX},
		Pools: []*types.Pool{
			{Venue: "venue", Tokens: []common.Address{tokenX, tokenY}},
			{Venue: "venue", Tokens: []common.Address{tokenY, tokenZ}},
			{Venue: "venue", Tokens: []common.Address{tokenZ, tokenX}},
		},
	}

	input := big.NewInt(1e18)
	out := v.SimulatePathSwap(context.Background(), path, input)
	require.True(t, out.Sign() > 0)

	want := 1e18 * 1.05 * 0.997 * 0.997 * 0.997
	got, _ := new(big.Float).SetInt(out).Float64()
	assert.InEpsilon(t, want, got, 0.001)
}

func TestScanTriangleFindsSingleAndCrossVenue(t *testing.T) {
	// Venue one is mispriced on the way out, venue two on the way back:
	// only the cross-venue combination closes the loop at a profit.
	one := newFakeAdapter("one", 0)
	one.setRate(tokenX, tokenY, 2100, 1)
	one.setRate(tokenY, tokenX, 1, 2100)

	two := newFakeAdapter("two", 0)
	two.setRate(tokenX, tokenY, 2000, 1)
	two.setRate(tokenY, tokenX, 1, 2000)

	s := New([]dex.Adapter{one, two}, Config{}, nil)
	opps := s.ScanTriangle(context.Background(), tokenX, []common.Address{tokenY}, big.NewInt(1e18))
	require.NotEmpty(t, opps)

	for _, opp := range opps {
		require.NoError(t, opp.Path.Validate())
		assert.True(t, opp.Path.IsClosedLoop())
		assert.Equal(t, len(opp.Path.Tokens)-1, len(opp.Venues))
		assert.True(t, opp.RawProfit.Sign() > 0)
	}
}

func TestSlowAdapterDegradesInsteadOfStalling(t *testing.T) {
	slow := newFakeAdapter("slow", 30)
	slow.setRate(tokenX, tokenY, 2000, 1)
	slow.setRate(tokenY, tokenX, 1, 2000)
	slow.delay = 500 * time.Millisecond

	fast := newFakeAdapter("fast", 30)
	fast.setRate(tokenX, tokenY, 2100, 1)
	fast.setRate(tokenY, tokenX, 1, 2100)

	s := New([]dex.Adapter{slow, fast}, Config{QuoteTimeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	opps := s.ScanDirect(context.Background(), tokenX, tokenY, big.NewInt(1e18))
	elapsed := time.Since(start)

	assert.Empty(t, opps, "both directions need the slow venue, so nothing survives")
	assert.Less(t, elapsed, 400*time.Millisecond, "scan must not wait out the slow adapter")
}

func TestTopCandidatesSortsAndCaps(t *testing.T) {
	s := New(nil, Config{TopN: 2}, nil)

	opps := []types.ArbitrageOpportunity{
		{SpreadBps: 50},
		{SpreadBps: 400},
		{SpreadBps: 120},
	}
	top := s.TopCandidates(opps)
	require.Len(t, top, 2)
	assert.Equal(t, int64(400), top[0].SpreadBps)
	assert.Equal(t, int64(120), top[1].SpreadBps)
}

func TestCountersExposedThroughRegistry(t *testing.T) {
	a := newFakeAdapter("a", 0)
	a.setRate(tokenX, tokenY, 2100, 1)
	a.setRate(tokenY, tokenX, 1, 2100)
	b := newFakeAdapter("b", 0)
	b.setRate(tokenX, tokenY, 2000, 1)
	b.setRate(tokenY, tokenX, 1, 2000)

	reg := prometheus.NewRegistry()
	s := New([]dex.Adapter{a, b}, Config{Registerer: reg}, nil)

	opps := s.ScanDirect(context.Background(), tokenX, tokenY, big.NewInt(1e18))
	require.NotEmpty(t, opps)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.scans))
	assert.Equal(t, float64(len(opps)), testutil.ToFloat64(s.metrics.candidates))

	n, err := testutil.GatherAndCount(reg,
		"scanner_scans_total", "scanner_candidates_total", "scanner_degraded_quotes_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPathInvariantsOnDiscoveredCandidates(t *testing.T) {
	a := newFakeAdapter("a", 0)
	a.setRate(tokenX, tokenY, 2100, 1)
	a.setRate(tokenY, tokenX, 1, 2100)
	b := newFakeAdapter("b", 0)
	b.setRate(tokenX, tokenY, 2000, 1)
	b.setRate(tokenY, tokenX, 1, 2000)

	s := New([]dex.Adapter{a, b}, Config{}, nil)
	opps := s.ScanDirect(context.Background(), tokenX, tokenY, big.NewInt(1e18))
	require.NotEmpty(t, opps)

	for _, opp := range opps {
		assert.Equal(t, opp.Path.Tokens[0], opp.Path.Tokens[len(opp.Path.Tokens)-1])
		assert.Equal(t, len(opp.Path.Tokens)-1, len(opp.Venues))
		assert.Equal(t, len(opp.Path.Tokens)-1, len(opp.Path.Pools))
	}
}
