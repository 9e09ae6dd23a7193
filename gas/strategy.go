package gas

import (
	"math/big"
)

// Strategy maps current network conditions and expected profit to a gas bid.
// Larger opportunities justify outbidding competing executors for inclusion,
// so the default policy pays an increasing premium as profit rises. All
// policies satisfy the same interface and are interchangeable.
type Strategy interface {
	// Name identifies the policy in logs and metrics.
	Name() string

	// BidGasPrice returns the gas price to bid given the network base price
	// and the opportunity's expected raw profit (wei).
	BidGasPrice(basePrice, expectedProfit *big.Int) *big.Int

	// MaxGasSpend returns the most the policy allows spending on gas for an
	// opportunity with the given expected profit.
	MaxGasSpend(expectedProfit *big.Int) *big.Int
}

// Tier pairs a profit threshold (wei) with the premium (basis points over the
// network base price) bid once expected profit reaches it.
type Tier struct {
	MinProfit  *big.Int
	PremiumBps int64
}

// TieredStrategy bids base price plus the premium of the highest tier the
// expected profit reaches. Tiers must be sorted by ascending MinProfit.
type TieredStrategy struct {
	name        string
	tiers       []Tier
	maxSpendPct int64
}

// NewTiered builds a tiered policy. maxSpendPct caps gas spend as a
// percentage of expected profit.
func NewTiered(name string, tiers []Tier, maxSpendPct int64) *TieredStrategy {
	return &TieredStrategy{name: name, tiers: tiers, maxSpendPct: maxSpendPct}
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

// Default bids +5/+15/+25/+40% premium as profit crosses 0.01/0.05/0.1/0.5
// ETH, capping gas spend at 30% of expected profit.
func Default() *TieredStrategy {
	return NewTiered("default", []Tier{
		{MinProfit: gwei(10_000_000), PremiumBps: 500},   // 0.01 ETH -> +5%
		{MinProfit: gwei(50_000_000), PremiumBps: 1500},  // 0.05 ETH -> +15%
		{MinProfit: gwei(100_000_000), PremiumBps: 2500}, // 0.1 ETH  -> +25%
		{MinProfit: gwei(500_000_000), PremiumBps: 4000}, // 0.5 ETH  -> +40%
	}, 30)
}

// Conservative trades inclusion speed for gas spend: smaller premiums and a
// tighter spend cap.
func Conservative() *TieredStrategy {
	return NewTiered("conservative", []Tier{
		{MinProfit: gwei(50_000_000), PremiumBps: 200},
		{MinProfit: gwei(500_000_000), PremiumBps: 1000},
	}, 15)
}

// Aggressive outbids for speed: steep premiums and a generous spend cap.
func Aggressive() *TieredStrategy {
	return NewTiered("aggressive", []Tier{
		{MinProfit: gwei(10_000_000), PremiumBps: 2000},
		{MinProfit: gwei(50_000_000), PremiumBps: 4000},
		{MinProfit: gwei(100_000_000), PremiumBps: 6000},
	}, 50)
}

// Name returns the policy name.
func (s *TieredStrategy) Name() string { return s.name }

// BidGasPrice applies the premium of the highest tier expectedProfit reaches.
// For a fixed base price the bid is non-decreasing in expected profit.
func (s *TieredStrategy) BidGasPrice(basePrice, expectedProfit *big.Int) *big.Int {
	if basePrice == nil {
		return new(big.Int)
	}
	premium := int64(0)
	if expectedProfit != nil {
		for _, t := range s.tiers {
			if expectedProfit.Cmp(t.MinProfit) >= 0 {
				premium = t.PremiumBps
			}
		}
	}

	bid := new(big.Int).Mul(basePrice, big.NewInt(10000+premium))
	return bid.Div(bid, big.NewInt(10000))
}

// MaxGasSpend returns maxSpendPct percent of expected profit.
func (s *TieredStrategy) MaxGasSpend(expectedProfit *big.Int) *big.Int {
	if expectedProfit == nil || expectedProfit.Sign() <= 0 {
		return new(big.Int)
	}
	spend := new(big.Int).Mul(expectedProfit, big.NewInt(s.maxSpendPct))
	return spend.Div(spend, big.NewInt(100))
}
