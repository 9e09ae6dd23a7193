package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VenueKind identifies the pricing family of a liquidity venue.
type VenueKind uint8

const (
	VenueConstantProduct VenueKind = iota
	VenueConcentratedLiquidity
	VenueWeightedPool
)

func (k VenueKind) String() string {
	switch k {
	case VenueConstantProduct:
		return "constant-product"
	case VenueConcentratedLiquidity:
		return "concentrated-liquidity"
	case VenueWeightedPool:
		return "weighted-pool"
	default:
		return "unknown"
	}
}

// PoolKind classifies weighted/invariant pools for fallback quoting.
type PoolKind uint8

const (
	PoolKindWeighted PoolKind = iota
	PoolKindStable
	PoolKindUnknown
)

// Token is an ERC-20 token known to the engine. Immutable, from config.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Pool is a single liquidity pool on one venue.
type Pool struct {
	Venue   string
	Kind    VenueKind
	Address common.Address
	Tokens  []common.Address

	// FeeBps is the swap fee in basis points (30 = 0.3%). Zero means the
	// venue default applies.
	FeeBps uint32

	// FeeTier is the concentrated-liquidity fee tier (500/3000/10000),
	// zero for venues without tiers.
	FeeTier uint32

	// PoolID is the venue-specific pool identifier (Balancer vault pools).
	PoolID [32]byte

	// WeightIn/WeightOut are normalized weights (1e18 scale) for weighted
	// pools, nil otherwise.
	WeightIn  *big.Int
	WeightOut *big.Int

	PoolKind PoolKind
}

// ArbitragePath is an ordered token sequence with one pool per hop.
type ArbitragePath struct {
	Tokens []common.Address
	Pools  []*Pool
}

// Validate checks the structural path invariants.
func (p *ArbitragePath) Validate() error {
	if len(p.Tokens) < 2 {
		return fmt.Errorf("path needs at least two tokens, got %d", len(p.Tokens))
	}
	if len(p.Pools) != len(p.Tokens)-1 {
		return fmt.Errorf("path has %d pools for %d tokens, want %d", len(p.Pools), len(p.Tokens), len(p.Tokens)-1)
	}
	return nil
}

// IsClosedLoop reports whether the path starts and ends on the same token.
func (p *ArbitragePath) IsClosedLoop() bool {
	return len(p.Tokens) >= 2 && p.Tokens[0] == p.Tokens[len(p.Tokens)-1]
}

// Hops returns the number of swaps in the path.
func (p *ArbitragePath) Hops() int {
	return len(p.Pools)
}

// ArbitrageOpportunity is a candidate trade built during one scan tick.
// It is owned by the scanner until handed, by value, to the validator and
// executor; nothing mutates it after publication.
type ArbitrageOpportunity struct {
	BorrowToken common.Address
	LoanAmount  *big.Int
	Path        ArbitragePath

	// Venues selects the adapter for each hop; FeeTiers optionally pins a
	// concentrated-liquidity tier per hop (zero = resolve on chain).
	Venues   []string
	FeeTiers []uint32

	RawProfit *big.Int
	ProfitUSD float64

	// SpreadBps is the raw price-difference percentage, in basis points,
	// used to rank candidates before validation.
	SpreadBps int64

	DiscoveredAt time.Time
}

// RejectReason classifies why the validator dropped an opportunity.
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectBelowUSDMinimum
	RejectGasExceedsProfit
	RejectBelowMinProfitBps
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "accepted"
	case RejectBelowUSDMinimum:
		return "below usd minimum"
	case RejectGasExceedsProfit:
		return "gas exceeds profit"
	case RejectBelowMinProfitBps:
		return "below minimum profit percentage"
	default:
		return "unknown"
	}
}

// ValidationResult is the validator's verdict on one opportunity.
type ValidationResult struct {
	Accepted bool
	Reason   RejectReason

	// Detail carries human-readable context for the rejection, e.g. the
	// dollar shortfall against the configured minimum.
	Detail string

	AdjustedProfit *big.Int
	GasCost        *big.Int

	// ProfitBps is net profit relative to the loan amount, in basis points.
	ProfitBps int64
}

// FailureClass partitions execution failures by how the executor should react.
type FailureClass uint8

const (
	// FailureNone means the attempt succeeded.
	FailureNone FailureClass = iota

	// FailureTransient covers network/RPC submission errors; retryable.
	FailureTransient

	// FailureChainRevert covers on-chain assertion failures; terminal for
	// identical parameters since market state has not changed.
	FailureChainRevert

	// FailureAuthorization covers wrong-caller rejections; always fatal.
	FailureAuthorization
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureTransient:
		return "transient"
	case FailureChainRevert:
		return "chain-revert"
	case FailureAuthorization:
		return "authorization"
	default:
		return "unknown"
	}
}

// ExecutionOutcome is the terminal report for one execute attempt chain.
type ExecutionOutcome struct {
	TxHash         common.Hash
	Success        bool
	RealizedProfit *big.Int
	Failure        FailureClass
	RevertReason   string
	Attempts       int
}
