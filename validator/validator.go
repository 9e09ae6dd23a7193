// Package validator filters candidate opportunities through the
// profit-after-gas model. Validation is a pure function of the opportunity
// and a snapshot of chain conditions: identical inputs always produce an
// identical result.
package validator

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/gas"
	"github.com/arbiterlabs/flasharb/types"
)

// Config holds the acceptance thresholds.
type Config struct {
	// MinProfitUSD is the dollar floor below which an opportunity is not
	// worth the oracle and gas calls downstream.
	MinProfitUSD float64

	// SlippageTolerancePct haircuts raw profit for quote/execution drift,
	// in whole percent within [0,100].
	SlippageTolerancePct int64

	// MinProfitBps is the minimum net profit relative to the loan amount,
	// in basis points.
	MinProfitBps int64
}

// Conditions is the chain-state snapshot validation runs against.
type Conditions struct {
	// NetworkGasPrice is the current base+priority gas price.
	NetworkGasPrice *big.Int

	// GasLimit is the estimated gas limit for executing this opportunity.
	GasLimit uint64

	// TokenPriceUSD prices the borrowed token for dollar thresholds.
	TokenPriceUSD float64

	// TokenDecimals is the borrowed token's decimal precision.
	TokenDecimals uint8
}

// Validator applies the profit-after-gas model.
type Validator struct {
	cfg      Config
	strategy gas.Strategy
	logger   *zap.Logger
}

// New creates a validator using strategy for gas bids.
func New(cfg Config, strategy gas.Strategy, logger *zap.Logger) (*Validator, error) {
	if strategy == nil {
		return nil, fmt.Errorf("gas strategy is required")
	}
	if cfg.SlippageTolerancePct < 0 || cfg.SlippageTolerancePct > 100 {
		return nil, fmt.Errorf("slippage tolerance must be within [0,100], got %d", cfg.SlippageTolerancePct)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, strategy: strategy, logger: logger}, nil
}

// Validate runs the acceptance pipeline. It never mutates opp.
func (v *Validator) Validate(opp types.ArbitrageOpportunity, cond Conditions) types.ValidationResult {
	if opp.RawProfit == nil || opp.LoanAmount == nil || opp.LoanAmount.Sign() <= 0 {
		return types.ValidationResult{
			Accepted: false,
			Reason:   types.RejectBelowMinProfitBps,
			Detail:   "opportunity missing profit or loan amount",
		}
	}

	// 1. Dollar floor.
	profitUSD := ProfitUSD(opp.RawProfit, cond.TokenDecimals, cond.TokenPriceUSD)
	if profitUSD < v.cfg.MinProfitUSD {
		shortfall := v.cfg.MinProfitUSD - profitUSD
		return types.ValidationResult{
			Accepted: false,
			Reason:   types.RejectBelowUSDMinimum,
			Detail: fmt.Sprintf("estimated profit $%.2f is $%.2f short of the $%.2f minimum",
				profitUSD, shortfall, v.cfg.MinProfitUSD),
		}
	}

	// 2. Slippage haircut.
	adjusted := AdjustForSlippage(opp.RawProfit, v.cfg.SlippageTolerancePct)

	// 3. Gas bid as a function of raw profit.
	gasPrice := v.strategy.BidGasPrice(cond.NetworkGasPrice, opp.RawProfit)
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(cond.GasLimit))

	// 4. Profit must survive gas.
	if adjusted.Cmp(gasCost) <= 0 {
		return types.ValidationResult{
			Accepted:       false,
			Reason:         types.RejectGasExceedsProfit,
			Detail:         fmt.Sprintf("adjusted profit %s <= gas cost %s", adjusted, gasCost),
			AdjustedProfit: adjusted,
			GasCost:        gasCost,
		}
	}

	// 5. Net profit relative to loan size, in basis points.
	net := new(big.Int).Sub(adjusted, gasCost)
	bps := new(big.Int).Mul(net, big.NewInt(10000))
	bps.Div(bps, opp.LoanAmount)
	profitBps := bps.Int64()

	// 6. Percentage floor.
	if profitBps < v.cfg.MinProfitBps {
		return types.ValidationResult{
			Accepted:       false,
			Reason:         types.RejectBelowMinProfitBps,
			Detail:         fmt.Sprintf("net profit %d bps below %d bps minimum", profitBps, v.cfg.MinProfitBps),
			AdjustedProfit: adjusted,
			GasCost:        gasCost,
			ProfitBps:      profitBps,
		}
	}

	return types.ValidationResult{
		Accepted:       true,
		AdjustedProfit: adjusted,
		GasCost:        gasCost,
		ProfitBps:      profitBps,
	}
}

// AdjustForSlippage applies the haircut rawProfit*(100-tolerance)/100.
func AdjustForSlippage(rawProfit *big.Int, tolerancePct int64) *big.Int {
	if rawProfit == nil {
		return new(big.Int)
	}
	adjusted := new(big.Int).Mul(rawProfit, big.NewInt(100-tolerancePct))
	return adjusted.Div(adjusted, big.NewInt(100))
}

// ProfitUSD converts a raw token profit into dollars.
func ProfitUSD(rawProfit *big.Int, decimals uint8, priceUSD float64) float64 {
	if rawProfit == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	tokens := new(big.Float).Quo(new(big.Float).SetInt(rawProfit), scale)
	usd, _ := new(big.Float).Mul(tokens, big.NewFloat(priceUSD)).Float64()
	return usd
}
