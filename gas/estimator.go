package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ChainReader is the slice of the Ethereum client the estimator needs.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator tracks the network base fee and priority fee on a ticker so that
// gas bids reflect current conditions without a round trip per opportunity.
type Estimator struct {
	client       ChainReader
	logger       *zap.Logger
	baseGasPrice *big.Int
	priorityFee  *big.Int
	mu           sync.RWMutex
	updateTicker *time.Ticker
	done         chan struct{}
}

// NewEstimator creates a gas estimator updating once per second.
func NewEstimator(client ChainReader, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Estimator{
		client:       client,
		logger:       logger,
		baseGasPrice: new(big.Int),
		priorityFee:  new(big.Int),
		updateTicker: time.NewTicker(time.Second),
		done:         make(chan struct{}),
	}
	// Prime synchronously so opportunities validated before the first tick
	// never see a zero network price.
	if err := e.update(); err != nil {
		logger.Warn("Initial gas price update failed", zap.Error(err))
	}
	go e.updateLoop()
	return e
}

func (e *Estimator) updateLoop() {
	for {
		select {
		case <-e.done:
			return
		case <-e.updateTicker.C:
			if err := e.update(); err != nil {
				e.logger.Error("Failed to update gas prices", zap.Error(err))
			}
		}
	}
}

func (e *Estimator) update() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}

	priorityFee, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}

	e.mu.Lock()
	if header.BaseFee != nil {
		e.baseGasPrice = header.BaseFee
	}
	e.priorityFee = priorityFee
	e.mu.Unlock()

	return nil
}

// NetworkGasPrice returns the current base fee plus suggested priority fee.
func (e *Estimator) NetworkGasPrice() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Add(e.baseGasPrice, e.priorityFee)
}

// EstimateGasCost estimates the total cost of a transaction at current prices.
func (e *Estimator) EstimateGasCost(gasLimit uint64) *big.Int {
	total := e.NetworkGasPrice()
	return total.Mul(total, new(big.Int).SetUint64(gasLimit))
}

// EstimateArbitrageGas estimates the gas limit for a flash-loan arbitrage
// with the given number of swap hops.
func EstimateArbitrageGas(numHops int) uint64 {
	// 21k intrinsic + ~90k loan overhead + per-hop swap cost covering
	// storage reads, allowance, transfer, and swap execution.
	const (
		baseCost   = uint64(21000)
		loanCost   = uint64(90000)
		costPerHop = uint64(152000)
	)
	if numHops < 0 {
		numHops = 0
	}
	return baseCost + loanCost + costPerHop*uint64(numHops)
}

// Stop stops the gas price updates.
func (e *Estimator) Stop() {
	e.updateTicker.Stop()
	close(e.done)
}
