// Package executor turns validated opportunities into signed transactions and
// shepherds them on chain, retrying transient submission failures with fresh
// gas bids and giving up immediately on reverts.
package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/flashbots"
	"github.com/arbiterlabs/flasharb/gas"
	"github.com/arbiterlabs/flasharb/record"
	"github.com/arbiterlabs/flasharb/types"
)

const (
	defaultMaxAttempts  = 3
	defaultBaseBackoff  = 500 * time.Millisecond
	defaultBundleBlocks = 3
	blockPollInterval   = time.Second
)

// ChainBackend is the subset of an Ethereum client the executor needs.
type ChainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Relay submits bundles privately instead of broadcasting to the mempool.
type Relay interface {
	SimulateBundle(ctx context.Context, bundle *flashbots.Bundle) (*flashbots.Simulation, error)
	SendBundle(ctx context.Context, bundle *flashbots.Bundle) error
}

// RevertError marks an on-chain assertion failure. Retrying with identical
// parameters cannot succeed, so the executor treats it as terminal.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("execution reverted: %s", e.Reason)
}

// AuthorizationError marks a signing or permission failure; also terminal.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed: %v", e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// Classify maps an execution error to a failure class. Unknown errors count
// as transient: the safe default is another attempt with a fresh bid.
func Classify(err error) types.FailureClass {
	if err == nil {
		return types.FailureNone
	}
	var revert *RevertError
	if errors.As(err, &revert) {
		return types.FailureChainRevert
	}
	var auth *AuthorizationError
	if errors.As(err, &auth) {
		return types.FailureAuthorization
	}
	return types.FailureTransient
}

// Config tunes retry and bundling behavior.
type Config struct {
	// ChainID selects the transaction signer.
	ChainID *big.Int

	// MaxAttempts bounds submission retries per opportunity.
	MaxAttempts int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration

	// BundleBlocks is how many consecutive target blocks a private bundle
	// is submitted for before the attempt counts as failed.
	BundleBlocks uint64

	// GasLimit used when the request does not carry its own estimate.
	GasLimit uint64

	// Registerer receives the executor's counters; nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// Request is one prepared contract call plus the opportunity it realizes.
type Request struct {
	Opportunity types.ArbitrageOpportunity
	To          common.Address
	Data        []byte
	Value       *big.Int
	GasLimit    uint64
}

// Executor signs and submits arbitrage transactions.
type Executor struct {
	backend  ChainBackend
	relay    Relay // nil means public mempool submission
	key      *ecdsa.PrivateKey
	from     common.Address
	strategy gas.Strategy
	sink     record.Sink
	cfg      Config
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	metrics struct {
		attempts  prometheus.Counter
		successes prometheus.Counter
		failures  *prometheus.CounterVec
	}
}

// New creates an executor. relay may be nil to broadcast publicly.
func New(backend ChainBackend, relay Relay, key *ecdsa.PrivateKey, strategy gas.Strategy, sink record.Sink, cfg Config, logger *zap.Logger) (*Executor, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is required")
	}
	if key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("gas strategy is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("valid chain ID is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.BundleBlocks == 0 {
		cfg.BundleBlocks = defaultBundleBlocks
	}
	if sink == nil {
		sink = record.NewLogSink(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		backend:  backend,
		relay:    relay,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		strategy: strategy,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		sleep:    sleepContext,
		now:      time.Now,
	}

	e.metrics.attempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_attempts_total",
		Help: "Transaction submission attempts",
	})
	e.metrics.successes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_successes_total",
		Help: "Opportunities that landed on chain",
	})
	e.metrics.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "executor_failures_total",
		Help: "Opportunities abandoned, by failure class",
	}, []string{"class"})

	if cfg.Registerer != nil {
		for _, c := range []prometheus.Collector{e.metrics.attempts, e.metrics.successes, e.metrics.failures} {
			if err := cfg.Registerer.Register(c); err != nil {
				return nil, fmt.Errorf("registering executor metrics: %w", err)
			}
		}
	}

	return e, nil
}

// Execute drives one opportunity to completion or abandonment. Every attempt
// re-reads the nonce and gas price so stale bids never go out.
func (e *Executor) Execute(ctx context.Context, req Request) types.ExecutionOutcome {
	outcome := types.ExecutionOutcome{}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		e.metrics.attempts.Inc()

		txHash, err := e.attempt(ctx, req)
		if err == nil {
			outcome.Success = true
			outcome.TxHash = txHash
			outcome.Failure = types.FailureNone
			break
		}

		outcome.Failure = Classify(err)
		var revert *RevertError
		if errors.As(err, &revert) {
			outcome.RevertReason = revert.Reason
		}

		e.logger.Warn("execution attempt failed",
			zap.Int("attempt", attempt),
			zap.String("class", outcome.Failure.String()),
			zap.Error(err))

		if outcome.Failure != types.FailureTransient {
			break
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}
		backoff := e.cfg.BaseBackoff << (attempt - 1)
		if err := e.sleep(ctx, backoff); err != nil {
			break
		}
	}

	if outcome.Success {
		e.metrics.successes.Inc()
	} else {
		e.metrics.failures.WithLabelValues(outcome.Failure.String()).Inc()
	}
	e.sink.Record(record.Entry{
		Opportunity: req.Opportunity,
		Outcome:     outcome,
		RecordedAt:  e.now(),
	})
	return outcome
}

// attempt builds, signs and submits one transaction.
func (e *Executor) attempt(ctx context.Context, req Request) (common.Hash, error) {
	nonce, err := e.backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("reading pending nonce: %w", err)
	}
	basePrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("reading gas price: %w", err)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = e.cfg.GasLimit
	}
	gasPrice := e.bidWithinCap(basePrice, req.Opportunity.RawProfit, gasLimit)

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &req.To,
		Value:    value,
		Data:     req.Data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(e.cfg.ChainID), e.key)
	if err != nil {
		return common.Hash{}, &AuthorizationError{Err: err}
	}

	if e.relay != nil {
		if err := e.submitBundle(ctx, signed); err != nil {
			return common.Hash{}, err
		}
		return signed.Hash(), nil
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// bidWithinCap derives the gas bid for this attempt and clamps it so the
// worst-case spend stays inside the strategy's budget.
func (e *Executor) bidWithinCap(basePrice, expectedProfit *big.Int, gasLimit uint64) *big.Int {
	bid := e.strategy.BidGasPrice(basePrice, expectedProfit)
	if gasLimit == 0 {
		return bid
	}
	maxSpend := e.strategy.MaxGasSpend(expectedProfit)
	if maxSpend.Sign() <= 0 {
		return bid
	}
	spend := new(big.Int).Mul(bid, new(big.Int).SetUint64(gasLimit))
	if spend.Cmp(maxSpend) > 0 {
		bid = new(big.Int).Div(maxSpend, new(big.Int).SetUint64(gasLimit))
		if bid.Cmp(basePrice) < 0 {
			bid = new(big.Int).Set(basePrice)
		}
	}
	return bid
}

// submitBundle simulates the transaction as a private bundle, then bids it
// into up to BundleBlocks consecutive target blocks, stopping at the first
// inclusion. Exhausting the block budget without landing is a transient
// failure: market state has not been judged, only builder selection.
func (e *Executor) submitBundle(ctx context.Context, tx *ethtypes.Transaction) error {
	head, err := e.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("reading head block: %w", err)
	}

	bundle := &flashbots.Bundle{
		Txs:         []*ethtypes.Transaction{tx},
		BlockNumber: new(big.Int).SetUint64(head + 1),
	}
	sim, err := e.relay.SimulateBundle(ctx, bundle)
	if err != nil {
		return fmt.Errorf("simulating bundle: %w", err)
	}
	if !sim.Success {
		return &RevertError{Reason: sim.Error}
	}

	for i := uint64(0); i < e.cfg.BundleBlocks; i++ {
		target := head + 1 + i
		b := &flashbots.Bundle{
			Txs:         bundle.Txs,
			BlockNumber: new(big.Int).SetUint64(target),
		}
		if err := e.relay.SendBundle(ctx, b); err != nil {
			return fmt.Errorf("submitting bundle for block %d: %w", target, err)
		}
		included, err := e.waitForInclusion(ctx, tx.Hash(), target)
		if err != nil {
			return err
		}
		if included {
			e.logger.Info("bundle included",
				zap.String("tx_hash", tx.Hash().Hex()),
				zap.Uint64("block", target))
			return nil
		}
	}
	return fmt.Errorf("bundle %s not included within %d target blocks", tx.Hash().Hex(), e.cfg.BundleBlocks)
}

// waitForInclusion blocks until the chain reaches target, then reports
// whether the transaction landed in it.
func (e *Executor) waitForInclusion(ctx context.Context, txHash common.Hash, target uint64) (bool, error) {
	for {
		head, err := e.backend.BlockNumber(ctx)
		if err != nil {
			return false, fmt.Errorf("reading head block: %w", err)
		}
		if head >= target {
			break
		}
		if err := e.sleep(ctx, blockPollInterval); err != nil {
			return false, err
		}
	}

	receipt, err := e.backend.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading receipt: %w", err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return false, &RevertError{Reason: "included transaction reverted"}
	}
	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
