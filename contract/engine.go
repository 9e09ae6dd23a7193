package contract

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/types"
)

// State is the executor contract's lifecycle position.
type State uint8

const (
	StateIdle State = iota
	StateLoanRequested
	StateCallbackExecuting
	StateRepaid
	StateReverted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoanRequested:
		return "loan-requested"
	case StateCallbackExecuting:
		return "callback-executing"
	case StateRepaid:
		return "repaid"
	case StateReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Enumerated revert reasons. The off-chain executor matches these as typed
// values carried through Revert, never as substrings of error text.
const (
	ReasonInsufficientProfit = "insufficient profit"
	ReasonPathMismatch       = "path mismatch"
	ReasonUnsupportedRouter  = "unsupported router"
	ReasonLoanNotRepaid      = "loan not repaid"
	ReasonUnauthorized       = "unauthorized"
	ReasonReentrant          = "execution in progress"
)

// Revert is an on-chain assertion failure. The whole transaction is undone;
// no partial state survives.
type Revert struct {
	Reason string
}

func (r *Revert) Error() string { return fmt.Sprintf("reverted: %s", r.Reason) }

// Router is a configured swap venue the hop loop can dispatch to.
type Router struct {
	Address common.Address
	Kind    types.VenueKind
}

// Market executes one swap through a configured router. Implementations
// wrap real chain calls or, in tests, a synthetic rate table.
type Market interface {
	Swap(ctx context.Context, router Router, tokenIn, tokenOut common.Address, feeTier uint32, amountIn *big.Int) (*big.Int, error)
}

// Receipt is what a successful execution leaves behind.
type Receipt struct {
	Profit *big.Int
	Event  *ArbitrageExecuted
}

// Config sets the engine's fixed parameters.
type Config struct {
	// Owner may call the admin operations.
	Owner common.Address

	// Lender is the only address allowed to deliver loan callbacks.
	Lender common.Address

	// Self is the engine's own address; callbacks must name it as initiator.
	Self common.Address

	// LoanFeeBps is the lending protocol's fee in basis points.
	LoanFeeBps int64

	// DefaultFeeTier closes the fee resolution chain.
	DefaultFeeTier uint32

	// MinProfit is the floor the final balance must clear beyond loan+fee.
	MinProfit *big.Int
}

type pairKey struct {
	a, b common.Address
}

func orderedPair(a, b common.Address) pairKey {
	if a.Hex() > b.Hex() {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Engine models the executor contract: a single-threaded state machine whose
// only durable effect is the balance ledger, and only when a run commits.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	market Market
	logger *zap.Logger
	now    func() time.Time

	state          State
	inProgress     bool
	routers        map[uint8]Router
	pairFeeTiers   map[pairKey]uint32
	defaultFeeTier uint32
	minProfit      *big.Int
	balances       map[common.Address]*big.Int
}

// NewEngine creates an engine over the given market.
func NewEngine(cfg Config, market Market, logger *zap.Logger) (*Engine, error) {
	if market == nil {
		return nil, fmt.Errorf("market is required")
	}
	if cfg.LoanFeeBps < 0 || cfg.LoanFeeBps >= 10000 {
		return nil, fmt.Errorf("loan fee must be within [0,10000) bps, got %d", cfg.LoanFeeBps)
	}
	if cfg.MinProfit == nil {
		cfg.MinProfit = new(big.Int)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:            cfg,
		market:         market,
		logger:         logger,
		now:            time.Now,
		state:          StateIdle,
		routers:        make(map[uint8]Router),
		pairFeeTiers:   make(map[pairKey]uint32),
		defaultFeeTier: cfg.DefaultFeeTier,
		minProfit:      new(big.Int).Set(cfg.MinProfit),
		balances:       make(map[common.Address]*big.Int),
	}, nil
}

// State reports the current lifecycle position.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Balance reports the engine's holding of one token.
func (e *Engine) Balance(token common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.balances[token]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Credit funds the ledger directly, standing in for inbound transfers.
func (e *Engine) Credit(token common.Address, amount *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.credit(token, amount)
}

func (e *Engine) credit(token common.Address, amount *big.Int) {
	if b, ok := e.balances[token]; ok {
		b.Add(b, amount)
		return
	}
	e.balances[token] = new(big.Int).Set(amount)
}

func (e *Engine) debit(token common.Address, amount *big.Int) error {
	b, ok := e.balances[token]
	if !ok || b.Cmp(amount) < 0 {
		return &Revert{Reason: ReasonLoanNotRepaid}
	}
	b.Sub(b, amount)
	return nil
}

func (e *Engine) balanceOf(token common.Address) *big.Int {
	if b, ok := e.balances[token]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Execute runs one arbitrage to completion. Either the loan, every swap and
// the repayment all commit, or the ledger is byte-identical to before.
func (e *Engine) Execute(ctx context.Context, caller common.Address, p *CallParams) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inProgress {
		return nil, &Revert{Reason: ReasonReentrant}
	}
	if err := p.Validate(); err != nil {
		return nil, &Revert{Reason: ReasonPathMismatch}
	}

	snapshot := e.snapshotBalances()
	e.inProgress = true
	e.state = StateLoanRequested

	receipt, err := e.runLoan(ctx, p)

	e.inProgress = false
	final := StateRepaid
	if err != nil {
		e.balances = snapshot
		final = StateReverted
		e.logger.Debug("execution reverted",
			zap.String("caller", caller.Hex()),
			zap.Error(err))
	}
	e.logger.Debug("execution finished", zap.String("state", final.String()))

	// Both terminal states immediately re-arm the machine.
	e.state = StateIdle
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// runLoan models the lending protocol: transfer the principal, invoke the
// callback, then pull principal plus fee back.
func (e *Engine) runLoan(ctx context.Context, p *CallParams) (*Receipt, error) {
	fee := new(big.Int).Mul(p.LoanAmount, big.NewInt(e.cfg.LoanFeeBps))
	fee.Div(fee, big.NewInt(10000))

	e.credit(p.LoanAsset, p.LoanAmount)

	if err := e.handleCallback(ctx, e.cfg.Lender, e.cfg.Self, p, fee); err != nil {
		return nil, err
	}

	owed := new(big.Int).Add(p.LoanAmount, fee)
	if err := e.debit(p.LoanAsset, owed); err != nil {
		return nil, err
	}

	profit := e.balanceOf(p.LoanAsset)
	ts := e.now()
	return &Receipt{
		Profit: profit,
		Event: &ArbitrageExecuted{
			Asset:      p.LoanAsset,
			LoanAmount: new(big.Int).Set(p.LoanAmount),
			Profit:     profit,
			Timestamp:  big.NewInt(ts.Unix()),
		},
	}, nil
}

// HandleLoanCallback is the lender-facing callback entry. Exposed so the
// spoofing checks are testable against arbitrary callers and initiators.
func (e *Engine) HandleLoanCallback(ctx context.Context, caller, initiator common.Address, p *CallParams, fee *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Lender || initiator != e.cfg.Self {
		return &Revert{Reason: ReasonUnauthorized}
	}
	if e.state != StateLoanRequested {
		return &Revert{Reason: ReasonUnauthorized}
	}
	return e.handleCallback(ctx, caller, initiator, p, fee)
}

func (e *Engine) handleCallback(ctx context.Context, caller, initiator common.Address, p *CallParams, fee *big.Int) error {
	if caller != e.cfg.Lender {
		return &Revert{Reason: ReasonUnauthorized}
	}
	if initiator != e.cfg.Self {
		return &Revert{Reason: ReasonUnauthorized}
	}

	e.state = StateCallbackExecuting

	amount := new(big.Int).Set(p.LoanAmount)
	for hop := 0; hop < p.Hops(); hop++ {
		tokenIn, tokenOut := p.Path[hop], p.Path[hop+1]

		router, ok := e.routers[p.VenueSelector[hop]]
		if !ok {
			return &Revert{Reason: ReasonUnsupportedRouter}
		}

		var explicit uint32
		if hop < len(p.FeeTiers) {
			explicit = p.FeeTiers[hop]
		}
		feeTier := e.resolveFeeTier(explicit, tokenIn, tokenOut)

		out, err := e.market.Swap(ctx, router, tokenIn, tokenOut, feeTier, amount)
		if err != nil || out == nil || out.Sign() <= 0 {
			return &Revert{Reason: ReasonPathMismatch}
		}

		if err := e.debit(tokenIn, amount); err != nil {
			return err
		}
		e.credit(tokenOut, out)
		amount = out
	}

	// The loop must end back in the loan asset with enough to cover
	// principal, fee and the profit floor.
	required := new(big.Int).Add(p.LoanAmount, fee)
	required.Add(required, e.minProfit)
	if e.balanceOf(p.LoanAsset).Cmp(required) < 0 {
		return &Revert{Reason: ReasonInsufficientProfit}
	}
	return nil
}

// resolveFeeTier walks the ordered fallback chain: explicit per-hop tier,
// configured pair-optimal tier, global default.
func (e *Engine) resolveFeeTier(explicit uint32, tokenIn, tokenOut common.Address) uint32 {
	resolvers := []func() (uint32, bool){
		func() (uint32, bool) { return explicit, explicit != 0 },
		func() (uint32, bool) {
			tier, ok := e.pairFeeTiers[orderedPair(tokenIn, tokenOut)]
			return tier, ok
		},
		func() (uint32, bool) { return e.defaultFeeTier, true },
	}
	for _, resolve := range resolvers {
		if tier, ok := resolve(); ok {
			return tier
		}
	}
	return 0
}

func (e *Engine) snapshotBalances() map[common.Address]*big.Int {
	snap := make(map[common.Address]*big.Int, len(e.balances))
	for token, b := range e.balances {
		snap[token] = new(big.Int).Set(b)
	}
	return snap
}

// SetRouter registers or replaces the router behind a venue selector.
func (e *Engine) SetRouter(caller common.Address, selector uint8, router Router) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Owner {
		return &Revert{Reason: ReasonUnauthorized}
	}
	e.routers[selector] = router
	return nil
}

// SetPairFeeTier sets the pair-optimal fee tier override.
func (e *Engine) SetPairFeeTier(caller common.Address, tokenA, tokenB common.Address, feeTier uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Owner {
		return &Revert{Reason: ReasonUnauthorized}
	}
	e.pairFeeTiers[orderedPair(tokenA, tokenB)] = feeTier
	return nil
}

// SetDefaultFeeTier sets the global fallback fee tier.
func (e *Engine) SetDefaultFeeTier(caller common.Address, feeTier uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Owner {
		return &Revert{Reason: ReasonUnauthorized}
	}
	e.defaultFeeTier = feeTier
	return nil
}

// SetMinProfit sets the minimum-profit floor.
func (e *Engine) SetMinProfit(caller common.Address, minProfit *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Owner {
		return &Revert{Reason: ReasonUnauthorized}
	}
	if minProfit == nil || minProfit.Sign() < 0 {
		return fmt.Errorf("minimum profit must be non-negative")
	}
	e.minProfit = new(big.Int).Set(minProfit)
	return nil
}

// Withdraw moves accumulated profit out of the ledger.
func (e *Engine) Withdraw(caller common.Address, token common.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.cfg.Owner {
		return &Revert{Reason: ReasonUnauthorized}
	}
	b, ok := e.balances[token]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("withdrawal of %s exceeds balance", amount)
	}
	b.Sub(b, amount)
	return nil
}
