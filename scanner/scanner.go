// Package scanner fans out to every venue adapter to discover direct and
// triangular arbitrage candidates. Every external call is timeout-bounded and
// degrades to a neutral default, so one slow pool never stalls a scan tick.
package scanner

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/flasharb/dex"
	"github.com/arbiterlabs/flasharb/types"
)

const (
	defaultQuoteTimeout = 2 * time.Second
	defaultTopN         = 10
)

// Config tunes one scanner instance.
type Config struct {
	// QuoteTimeout bounds each adapter call; an expired quote counts as zero.
	QuoteTimeout time.Duration

	// TopN caps how many candidates per scan proceed to validation, limiting
	// downstream gas and price-oracle calls.
	TopN int

	// Registerer receives the scanner's counters; nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// Scanner holds the adapter registry and discovery logic.
type Scanner struct {
	adapters []dex.Adapter
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	metrics struct {
		scans      prometheus.Counter
		candidates prometheus.Counter
		degraded   prometheus.Counter
	}
}

// New creates a scanner over the given adapters.
func New(adapters []dex.Adapter, cfg Config, logger *zap.Logger) *Scanner {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = defaultQuoteTimeout
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scanner{
		adapters: adapters,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}

	s.metrics.scans = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_scans_total",
		Help: "Total number of scan ticks executed",
	})
	s.metrics.candidates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_candidates_total",
		Help: "Total number of arbitrage candidates discovered",
	})
	s.metrics.degraded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_degraded_quotes_total",
		Help: "Quotes that timed out or failed and degraded to zero",
	})

	if cfg.Registerer != nil {
		for _, c := range []prometheus.Collector{s.metrics.scans, s.metrics.candidates, s.metrics.degraded} {
			if err := cfg.Registerer.Register(c); err != nil {
				logger.Warn("scanner metric registration failed", zap.Error(err))
			}
		}
	}

	return s
}

// Adapters returns the registry, for wiring executors to venue selectors.
func (s *Scanner) Adapters() []dex.Adapter { return s.adapters }

type quote struct {
	pool   *types.Pool
	amount *big.Int
}

// ScanDirect discovers two-hop candidates on (tokenA, tokenB): buy B on one
// venue, sell it back on another. An opportunity exists iff the round trip
// returns more tokenA than went in.
func (s *Scanner) ScanDirect(ctx context.Context, tokenA, tokenB common.Address, amountIn *big.Int) []types.ArbitrageOpportunity {
	s.metrics.scans.Inc()

	var (
		mu    sync.Mutex
		found []types.ArbitrageOpportunity
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range s.adapters {
		for j := range s.adapters {
			if i == j {
				continue
			}
			src, dst := s.adapters[i], s.adapters[j]
			g.Go(func() error {
				out := s.boundedQuote(gctx, src, tokenA, tokenB, amountIn)
				if out.amount.Sign() <= 0 {
					return nil
				}
				back := s.boundedQuote(gctx, dst, tokenB, tokenA, out.amount)
				if back.amount.Sign() <= 0 || back.amount.Cmp(amountIn) <= 0 {
					return nil
				}

				opp := s.buildOpportunity(
					amountIn, back.amount,
					[]common.Address{tokenA, tokenB, tokenA},
					[]*types.Pool{out.pool, back.pool},
					[]string{src.Name(), dst.Name()},
				)
				mu.Lock()
				found = append(found, opp)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait() // workers degrade instead of erroring

	s.metrics.candidates.Add(float64(len(found)))
	return found
}

// ScanTriangle discovers start -> mid -> start candidates for every candidate
// intermediate token: (a) two hops inside one venue, (b) cross-venue hops
// where each leg uses a different adapter.
func (s *Scanner) ScanTriangle(ctx context.Context, start common.Address, intermediates []common.Address, amountIn *big.Int) []types.ArbitrageOpportunity {
	s.metrics.scans.Inc()

	var (
		mu    sync.Mutex
		found []types.ArbitrageOpportunity
	)
	add := func(opp types.ArbitrageOpportunity) {
		mu.Lock()
		found = append(found, opp)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, mid := range intermediates {
		mid := mid
		if mid == start {
			continue
		}

		// (a) both hops inside one venue
		for _, a := range s.adapters {
			a := a
			g.Go(func() error {
				for _, path := range s.boundedPaths(gctx, a, start, mid) {
					out := s.boundedSimulate(gctx, a, path, amountIn)
					if out.Sign() <= 0 || out.Cmp(amountIn) <= 0 {
						continue
					}
					add(s.buildOpportunity(amountIn, out, path.Tokens, path.Pools,
						[]string{a.Name(), a.Name()}))
				}
				return nil
			})
		}

		// (b) cross-venue: hop 1 and hop 2 on different adapters
		for i := range s.adapters {
			for j := range s.adapters {
				if i == j {
					continue
				}
				first, second := s.adapters[i], s.adapters[j]
				g.Go(func() error {
					leg1 := s.boundedQuote(gctx, first, start, mid, amountIn)
					if leg1.amount.Sign() <= 0 {
						return nil
					}
					leg2 := s.boundedQuote(gctx, second, mid, start, leg1.amount)
					if leg2.amount.Sign() <= 0 || leg2.amount.Cmp(amountIn) <= 0 {
						return nil
					}
					add(s.buildOpportunity(
						amountIn, leg2.amount,
						[]common.Address{start, mid, start},
						[]*types.Pool{leg1.pool, leg2.pool},
						[]string{first.Name(), second.Name()},
					))
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	s.metrics.candidates.Add(float64(len(found)))
	return found
}

// TopCandidates sorts candidates by descending raw spread and returns at most
// the configured top N, capping downstream validation work.
func (s *Scanner) TopCandidates(opps []types.ArbitrageOpportunity) []types.ArbitrageOpportunity {
	sorted := make([]types.ArbitrageOpportunity, len(opps))
	copy(sorted, opps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SpreadBps > sorted[j].SpreadBps
	})
	if len(sorted) > s.cfg.TopN {
		sorted = sorted[:s.cfg.TopN]
	}
	return sorted
}

func (s *Scanner) buildOpportunity(amountIn, amountOut *big.Int, tokens []common.Address, pools []*types.Pool, venues []string) types.ArbitrageOpportunity {
	profit := new(big.Int).Sub(amountOut, amountIn)

	spread := new(big.Int).Mul(profit, big.NewInt(10000))
	spread.Div(spread, amountIn)

	feeTiers := make([]uint32, len(pools))
	for i, p := range pools {
		if p != nil {
			feeTiers[i] = p.FeeTier
		}
	}

	return types.ArbitrageOpportunity{
		BorrowToken:  tokens[0],
		LoanAmount:   new(big.Int).Set(amountIn),
		Path:         types.ArbitragePath{Tokens: tokens, Pools: pools},
		Venues:       venues,
		FeeTiers:     feeTiers,
		RawProfit:    profit,
		SpreadBps:    spread.Int64(),
		DiscoveredAt: s.now(),
	}
}

// boundedQuote finds the best pool quote on one adapter within the quote
// timeout; timeout or failure degrades to a zero amount.
func (s *Scanner) boundedQuote(ctx context.Context, a dex.Adapter, tokenIn, tokenOut common.Address, amountIn *big.Int) quote {
	result := make(chan quote, 1)

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	defer cancel()

	go func() {
		best := quote{amount: new(big.Int)}
		pools := a.FindPools(qctx, tokenIn, tokenOut)
		if len(pools) == 0 && a.Kind() == types.VenueConcentratedLiquidity {
			// Tiered venues can quote without a resolved pool.
			pools = []*types.Pool{nil}
		}
		for _, p := range pools {
			out := a.GetAmountOut(qctx, p, tokenIn, tokenOut, amountIn)
			if out != nil && out.Cmp(best.amount) > 0 {
				best = quote{pool: p, amount: out}
			}
		}
		result <- best
	}()

	select {
	case q := <-result:
		return q
	case <-qctx.Done():
		s.metrics.degraded.Inc()
		s.logger.Debug("quote timed out",
			zap.String("venue", a.Name()),
			zap.String("token_in", tokenIn.Hex()))
		return quote{amount: new(big.Int)}
	}
}

func (s *Scanner) boundedPaths(ctx context.Context, a dex.Adapter, start, mid common.Address) []*types.ArbitragePath {
	result := make(chan []*types.ArbitragePath, 1)

	pctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	defer cancel()

	go func() {
		result <- a.FindArbitragePaths(pctx, start, &mid, start)
	}()

	select {
	case paths := <-result:
		return paths
	case <-pctx.Done():
		s.metrics.degraded.Inc()
		return nil
	}
}

func (s *Scanner) boundedSimulate(ctx context.Context, a dex.Adapter, path *types.ArbitragePath, amountIn *big.Int) *big.Int {
	result := make(chan *big.Int, 1)

	sctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	defer cancel()

	go func() {
		result <- a.SimulatePathSwap(sctx, path, amountIn)
	}()

	select {
	case out := <-result:
		if out == nil {
			return new(big.Int)
		}
		return out
	case <-sctx.Done():
		s.metrics.degraded.Inc()
		return new(big.Int)
	}
}
