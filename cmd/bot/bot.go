// Package bot wires the scanner, validator and executor into the scan loop.
package bot

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/flasharb/config"
	"github.com/arbiterlabs/flasharb/contract"
	"github.com/arbiterlabs/flasharb/dex"
	"github.com/arbiterlabs/flasharb/dex/balancer"
	"github.com/arbiterlabs/flasharb/dex/univ2"
	"github.com/arbiterlabs/flasharb/dex/univ3"
	"github.com/arbiterlabs/flasharb/executor"
	"github.com/arbiterlabs/flasharb/flashbots"
	"github.com/arbiterlabs/flasharb/gas"
	"github.com/arbiterlabs/flasharb/oracle"
	"github.com/arbiterlabs/flasharb/record"
	"github.com/arbiterlabs/flasharb/scanner"
	"github.com/arbiterlabs/flasharb/simulator"
	"github.com/arbiterlabs/flasharb/types"
	"github.com/arbiterlabs/flasharb/utils/metrics"
	"github.com/arbiterlabs/flasharb/utils/monitor"
	"github.com/arbiterlabs/flasharb/validator"
)

// Bot is one running arbitrage engine instance.
type Bot struct {
	cfg       *config.Config
	client    *ethclient.Client
	scanner   *scanner.Scanner
	validator *validator.Validator
	estimator *gas.Estimator
	executor  *executor.Executor
	prices    oracle.PriceSource
	binding   *contract.Binding
	sim       *simulator.Simulator

	metrics    *metrics.EngineMetrics
	metricsSrv *metrics.Server
	runtimeMon *monitor.RuntimeMonitor

	// selectors maps venue names to the selector the contract dispatches on.
	selectors     map[string]uint8
	baseToken     config.TokenConfig
	baseAddr      common.Address
	intermediates []common.Address

	logger *zap.Logger
	wg     sync.WaitGroup
}

// New builds a fully wired bot from configuration.
func New(cfg *config.Config, sec *config.SecureConfig, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.RPCEndpoint, err)
	}

	signingKey, err := crypto.HexToECDSA(strings.TrimPrefix(sec.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}

	executorAddr := common.HexToAddress(cfg.ExecutorContract)
	binding, err := contract.NewBinding(executorAddr)
	if err != nil {
		return nil, err
	}

	var promReg prometheus.Registerer
	if cfg.PrometheusEnabled {
		promReg = prometheus.DefaultRegisterer
	}

	adapters := make([]dex.Adapter, 0, len(cfg.Venues))
	selectors := make(map[string]uint8, len(cfg.Venues))
	for i, v := range cfg.Venues {
		adapter, err := buildAdapter(v, client, executorAddr, logger)
		if err != nil {
			return nil, fmt.Errorf("venue %q: %w", v.Name, err)
		}
		adapters = append(adapters, adapter)
		selectors[v.Name] = uint8(i)
	}

	strategy := strategyByProfile(cfg.Gas.Profile)

	v, err := validator.New(validator.Config{
		MinProfitUSD:         cfg.Validator.MinProfitUSD,
		SlippageTolerancePct: cfg.Validator.SlippageTolerancePct,
		MinProfitBps:         cfg.Validator.MinProfitBps,
	}, strategy, logger)
	if err != nil {
		return nil, err
	}

	var relay executor.Relay
	if cfg.Executor.UseRelay {
		authKey, err := crypto.HexToECDSA(strings.TrimPrefix(sec.FlashbotsKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parsing flashbots auth key: %w", err)
		}
		fb, err := flashbots.NewClient(cfg.FlashbotsRPC, authKey, logger)
		if err != nil {
			return nil, err
		}
		relay = fb
	}

	exec, err := executor.New(client, relay, signingKey, strategy, record.NewLogSink(logger), executor.Config{
		ChainID:      new(big.Int).SetUint64(cfg.ChainID),
		MaxAttempts:  cfg.Executor.MaxAttempts,
		BaseBackoff:  cfg.Executor.BaseBackoff,
		BundleBlocks: cfg.Executor.BundleBlocks,
		GasLimit:     cfg.Executor.GasLimit,
		Registerer:   promReg,
	}, logger)
	if err != nil {
		return nil, err
	}

	prices, err := oracle.NewCached(
		oracle.Static(cfg.Oracle.StaticPrices),
		cfg.Oracle.CacheTTL,
		cfg.Oracle.RatePerSec,
		logger,
		nil,
	)
	if err != nil {
		return nil, err
	}

	// Public submissions are dry-run against the node first. Bundles
	// already get simulated by the relay, so the relay path skips this.
	var sim *simulator.Simulator
	if !cfg.Executor.UseRelay {
		sim, err = simulator.New(client, crypto.PubkeyToAddress(signingKey.PublicKey), logger)
		if err != nil {
			return nil, err
		}
	}

	var (
		engineMetrics *metrics.EngineMetrics
		metricsSrv    *metrics.Server
		runtimeMon    *monitor.RuntimeMonitor
	)
	if cfg.PrometheusEnabled {
		engineMetrics = metrics.NewEngineMetrics("flasharb")
		metricsSrv = metrics.NewServer(cfg.PrometheusEndpoint, logger)
		runtimeMon, err = monitor.NewRuntimeMonitor(15*time.Second, nil, logger)
		if err != nil {
			return nil, err
		}
	}

	baseToken, ok := cfg.TokenBySymbol(cfg.Scanner.BaseToken)
	if !ok {
		return nil, fmt.Errorf("base token %q is not configured", cfg.Scanner.BaseToken)
	}
	intermediates := make([]common.Address, 0, len(cfg.Scanner.Intermediates))
	for _, symbol := range cfg.Scanner.Intermediates {
		tok, ok := cfg.TokenBySymbol(symbol)
		if !ok {
			return nil, fmt.Errorf("intermediate token %q is not configured", symbol)
		}
		intermediates = append(intermediates, common.HexToAddress(tok.Address))
	}

	return &Bot{
		cfg:    cfg,
		client: client,
		scanner: scanner.New(adapters, scanner.Config{
			QuoteTimeout: cfg.Scanner.QuoteTimeout,
			TopN:         cfg.Scanner.TopN,
			Registerer:   promReg,
		}, logger),
		validator:     v,
		estimator:     gas.NewEstimator(client, logger),
		executor:      exec,
		prices:        prices,
		binding:       binding,
		sim:           sim,
		metrics:       engineMetrics,
		metricsSrv:    metricsSrv,
		runtimeMon:    runtimeMon,
		selectors:     selectors,
		baseToken:     baseToken,
		baseAddr:      common.HexToAddress(baseToken.Address),
		intermediates: intermediates,
		logger:        logger,
	}, nil
}

func buildAdapter(v config.VenueConfig, client *ethclient.Client, recipient common.Address, logger *zap.Logger) (dex.Adapter, error) {
	switch v.Kind {
	case "constant-product":
		return univ2.New(univ2.Config{
			Name:      v.Name,
			Caller:    client,
			Router:    common.HexToAddress(v.Router),
			Factory:   common.HexToAddress(v.Factory),
			InitCode:  common.FromHex(v.InitCode),
			FeeBps:    v.FeeBps,
			Recipient: recipient,
			Logger:    logger,
		})
	case "concentrated-liquidity":
		return univ3.New(univ3.Config{
			Name:      v.Name,
			Caller:    client,
			Router:    common.HexToAddress(v.Router),
			Quoter:    common.HexToAddress(v.Quoter),
			Factory:   common.HexToAddress(v.Factory),
			Recipient: recipient,
			Logger:    logger,
		})
	case "weighted-pool":
		pools, err := vaultPools(v)
		if err != nil {
			return nil, err
		}
		return balancer.New(balancer.Config{
			Name:      v.Name,
			Caller:    client,
			Vault:     common.HexToAddress(v.Vault),
			Pools:     pools,
			Recipient: recipient,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown venue kind %q", v.Kind)
	}
}

// vaultPools converts configured pool registrations into adapter pools. The
// pool contract address is the first 20 bytes of the vault pool ID.
func vaultPools(v config.VenueConfig) ([]*types.Pool, error) {
	pools := make([]*types.Pool, 0, len(v.Pools))
	for _, pc := range v.Pools {
		raw := common.FromHex(pc.ID)
		if len(raw) != 32 {
			return nil, fmt.Errorf("pool %q: id must be 32 bytes of hex", pc.ID)
		}
		var id [32]byte
		copy(id[:], raw)

		tokens := make([]common.Address, len(pc.Tokens))
		for i, tok := range pc.Tokens {
			tokens[i] = common.HexToAddress(tok)
		}

		p := &types.Pool{
			Venue:   v.Name,
			Kind:    types.VenueWeightedPool,
			Address: common.BytesToAddress(raw[:20]),
			Tokens:  tokens,
			FeeBps:  pc.FeeBps,
			PoolID:  id,
		}
		switch pc.Kind {
		case "stable":
			p.PoolKind = types.PoolKindStable
		case "", "weighted":
			p.PoolKind = types.PoolKindWeighted
		default:
			p.PoolKind = types.PoolKindUnknown
		}

		if pc.WeightIn != "" {
			win, ok := new(big.Int).SetString(pc.WeightIn, 10)
			if !ok {
				return nil, fmt.Errorf("pool %q: weight_in %q is not a valid integer", pc.ID, pc.WeightIn)
			}
			wout, ok := new(big.Int).SetString(pc.WeightOut, 10)
			if !ok {
				return nil, fmt.Errorf("pool %q: weight_out %q is not a valid integer", pc.ID, pc.WeightOut)
			}
			p.WeightIn, p.WeightOut = win, wout
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func strategyByProfile(profile string) gas.Strategy {
	switch profile {
	case "conservative":
		return gas.Conservative()
	case "aggressive":
		return gas.Aggressive()
	default:
		return gas.Default()
	}
}

// Start launches the scan loop.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("starting arbitrage engine",
		zap.String("base_token", b.baseToken.Symbol),
		zap.Int("venues", len(b.selectors)),
		zap.Int("intermediates", len(b.intermediates)))

	if b.metricsSrv != nil {
		b.metricsSrv.Start()
		b.runtimeMon.Start(ctx)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.Scanner.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.tick(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the scan loop to finish.
func (b *Bot) Stop() {
	b.estimator.Stop()
	b.wg.Wait()
	if b.metricsSrv != nil {
		b.runtimeMon.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.metricsSrv.Shutdown(ctx); err != nil {
			b.logger.Warn("metrics endpoint shutdown failed", zap.Error(err))
		}
	}
	b.logger.Info("arbitrage engine stopped")
}

// ScanOnce runs a single discovery pass and returns the ranked candidates
// without validating or executing anything.
func (b *Bot) ScanOnce(ctx context.Context) []types.ArbitrageOpportunity {
	loan := b.cfg.Scanner.LoanAmount

	var opps []types.ArbitrageOpportunity
	for _, mid := range b.intermediates {
		opps = append(opps, b.scanner.ScanDirect(ctx, b.baseAddr, mid, loan)...)
	}
	opps = append(opps, b.scanner.ScanTriangle(ctx, b.baseAddr, b.intermediates, loan)...)
	return b.scanner.TopCandidates(opps)
}

// tick runs one full scan/validate/execute pass.
func (b *Bot) tick(ctx context.Context) {
	loan := b.cfg.Scanner.LoanAmount
	started := time.Now()

	var opps []types.ArbitrageOpportunity
	for _, mid := range b.intermediates {
		opps = append(opps, b.scanner.ScanDirect(ctx, b.baseAddr, mid, loan)...)
	}
	opps = append(opps, b.scanner.ScanTriangle(ctx, b.baseAddr, b.intermediates, loan)...)

	if b.metrics != nil {
		b.metrics.ScanCycles.Inc()
		b.metrics.ScanDuration.Observe(time.Since(started).Seconds())
		b.metrics.Candidates.Add(float64(len(opps)))
	}
	if len(opps) == 0 {
		return
	}

	for _, c := range b.validateAll(ctx, b.scanner.TopCandidates(opps)) {
		b.execute(ctx, c)
	}
}

// candidate is one accepted opportunity and the conditions it was accepted
// under.
type candidate struct {
	opp      types.ArbitrageOpportunity
	result   types.ValidationResult
	gasLimit uint64
}

// validateAll runs the top-N validation pass concurrently and returns the
// accepted candidates in rank order. Execution stays serialized.
func (b *Bot) validateAll(ctx context.Context, opps []types.ArbitrageOpportunity) []candidate {
	verdicts := make([]*candidate, len(opps))

	g, gctx := errgroup.WithContext(ctx)
	for i := range opps {
		i := i
		g.Go(func() error {
			verdicts[i] = b.validate(gctx, opps[i])
			return nil
		})
	}
	_ = g.Wait() // rejections are recorded, never returned as errors

	accepted := make([]candidate, 0, len(opps))
	for _, v := range verdicts {
		if v != nil {
			accepted = append(accepted, *v)
		}
	}
	return accepted
}

// validate runs the profit-after-gas model on one candidate; nil means
// rejected, already counted and logged.
func (b *Bot) validate(ctx context.Context, opp types.ArbitrageOpportunity) *candidate {
	gasPrice := b.estimator.NetworkGasPrice()
	if b.cfg.Gas.MaxGasPrice != nil && gasPrice.Cmp(b.cfg.Gas.MaxGasPrice) > 0 {
		b.logger.Debug("network gas price above ceiling, skipping",
			zap.String("gas_price", gasPrice.String()))
		return nil
	}

	price, err := b.prices.Price(ctx, b.baseToken.Symbol)
	if err != nil {
		b.logger.Warn("price lookup failed, skipping opportunity",
			zap.String("symbol", b.baseToken.Symbol),
			zap.Error(err))
		return nil
	}

	gasLimit := gas.EstimateArbitrageGas(opp.Path.Hops())
	result := b.validator.Validate(opp, validator.Conditions{
		NetworkGasPrice: gasPrice,
		GasLimit:        gasLimit,
		TokenPriceUSD:   price,
		TokenDecimals:   b.baseToken.Decimals,
	})
	if b.metrics != nil {
		b.metrics.GasPrice.Observe(float64(gasPrice.Uint64()))
	}
	if !result.Accepted {
		if b.metrics != nil {
			b.metrics.Rejected.WithLabelValues(result.Reason.String()).Inc()
		}
		b.logger.Debug("opportunity rejected",
			zap.String("reason", result.Reason.String()),
			zap.String("detail", result.Detail))
		return nil
	}
	if b.metrics != nil {
		b.metrics.Accepted.Inc()
		b.metrics.SpreadBps.Observe(float64(opp.SpreadBps))
	}
	return &candidate{opp: opp, result: result, gasLimit: gasLimit}
}

// execute dry-runs and submits one accepted candidate.
func (b *Bot) execute(ctx context.Context, c candidate) {
	req, err := b.buildRequest(c.opp, c.gasLimit)
	if err != nil {
		b.logger.Warn("could not encode opportunity", zap.Error(err))
		return
	}

	if b.sim != nil {
		dry, err := b.sim.DryRun(ctx, req.To, req.Data, nil)
		if err != nil {
			b.logger.Warn("dry run unavailable, skipping opportunity", zap.Error(err))
			return
		}
		if !dry.Success {
			b.logger.Debug("dry run reverted, skipping opportunity",
				zap.String("revert_reason", dry.RevertReason),
				zap.Error(dry.Err))
			return
		}
	}

	outcome := b.executor.Execute(ctx, req)
	if outcome.Success {
		b.logger.Info("opportunity executed",
			zap.String("tx_hash", outcome.TxHash.Hex()),
			zap.Int("attempts", outcome.Attempts),
			zap.Int64("profit_bps", c.result.ProfitBps))
	}
}

// buildRequest encodes an opportunity as an executor contract call.
func (b *Bot) buildRequest(opp types.ArbitrageOpportunity, gasLimit uint64) (executor.Request, error) {
	venueSelector := make([]uint8, len(opp.Venues))
	for i, name := range opp.Venues {
		sel, ok := b.selectors[name]
		if !ok {
			return executor.Request{}, fmt.Errorf("venue %q has no contract selector", name)
		}
		venueSelector[i] = sel
	}

	layout := contract.LayoutDirect
	if opp.Path.Hops() > 2 {
		layout = contract.LayoutTriangle
	}
	data, err := b.binding.PackExecute(&contract.CallParams{
		Layout:        layout,
		LoanAsset:     opp.BorrowToken,
		LoanAmount:    opp.LoanAmount,
		Path:          opp.Path.Tokens,
		VenueSelector: venueSelector,
		FeeTiers:      opp.FeeTiers,
	})
	if err != nil {
		return executor.Request{}, err
	}

	return executor.Request{
		Opportunity: opp,
		To:          b.binding.Address(),
		Data:        data,
		GasLimit:    gasLimit,
	}, nil
}
