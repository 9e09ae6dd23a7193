// Package config loads and validates the engine's runtime configuration from
// JSON or YAML files, with secrets supplied through the environment.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// Config is the full engine configuration.
type Config struct {
	// Chain and network settings
	ChainID      uint64 `json:"chain_id" yaml:"chain_id"`
	RPCEndpoint  string `json:"rpc_endpoint" yaml:"rpc_endpoint"`
	WSEndpoint   string `json:"ws_endpoint" yaml:"ws_endpoint"`
	FlashbotsRPC string `json:"flashbots_rpc" yaml:"flashbots_rpc"`

	// Contract addresses
	ExecutorContract string `json:"executor_contract" yaml:"executor_contract"`
	LendingPool      string `json:"lending_pool" yaml:"lending_pool"`

	// Venues and tokens
	Venues []VenueConfig `json:"venues" yaml:"venues"`
	Tokens []TokenConfig `json:"tokens" yaml:"tokens"`

	// Component tuning
	Scanner   ScannerConfig   `json:"scanner" yaml:"scanner"`
	Validator ValidatorConfig `json:"validator" yaml:"validator"`
	Gas       GasConfig       `json:"gas" yaml:"gas"`
	Executor  ExecutorConfig  `json:"executor" yaml:"executor"`
	Oracle    OracleConfig    `json:"oracle" yaml:"oracle"`

	// Observability
	PrometheusEnabled  bool   `json:"prometheus_enabled" yaml:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint" yaml:"prometheus_endpoint"`
}

// VenueConfig describes one swap venue adapter.
type VenueConfig struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"` // constant-product | concentrated-liquidity | weighted-pool
	Router   string `json:"router" yaml:"router"`
	Factory  string `json:"factory" yaml:"factory"`
	Quoter   string `json:"quoter" yaml:"quoter"`
	Vault    string `json:"vault" yaml:"vault"`
	InitCode string `json:"init_code" yaml:"init_code"`
	FeeBps   uint32 `json:"fee_bps" yaml:"fee_bps"`

	// Pools registers vault pools for weighted-pool venues, which have no
	// on-chain pair->pool derivation.
	Pools []PoolConfig `json:"pools,omitempty" yaml:"pools,omitempty"`
}

// PoolConfig registers one vault pool on a weighted-pool venue. Weights are
// 1e18-scale integers carried as strings and must come as a pair.
type PoolConfig struct {
	ID        string   `json:"id" yaml:"id"`
	Tokens    []string `json:"tokens" yaml:"tokens"`
	Kind      string   `json:"kind" yaml:"kind"` // weighted | stable
	FeeBps    uint32   `json:"fee_bps" yaml:"fee_bps"`
	WeightIn  string   `json:"weight_in" yaml:"weight_in"`
	WeightOut string   `json:"weight_out" yaml:"weight_out"`
}

// TokenConfig names a token the scanner may route through.
type TokenConfig struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Address  string `json:"address" yaml:"address"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

// ScannerConfig tunes opportunity discovery.
type ScannerConfig struct {
	Interval      time.Duration `json:"interval" yaml:"interval"`
	QuoteTimeout  time.Duration `json:"quote_timeout" yaml:"quote_timeout"`
	TopN          int           `json:"top_n" yaml:"top_n"`
	BaseToken     string        `json:"base_token" yaml:"base_token"`
	Intermediates []string      `json:"intermediates" yaml:"intermediates"`
	LoanAmount    *big.Int      `json:"loan_amount" yaml:"-"`
	LoanAmountStr string        `json:"-" yaml:"loan_amount"`
}

// ValidatorConfig holds acceptance thresholds.
type ValidatorConfig struct {
	MinProfitUSD         float64 `json:"min_profit_usd" yaml:"min_profit_usd"`
	SlippageTolerancePct int64   `json:"slippage_tolerance_pct" yaml:"slippage_tolerance_pct"`
	MinProfitBps         int64   `json:"min_profit_bps" yaml:"min_profit_bps"`
}

// GasConfig selects a bidding profile and a hard price ceiling.
type GasConfig struct {
	Profile     string   `json:"profile" yaml:"profile"` // conservative | default | aggressive
	MaxGasPrice *big.Int `json:"max_gas_price" yaml:"-"`
	MaxGasStr   string   `json:"-" yaml:"max_gas_price"`
}

// ExecutorConfig tunes submission and retry behavior.
type ExecutorConfig struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	BaseBackoff  time.Duration `json:"base_backoff" yaml:"base_backoff"`
	BundleBlocks uint64        `json:"bundle_blocks" yaml:"bundle_blocks"`
	GasLimit     uint64        `json:"gas_limit" yaml:"gas_limit"`
	UseRelay     bool          `json:"use_relay" yaml:"use_relay"`
}

// OracleConfig tunes price lookups.
type OracleConfig struct {
	CacheTTL     time.Duration      `json:"cache_ttl" yaml:"cache_ttl"`
	RatePerSec   float64            `json:"rate_per_sec" yaml:"rate_per_sec"`
	StaticPrices map[string]float64 `json:"static_prices" yaml:"static_prices"`
}

// SecureConfig carries key material, never read from config files.
type SecureConfig struct {
	PrivateKey   string
	FlashbotsKey string
}

var venueKinds = map[string]bool{
	"constant-product":       true,
	"concentrated-liquidity": true,
	"weighted-pool":          true,
}

// ValidateConfig checks the whole configuration and reports every problem.
func (c *Config) ValidateConfig() error {
	var errs []string

	if c.ChainID == 0 {
		errs = append(errs, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errs = append(errs, "rpc_endpoint must be specified")
	}
	if c.ExecutorContract != "" && !common.IsHexAddress(c.ExecutorContract) {
		errs = append(errs, "executor_contract is not a valid address")
	}
	if len(c.Venues) < 2 {
		errs = append(errs, "at least two venues are required to arbitrage")
	}
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venue %d: name must be specified", i))
		}
		if !venueKinds[v.Kind] {
			errs = append(errs, fmt.Sprintf("venue %q: unknown kind %q", v.Name, v.Kind))
		}
		if v.Router != "" && !common.IsHexAddress(v.Router) {
			errs = append(errs, fmt.Sprintf("venue %q: router is not a valid address", v.Name))
		}
		for j, p := range v.Pools {
			if len(common.FromHex(p.ID)) != 32 {
				errs = append(errs, fmt.Sprintf("venue %q pool %d: id must be 32 bytes of hex", v.Name, j))
			}
			if len(p.Tokens) < 2 {
				errs = append(errs, fmt.Sprintf("venue %q pool %d: at least two tokens are required", v.Name, j))
			}
			for _, tok := range p.Tokens {
				if !common.IsHexAddress(tok) {
					errs = append(errs, fmt.Sprintf("venue %q pool %d: token %q is not a valid address", v.Name, j, tok))
				}
			}
			switch p.Kind {
			case "", "weighted", "stable":
			default:
				errs = append(errs, fmt.Sprintf("venue %q pool %d: unknown pool kind %q", v.Name, j, p.Kind))
			}
			if (p.WeightIn == "") != (p.WeightOut == "") {
				errs = append(errs, fmt.Sprintf("venue %q pool %d: weights must come as a pair", v.Name, j))
			}
			for _, w := range []string{p.WeightIn, p.WeightOut} {
				if w == "" {
					continue
				}
				if _, ok := new(big.Int).SetString(w, 10); !ok {
					errs = append(errs, fmt.Sprintf("venue %q pool %d: weight %q is not a valid integer", v.Name, j, w))
				}
			}
		}
	}
	for _, tok := range c.Tokens {
		if !common.IsHexAddress(tok.Address) {
			errs = append(errs, fmt.Sprintf("token %q: invalid address", tok.Symbol))
		}
	}
	if c.Scanner.BaseToken == "" {
		errs = append(errs, "scanner.base_token must be specified")
	}
	if c.Scanner.LoanAmount == nil || c.Scanner.LoanAmount.Sign() <= 0 {
		errs = append(errs, "scanner.loan_amount must be positive")
	}
	if c.Validator.SlippageTolerancePct < 0 || c.Validator.SlippageTolerancePct > 100 {
		errs = append(errs, "validator.slippage_tolerance_pct must be within [0,100]")
	}
	if c.Validator.MinProfitUSD < 0 {
		errs = append(errs, "validator.min_profit_usd must be non-negative")
	}
	switch c.Gas.Profile {
	case "", "default", "conservative", "aggressive":
	default:
		errs = append(errs, fmt.Sprintf("gas.profile %q is not recognized", c.Gas.Profile))
	}
	if c.Executor.MaxAttempts < 0 {
		errs = append(errs, "executor.max_attempts must be non-negative")
	}
	if c.Executor.UseRelay && c.FlashbotsRPC == "" {
		errs = append(errs, "flashbots_rpc must be specified when executor.use_relay is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TokenBySymbol finds a configured token.
func (c *Config) TokenBySymbol(symbol string) (TokenConfig, bool) {
	for _, tok := range c.Tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			return tok, true
		}
	}
	return TokenConfig{}, false
}

// LoadConfig reads a configuration file, choosing the codec by extension.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".flasharb.json")
	}

	raw, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	switch ext := filepath.Ext(cfgFile); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("decoding YAML config: %w", err)
		}
		if err := config.resolveYAMLNumbers(); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("decoding JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}

	applyEnvOverrides(config)

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}
	return config, nil
}

// resolveYAMLNumbers converts big-integer fields carried as strings, since
// YAML has no arbitrary-precision integers.
func (c *Config) resolveYAMLNumbers() error {
	if c.Scanner.LoanAmountStr != "" {
		amount, ok := new(big.Int).SetString(c.Scanner.LoanAmountStr, 10)
		if !ok {
			return fmt.Errorf("scanner.loan_amount %q is not a valid integer", c.Scanner.LoanAmountStr)
		}
		c.Scanner.LoanAmount = amount
	}
	if c.Gas.MaxGasStr != "" {
		price, ok := new(big.Int).SetString(c.Gas.MaxGasStr, 10)
		if !ok {
			return fmt.Errorf("gas.max_gas_price %q is not a valid integer", c.Gas.MaxGasStr)
		}
		c.Gas.MaxGasPrice = price
	}
	return nil
}

// applyEnvOverrides lets deploy environments override endpoints without
// editing the config file.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv(EnvRPCEndpoint); v != "" {
		c.RPCEndpoint = v
	}
	if v := os.Getenv(EnvWSEndpoint); v != "" {
		c.WSEndpoint = v
	}
	if v := os.Getenv(EnvFlashbotsRelay); v != "" {
		c.FlashbotsRPC = v
	}
}

// LoadSecureConfig reads key material from the environment.
func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	// The relay auth key is independent from the signing key; reusing the
	// signing key would tie relay reputation to the funded wallet.
	flashbotsKey, err := GetRequiredEnv(EnvFlashbotsKey)
	if err != nil {
		return nil, fmt.Errorf("flashbots auth key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey:   privateKey,
		FlashbotsKey: flashbotsKey,
	}, nil
}

// SaveConfig writes the configuration as indented JSON.
func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, ".flasharb.json")
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

// DefaultConfig returns mainnet defaults; file values overlay these.
func DefaultConfig() *Config {
	return &Config{
		ChainID:      1,
		RPCEndpoint:  "http://localhost:8545",
		WSEndpoint:   "ws://localhost:8546",
		FlashbotsRPC: "https://relay.flashbots.net",
		Scanner: ScannerConfig{
			Interval:      time.Second,
			QuoteTimeout:  2 * time.Second,
			TopN:          10,
			BaseToken:     "WETH",
			Intermediates: []string{"USDC", "DAI", "WBTC"},
			LoanAmount:    big.NewInt(1e18),
		},
		Validator: ValidatorConfig{
			MinProfitUSD:         10,
			SlippageTolerancePct: 1,
			MinProfitBps:         5,
		},
		Gas: GasConfig{
			Profile:     "default",
			MaxGasPrice: big.NewInt(500_000_000_000), // 500 gwei
		},
		Executor: ExecutorConfig{
			MaxAttempts:  3,
			BaseBackoff:  500 * time.Millisecond,
			BundleBlocks: 3,
			GasLimit:     800_000,
		},
		Oracle: OracleConfig{
			CacheTTL:   30 * time.Second,
			RatePerSec: 5,
		},
	}
}
