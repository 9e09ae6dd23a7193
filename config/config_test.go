package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
chain_id: 1
rpc_endpoint: http://localhost:8545
venues:
  - name: uniswap-v2
    kind: constant-product
    router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
    factory: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
    fee_bps: 30
  - name: uniswap-v3
    kind: concentrated-liquidity
    router: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
    quoter: "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"
scanner:
  base_token: WETH
  loan_amount: "1000000000000000000"
validator:
  min_profit_usd: 25
  slippage_tolerance_pct: 2
  min_profit_bps: 10
gas:
  profile: aggressive
  max_gas_price: "300000000000"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), cfg.ChainID)
	require.Len(t, cfg.Venues, 2)
	assert.Equal(t, "constant-product", cfg.Venues[0].Kind)
	assert.Equal(t, uint32(30), cfg.Venues[0].FeeBps)

	// YAML big integers arrive as strings and must be resolved.
	assert.Equal(t, 0, cfg.Scanner.LoanAmount.Cmp(big.NewInt(1e18)))
	assert.Equal(t, 0, cfg.Gas.MaxGasPrice.Cmp(big.NewInt(3e11)))

	assert.Equal(t, float64(25), cfg.Validator.MinProfitUSD)
	assert.Equal(t, "aggressive", cfg.Gas.Profile)

	// Defaults survive where the file is silent.
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.Equal(t, 10, cfg.Scanner.TopN)
}

func TestLoadJSONConfig(t *testing.T) {
	const jsonConfig = `{
		"chain_id": 5,
		"rpc_endpoint": "http://localhost:8545",
		"venues": [
			{"name": "a", "kind": "constant-product"},
			{"name": "b", "kind": "weighted-pool"}
		],
		"scanner": {"base_token": "WETH", "loan_amount": 1000000000000000000}
	}`
	cfg, err := LoadConfig(writeConfig(t, "config.json", jsonConfig))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cfg.ChainID)
	assert.Equal(t, "weighted-pool", cfg.Venues[1].Kind)
}

func TestVaultPoolRegistration(t *testing.T) {
	const withPools = `
chain_id: 1
rpc_endpoint: http://localhost:8545
venues:
  - name: uniswap-v2
    kind: constant-product
    router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
  - name: balancer
    kind: weighted-pool
    vault: "0xBA12222222228d8Ba445958a75a0704d566BF2C8"
    pools:
      - id: "0x5c6ee304399dbdb9c8ef030ab642b10820db8f56000200000000000000000014"
        tokens:
          - "0xba100000625a3754423978a60c9317c58a424e3D"
          - "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
        kind: weighted
        fee_bps: 100
        weight_in: "800000000000000000"
        weight_out: "200000000000000000"
      - id: "0x06df3b2bbb68adc8b0e302443692037ed9f91b42000000000000000000000063"
        tokens:
          - "0x6B175474E89094C44Da98b954EedeAC495271d0F"
          - "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
        kind: stable
scanner:
  base_token: WETH
  loan_amount: "1000000000000000000"
`
	cfg, err := LoadConfig(writeConfig(t, "config.yaml", withPools))
	require.NoError(t, err)

	require.Len(t, cfg.Venues[1].Pools, 2)
	first := cfg.Venues[1].Pools[0]
	assert.Equal(t, "weighted", first.Kind)
	assert.Equal(t, uint32(100), first.FeeBps)
	assert.Equal(t, "800000000000000000", first.WeightIn)
	assert.Equal(t, "stable", cfg.Venues[1].Pools[1].Kind)
}

func TestVaultPoolValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues = []VenueConfig{
		{Name: "a", Kind: "constant-product"},
		{Name: "b", Kind: "weighted-pool", Pools: []PoolConfig{{
			ID:       "0x1234", // too short
			Tokens:   []string{"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"},
			Kind:     "nonsense",
			WeightIn: "800000000000000000", // no weight_out
		}}},
	}

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id must be 32 bytes")
	assert.Contains(t, err.Error(), "at least two tokens")
	assert.Contains(t, err.Error(), "unknown pool kind")
	assert.Contains(t, err.Error(), "weights must come as a pair")
}

func TestValidationCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChainID = 0
	cfg.RPCEndpoint = ""
	cfg.Venues = []VenueConfig{{Name: "only-one", Kind: "nonsense"}}
	cfg.Validator.SlippageTolerancePct = 200

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain_id")
	assert.Contains(t, err.Error(), "rpc_endpoint")
	assert.Contains(t, err.Error(), "at least two venues")
	assert.Contains(t, err.Error(), "unknown kind")
	assert.Contains(t, err.Error(), "slippage_tolerance_pct")
}

func TestRelayRequiresEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Venues = []VenueConfig{
		{Name: "a", Kind: "constant-product"},
		{Name: "b", Kind: "constant-product"},
	}
	cfg.FlashbotsRPC = ""
	cfg.Executor.UseRelay = true

	err := cfg.ValidateConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flashbots_rpc")
}

func TestEnvOverridesEndpoint(t *testing.T) {
	t.Setenv(EnvRPCEndpoint, "http://override:8545")

	cfg, err := LoadConfig(writeConfig(t, "config.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "http://override:8545", cfg.RPCEndpoint)
}

func TestSecureConfigFromEnv(t *testing.T) {
	t.Setenv(EnvPrivateKey, "aa")
	t.Setenv(EnvFlashbotsKey, "bb")

	sec, err := LoadSecureConfig()
	require.NoError(t, err)
	assert.Equal(t, "aa", sec.PrivateKey)
	assert.Equal(t, "bb", sec.FlashbotsKey)

	t.Setenv(EnvPrivateKey, "")
	_, err = LoadSecureConfig()
	assert.Error(t, err)
}

func TestTokenBySymbol(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tokens = []TokenConfig{{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18}}

	tok, ok := cfg.TokenBySymbol("weth")
	require.True(t, ok)
	assert.Equal(t, uint8(18), tok.Decimals)

	_, ok = cfg.TokenBySymbol("NOPE")
	assert.False(t, ok)
}
