package gas

import (
	"context"
	"math/big"
	"testing"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

type stubChain struct {
	base *big.Int
	tip  *big.Int
}

func (s stubChain) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(1), BaseFee: s.base}, nil
}

func (s stubChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return s.tip, nil
}

// The network price is primed at construction, not only after the first
// ticker fire: a validation pass in the first second must not see zero and
// let the gas-vs-profit gate pass vacuously.
func TestEstimatorPrimedAtConstruction(t *testing.T) {
	e := NewEstimator(stubChain{base: gwei(30), tip: gwei(2)}, nil)
	defer e.Stop()

	assert.Equal(t, 0, e.NetworkGasPrice().Cmp(gwei(32)))
}

func TestEstimateGasCost(t *testing.T) {
	e := NewEstimator(stubChain{base: gwei(10), tip: gwei(1)}, nil)
	defer e.Stop()

	want := new(big.Int).Mul(gwei(11), big.NewInt(100_000))
	assert.Equal(t, 0, e.EstimateGasCost(100_000).Cmp(want))
}

func TestEstimateArbitrageGasGrowsPerHop(t *testing.T) {
	two := EstimateArbitrageGas(2)
	three := EstimateArbitrageGas(3)
	assert.Greater(t, three, two)
	assert.Equal(t, uint64(152000), three-two)
	assert.Equal(t, EstimateArbitrageGas(0), EstimateArbitrageGas(-1))
}
