// Package simulator dry-runs executor contract calls against a node
// before any transaction is signed. It is the safety net for the public
// submission path, where there is no relay simulation to lean on.
package simulator

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/arbiterlabs/flasharb/contract"
)

// Backend is the slice of the ethclient surface a dry run needs.
type Backend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// dataError is the geth rpc error surface that carries revert data.
type dataError interface {
	ErrorData() interface{}
}

// Result is the outcome of one dry run.
type Result struct {
	Success bool
	GasUsed uint64
	// RevertReason is the decoded Error(string) payload when the call
	// reverted with one, otherwise empty.
	RevertReason string
	Err          error
}

// Simulator dry-runs calls from a fixed sender address.
type Simulator struct {
	backend Backend
	from    common.Address
	logger  *zap.Logger
}

func New(backend Backend, from common.Address, logger *zap.Logger) (*Simulator, error) {
	if backend == nil {
		return nil, fmt.Errorf("simulator requires a backend")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{backend: backend, from: from, logger: logger}, nil
}

// DryRun executes the call against the latest state without submitting
// anything. A revert is reported in the Result, not as an error; errors
// are reserved for the node being unreachable.
func (s *Simulator) DryRun(ctx context.Context, to common.Address, data []byte, value *big.Int) (*Result, error) {
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching gas price: %w", err)
	}

	msg := ethereum.CallMsg{
		From:     s.from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	}

	gasUsed, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		return s.failure(gasUsed, err), nil
	}

	if _, err := s.backend.CallContract(ctx, msg, nil); err != nil {
		return s.failure(gasUsed, err), nil
	}

	return &Result{Success: true, GasUsed: gasUsed}, nil
}

func (s *Simulator) failure(gasUsed uint64, err error) *Result {
	res := &Result{GasUsed: gasUsed, Err: err}
	if reason, ok := revertReason(err); ok {
		res.RevertReason = reason
		s.logger.Debug("dry run reverted", zap.String("reason", reason))
	}
	return res
}

// revertReason digs the Error(string) payload out of a node error.
func revertReason(err error) (string, bool) {
	de, ok := err.(dataError)
	if !ok {
		return "", false
	}
	raw, ok := de.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return "", false
	}
	reason, err := contract.DecodeRevertReason(data)
	if err != nil {
		return "", false
	}
	return reason, true
}
