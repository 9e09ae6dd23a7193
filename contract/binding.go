// Package contract encodes calls to the on-chain arbitrage executor and
// models its atomic borrow/swap/repay state machine for dry runs and tests.
package contract

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/arbiterlabs/flasharb/types"
)

// Layout tags the parameter encoding of a loan callback. The tag is always
// present and fixed-width; the decoder never guesses the layout from whether
// a speculative decode happens to succeed.
type Layout uint8

const (
	// LayoutDirect is the two-hop round trip encoding.
	LayoutDirect Layout = 1

	// LayoutTriangle is the three-or-more-hop closed loop encoding.
	LayoutTriangle Layout = 2
)

const executorABI = `[
	{"type":"function","name":"executeArbitrage","stateMutability":"nonpayable","inputs":[
		{"name":"loanAsset","type":"address"},
		{"name":"loanAmount","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"venueSelector","type":"uint8[]"},
		{"name":"feeTier","type":"uint24[]"}],"outputs":[]},
	{"type":"function","name":"executeTriangleArbitrage","stateMutability":"nonpayable","inputs":[
		{"name":"loanAsset","type":"address"},
		{"name":"loanAmount","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"venueSelector","type":"uint8[]"},
		{"name":"feeTier","type":"uint24[]"}],"outputs":[]},
	{"type":"function","name":"setRouter","stateMutability":"nonpayable","inputs":[
		{"name":"selector","type":"uint8"},
		{"name":"router","type":"address"},
		{"name":"routerKind","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"setPairFeeTier","stateMutability":"nonpayable","inputs":[
		{"name":"tokenA","type":"address"},
		{"name":"tokenB","type":"address"},
		{"name":"feeTier","type":"uint24"}],"outputs":[]},
	{"type":"function","name":"setDefaultFeeTier","stateMutability":"nonpayable","inputs":[
		{"name":"feeTier","type":"uint24"}],"outputs":[]},
	{"type":"function","name":"setMinProfit","stateMutability":"nonpayable","inputs":[
		{"name":"minProfit","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"ArbitrageExecuted","anonymous":false,"inputs":[
		{"name":"asset","type":"address","indexed":true},
		{"name":"loanAmount","type":"uint256","indexed":false},
		{"name":"profit","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]}
]`

// errorSelector is the 4-byte selector of the solidity Error(string) ABI.
var errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// CallParams is one fully specified entry-point invocation.
type CallParams struct {
	Layout        Layout
	LoanAsset     common.Address
	LoanAmount    *big.Int
	Path          []common.Address
	VenueSelector []uint8
	FeeTiers      []uint32
}

// Hops returns the number of swaps the call performs.
func (p *CallParams) Hops() int { return len(p.Path) - 1 }

// Validate enforces the structural invariants every entry point checks
// before any funds move.
func (p *CallParams) Validate() error {
	if p.Layout != LayoutDirect && p.Layout != LayoutTriangle {
		return fmt.Errorf("unknown callback layout %d", p.Layout)
	}
	if p.LoanAmount == nil || p.LoanAmount.Sign() <= 0 {
		return fmt.Errorf("loan amount must be positive")
	}
	if len(p.Path) < 3 {
		return fmt.Errorf("path needs at least two hops, got %d tokens", len(p.Path))
	}
	if p.Path[0] != p.Path[len(p.Path)-1] {
		return fmt.Errorf("path must close the loop: first token %s, last %s",
			p.Path[0].Hex(), p.Path[len(p.Path)-1].Hex())
	}
	if p.Path[0] != p.LoanAsset {
		return fmt.Errorf("path must start at the loan asset")
	}
	if len(p.VenueSelector) != p.Hops() {
		return fmt.Errorf("venue selector length %d does not match %d hops",
			len(p.VenueSelector), p.Hops())
	}
	if len(p.FeeTiers) != 0 && len(p.FeeTiers) != p.Hops() {
		return fmt.Errorf("fee tier length %d must be zero or match %d hops",
			len(p.FeeTiers), p.Hops())
	}
	if p.Layout == LayoutTriangle && p.Hops() < 3 {
		return fmt.Errorf("triangle layout requires at least three hops")
	}
	return nil
}

// ArbitrageExecuted is the decoded profit event.
type ArbitrageExecuted struct {
	Asset      common.Address
	LoanAmount *big.Int
	Profit     *big.Int
	Timestamp  *big.Int
}

// Binding packs and unpacks the executor contract's ABI.
type Binding struct {
	address common.Address
	abi     abi.ABI
}

// NewBinding creates a binding for the executor deployed at address.
func NewBinding(address common.Address) (*Binding, error) {
	parsed, err := abi.JSON(strings.NewReader(executorABI))
	if err != nil {
		return nil, fmt.Errorf("parsing executor ABI: %w", err)
	}
	return &Binding{address: address, abi: parsed}, nil
}

// Address returns the deployed contract address.
func (b *Binding) Address() common.Address { return b.address }

// PackExecute encodes the entry point matching the call's layout. Fee tiers
// are padded with zeros, which the contract resolves through its fallback
// chain.
func (b *Binding) PackExecute(p *CallParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	method := "executeArbitrage"
	if p.Layout == LayoutTriangle {
		method = "executeTriangleArbitrage"
	}

	tiers := make([]*big.Int, p.Hops())
	for i := range tiers {
		if i < len(p.FeeTiers) {
			tiers[i] = new(big.Int).SetUint64(uint64(p.FeeTiers[i]))
		} else {
			tiers[i] = new(big.Int)
		}
	}

	data, err := b.abi.Pack(method, p.LoanAsset, p.LoanAmount, p.Path, p.VenueSelector, tiers)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	return data, nil
}

// PackSetRouter encodes the admin router update.
func (b *Binding) PackSetRouter(selector uint8, router common.Address, kind types.VenueKind) ([]byte, error) {
	data, err := b.abi.Pack("setRouter", selector, router, uint8(kind))
	if err != nil {
		return nil, fmt.Errorf("packing setRouter: %w", err)
	}
	return data, nil
}

// PackSetPairFeeTier encodes the per-pair optimal fee tier update.
func (b *Binding) PackSetPairFeeTier(tokenA, tokenB common.Address, feeTier uint32) ([]byte, error) {
	data, err := b.abi.Pack("setPairFeeTier", tokenA, tokenB, new(big.Int).SetUint64(uint64(feeTier)))
	if err != nil {
		return nil, fmt.Errorf("packing setPairFeeTier: %w", err)
	}
	return data, nil
}

// PackSetDefaultFeeTier encodes the global default fee tier update.
func (b *Binding) PackSetDefaultFeeTier(feeTier uint32) ([]byte, error) {
	data, err := b.abi.Pack("setDefaultFeeTier", new(big.Int).SetUint64(uint64(feeTier)))
	if err != nil {
		return nil, fmt.Errorf("packing setDefaultFeeTier: %w", err)
	}
	return data, nil
}

// PackSetMinProfit encodes the minimum-profit floor update.
func (b *Binding) PackSetMinProfit(minProfit *big.Int) ([]byte, error) {
	data, err := b.abi.Pack("setMinProfit", minProfit)
	if err != nil {
		return nil, fmt.Errorf("packing setMinProfit: %w", err)
	}
	return data, nil
}

// PackWithdraw encodes the profit withdrawal.
func (b *Binding) PackWithdraw(token common.Address, amount *big.Int) ([]byte, error) {
	data, err := b.abi.Pack("withdraw", token, amount)
	if err != nil {
		return nil, fmt.Errorf("packing withdraw: %w", err)
	}
	return data, nil
}

// ParseArbitrageExecuted decodes the profit event from a receipt log.
func (b *Binding) ParseArbitrageExecuted(log ethtypes.Log) (*ArbitrageExecuted, error) {
	event := b.abi.Events["ArbitrageExecuted"]
	if len(log.Topics) < 2 || log.Topics[0] != event.ID {
		return nil, fmt.Errorf("log is not an ArbitrageExecuted event")
	}

	out := &ArbitrageExecuted{
		Asset: common.BytesToAddress(log.Topics[1].Bytes()),
	}
	unpacked, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpacking ArbitrageExecuted: %w", err)
	}
	if len(unpacked) != 3 {
		return nil, fmt.Errorf("unexpected ArbitrageExecuted field count %d", len(unpacked))
	}
	out.LoanAmount = unpacked[0].(*big.Int)
	out.Profit = unpacked[1].(*big.Int)
	out.Timestamp = unpacked[2].(*big.Int)
	return out, nil
}

// DecodeRevertReason extracts the string from Error(string) revert data.
func DecodeRevertReason(data []byte) (string, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], errorSelector) {
		return "", fmt.Errorf("revert data does not carry Error(string)")
	}
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		return "", err
	}
	args := abi.Arguments{{Type: stringType}}
	unpacked, err := args.Unpack(data[4:])
	if err != nil {
		return "", fmt.Errorf("unpacking revert reason: %w", err)
	}
	return unpacked[0].(string), nil
}
