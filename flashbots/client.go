// Package flashbots submits transaction bundles to a private relay so that
// failed arbitrage attempts never land on chain and pending transactions are
// invisible to the public mempool.
package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	contentTypeJSON    = "application/json"
	signatureHeader    = "X-Flashbots-Signature"
	methodSendBundle   = "eth_sendBundle"
	methodCallBundle   = "eth_callBundle"
	methodGetUserStats = "flashbots_getUserStats"
)

// Client is a Flashbots relay client. Requests are signed with the auth key
// per the relay's X-Flashbots-Signature scheme.
type Client struct {
	httpClient *http.Client
	relayURL   string
	authKey    *ecdsa.PrivateKey
	logger     *zap.Logger
}

// NewClient creates a relay client. authKey identifies the searcher to the
// relay for reputation purposes; it does not need to hold funds.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, logger *zap.Logger) (*Client, error) {
	if relayURL == "" {
		return nil, fmt.Errorf("relay URL is required")
	}
	if authKey == nil {
		return nil, fmt.Errorf("auth key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 3 * time.Second},
		relayURL:   relayURL,
		authKey:    authKey,
		logger:     logger,
	}, nil
}

// Bundle is a set of signed transactions targeting one block.
type Bundle struct {
	Txs          []*types.Transaction
	BlockNumber  *big.Int
	MinTimestamp uint64
	MaxTimestamp uint64
}

// Simulation is the relay's eth_callBundle verdict.
type Simulation struct {
	Success     bool
	Error       string
	GasUsed     uint64
	EthSent     *big.Int
	EthReceived *big.Int
	Profit      *big.Int
	StateBlock  uint64
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func encodeTxs(txs []*types.Transaction) ([]string, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encoding bundle tx %d: %w", i, err)
		}
		encoded[i] = hexutil.Encode(raw)
	}
	return encoded, nil
}

// SendBundle submits the bundle for inclusion in its target block.
func (c *Client) SendBundle(ctx context.Context, bundle *Bundle) error {
	txs, err := encodeTxs(bundle.Txs)
	if err != nil {
		return err
	}

	args := map[string]interface{}{
		"txs":         txs,
		"blockNumber": hexutil.EncodeBig(bundle.BlockNumber),
	}
	if bundle.MinTimestamp > 0 {
		args["minTimestamp"] = bundle.MinTimestamp
	}
	if bundle.MaxTimestamp > 0 {
		args["maxTimestamp"] = bundle.MaxTimestamp
	}

	var result struct {
		BundleHash string `json:"bundleHash"`
	}
	if err := c.call(ctx, methodSendBundle, []interface{}{args}, &result); err != nil {
		return err
	}

	c.logger.Debug("bundle submitted",
		zap.String("bundle_hash", result.BundleHash),
		zap.String("target_block", bundle.BlockNumber.String()))
	return nil
}

// SimulateBundle asks the relay to execute the bundle against the state of
// the block preceding its target.
func (c *Client) SimulateBundle(ctx context.Context, bundle *Bundle) (*Simulation, error) {
	txs, err := encodeTxs(bundle.Txs)
	if err != nil {
		return nil, err
	}

	args := map[string]interface{}{
		"txs":              txs,
		"blockNumber":      hexutil.EncodeBig(bundle.BlockNumber),
		"stateBlockNumber": "latest",
	}

	var result struct {
		Results []struct {
			Error string `json:"error"`
		} `json:"results"`
		TotalGasUsed      uint64 `json:"totalGasUsed"`
		EthSentToCoinbase string `json:"ethSentToCoinbase"`
		CoinbaseDiff      string `json:"coinbaseDiff"`
		StateBlockNumber  uint64 `json:"stateBlockNumber"`
	}
	if err := c.call(ctx, methodCallBundle, []interface{}{args}, &result); err != nil {
		return nil, err
	}

	sim := &Simulation{
		Success:    true,
		GasUsed:    result.TotalGasUsed,
		StateBlock: result.StateBlockNumber,
	}
	for _, r := range result.Results {
		if r.Error != "" {
			sim.Success = false
			sim.Error = r.Error
			break
		}
	}
	sim.EthSent, _ = new(big.Int).SetString(result.EthSentToCoinbase, 10)
	sim.Profit, _ = new(big.Int).SetString(result.CoinbaseDiff, 10)
	return sim, nil
}

// UserStats reports the searcher's standing with the relay.
func (c *Client) UserStats(ctx context.Context, blockNumber *big.Int) (map[string]interface{}, error) {
	var stats map[string]interface{}
	err := c.call(ctx, methodGetUserStats, []interface{}{hexutil.EncodeBig(blockNumber)}, &stats)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// call performs one signed JSON-RPC round trip against the relay.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}

	header, err := c.signPayload(payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set(signatureHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s request: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("relay error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// signPayload produces the address:signature header the relay authenticates.
func (c *Client) signPayload(payload []byte) (string, error) {
	digest := accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload))))
	signature, err := crypto.Sign(digest, c.authKey)
	if err != nil {
		return "", fmt.Errorf("signing relay request: %w", err)
	}
	return fmt.Sprintf("%s:%s",
		crypto.PubkeyToAddress(c.authKey.PublicKey).Hex(),
		hexutil.Encode(signature),
	), nil
}
