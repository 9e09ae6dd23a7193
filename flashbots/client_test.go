package flashbots

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBundle(t *testing.T) *Bundle {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(1e9),
		Gas:      21000,
		Value:    big.NewInt(0),
	})
	signed, err := types.SignTx(tx, types.HomesteadSigner{}, key)
	require.NoError(t, err)

	return &Bundle{
		Txs:         []*types.Transaction{signed},
		BlockNumber: big.NewInt(19_000_000),
	}
}

func relayServer(t *testing.T, handle func(method string, params []json.RawMessage) interface{}) (*httptest.Server, *[]string) {
	t.Helper()
	var headers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("X-Flashbots-Signature"))

		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  handle(req.Method, req.Params),
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &headers
}

func TestSendBundleSignsRequest(t *testing.T) {
	srv, headers := relayServer(t, func(method string, _ []json.RawMessage) interface{} {
		assert.Equal(t, "eth_sendBundle", method)
		return map[string]string{"bundleHash": "0xabc"}
	})

	authKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(srv.URL, authKey, nil)
	require.NoError(t, err)

	require.NoError(t, c.SendBundle(context.Background(), testBundle(t)))

	require.Len(t, *headers, 1)
	header := (*headers)[0]
	parts := strings.SplitN(header, ":", 2)
	require.Len(t, parts, 2, "header must be address:signature, got %q", header)
	assert.Equal(t, crypto.PubkeyToAddress(authKey.PublicKey).Hex(), parts[0])
	assert.True(t, strings.HasPrefix(parts[1], "0x"))
}

func TestSimulateBundleReportsRevert(t *testing.T) {
	srv, _ := relayServer(t, func(method string, _ []json.RawMessage) interface{} {
		assert.Equal(t, "eth_callBundle", method)
		return map[string]interface{}{
			"results":           []map[string]string{{"error": "execution reverted"}},
			"totalGasUsed":      250000,
			"coinbaseDiff":      "0",
			"ethSentToCoinbase": "0",
			"stateBlockNumber":  18_999_999,
		}
	})

	authKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(srv.URL, authKey, nil)
	require.NoError(t, err)

	sim, err := c.SimulateBundle(context.Background(), testBundle(t))
	require.NoError(t, err)
	assert.False(t, sim.Success)
	assert.Equal(t, "execution reverted", sim.Error)
	assert.Equal(t, uint64(250000), sim.GasUsed)
}

func TestRelayErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32600,"message":"bundle too old"}}`))
	}))
	t.Cleanup(srv.Close)

	authKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(srv.URL, authKey, nil)
	require.NoError(t, err)

	err = c.SendBundle(context.Background(), testBundle(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundle too old")
}

func TestNewClientValidation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewClient("", key, nil)
	assert.Error(t, err)

	_, err = NewClient("http://relay", nil, nil)
	assert.Error(t, err)
}
