package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const (
	testKey         = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testContentHash = "0x47173285a8d7341e5e972fc677286384f802f8ef42a5ec5f03bbfa254cb01fad"
)

// rpcStub fakes an EVM JSON-RPC node. The pending nonce grows after every
// accepted broadcast so consecutive submissions observe distinct values.
type rpcStub struct {
	mu           sync.Mutex
	nonce        uint64
	gasPriceWei  uint64
	failGasPrice bool
	estimateGas  uint64
	failEstimate bool
	chainID      uint64
	broadcastErr *rpcError
	rawTxs       []string
	txHash       string
}

func (s *rpcStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "eth_getTransactionCount":
			resp.Result = mustJSON(hexutil.EncodeUint64(s.nonce))
		case "eth_gasPrice":
			if s.failGasPrice {
				resp.Error = &rpcError{Code: -32000, Message: "gas price unavailable"}
				break
			}
			resp.Result = mustJSON(hexutil.EncodeUint64(s.gasPriceWei))
		case "eth_estimateGas":
			if s.failEstimate {
				resp.Error = &rpcError{Code: -32000, Message: "execution reverted"}
				break
			}
			resp.Result = mustJSON(hexutil.EncodeUint64(s.estimateGas))
		case "eth_chainId":
			resp.Result = mustJSON(hexutil.EncodeUint64(s.chainID))
		case "eth_sendRawTransaction":
			if s.broadcastErr != nil {
				resp.Error = s.broadcastErr
				break
			}
			raw, _ := req.Params[0].(string)
			s.rawTxs = append(s.rawTxs, raw)
			s.nonce++
			resp.Result = mustJSON(s.txHash)
		default:
			resp.Error = &rpcError{Code: -32601, Message: "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func (s *rpcStub) decodeTx(t *testing.T, index int) *types.Transaction {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.rawTxs), index)
	raw, err := hexutil.Decode(s.rawTxs[index])
	require.NoError(t, err)
	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	return tx
}

func newSigningForTest(t *testing.T, stub *rpcStub, contract string) *Signing {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)
	client, err := NewSigning(SigningConfig{
		Endpoint:        server.URL,
		PrivateKey:      testKey,
		ContractAddress: contract,
		ChainID:         1337,
		MinGasPriceWei:  2_000_000_000,
		Timeout:         5 * time.Second,
		Logger:          slog.Default(),
	})
	require.NoError(t, err)
	return client
}

func TestNewSigningValidatesKey(t *testing.T) {
	cases := map[string]string{
		"too short": "abcd",
		"too long":  testKey + "ff",
		"not hex":   "zz0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		"empty":     "",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewSigning(SigningConfig{Endpoint: "http://localhost:1", PrivateKey: key})
			require.Error(t, err)
		})
	}
}

func TestNewSigningAcceptsPrefixedKey(t *testing.T) {
	plain, err := NewSigning(SigningConfig{Endpoint: "http://localhost:1", PrivateKey: testKey})
	require.NoError(t, err)
	prefixed, err := NewSigning(SigningConfig{Endpoint: "http://localhost:1", PrivateKey: "0x" + testKey})
	require.NoError(t, err)
	require.Equal(t, plain.From(), prefixed.From())
}

func TestSubmitAnchorSignsAndBroadcasts(t *testing.T) {
	stub := &rpcStub{
		nonce:       5,
		gasPriceWei: 3_000_000_000,
		chainID:     1337,
		txHash:      "0x1111111111111111111111111111111111111111111111111111111111111111",
	}
	client := newSigningForTest(t, stub, "")

	txHash, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.NoError(t, err)
	require.Equal(t, stub.txHash, txHash)

	tx := stub.decodeTx(t, 0)
	require.Equal(t, uint64(5), tx.Nonce())
	require.Equal(t, uint64(21_000), tx.Gas())
	require.Equal(t, big.NewInt(3_000_000_000), tx.GasPrice())
	require.Zero(t, tx.Value().Sign())
	require.Equal(t, hexutil.MustDecode(testContentHash), tx.Data())

	// Anchors without a contract are sent to the signer's own address, and
	// the signature must recover to that address under EIP-155.
	require.NotNil(t, tx.To())
	require.Equal(t, client.From(), *tx.To())
	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1337)), tx)
	require.NoError(t, err)
	require.Equal(t, client.From(), sender)
}

func TestSubmitAnchorDistinctNonces(t *testing.T) {
	stub := &rpcStub{
		nonce:       7,
		gasPriceWei: 3_000_000_000,
		chainID:     1337,
		txHash:      "0x2222222222222222222222222222222222222222222222222222222222222222",
	}
	client := newSigningForTest(t, stub, "")

	_, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.NoError(t, err)
	_, err = client.SubmitAnchor(context.Background(), testContentHash)
	require.NoError(t, err)

	first := stub.decodeTx(t, 0)
	second := stub.decodeTx(t, 1)
	require.Equal(t, uint64(7), first.Nonce())
	require.Equal(t, uint64(8), second.Nonce())
}

func TestGasPriceClampedToFloor(t *testing.T) {
	stub := &rpcStub{
		gasPriceWei: 1_000_000_000, // below the 2 gwei floor
		chainID:     1337,
		txHash:      "0x3333333333333333333333333333333333333333333333333333333333333333",
	}
	client := newSigningForTest(t, stub, "")

	_, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.NoError(t, err)
	tx := stub.decodeTx(t, 0)
	require.Equal(t, big.NewInt(2_000_000_000), tx.GasPrice())
}

func TestGasPriceFallsBackToFloorOnError(t *testing.T) {
	stub := &rpcStub{
		failGasPrice: true,
		chainID:      1337,
		txHash:       "0x4444444444444444444444444444444444444444444444444444444444444444",
	}
	client := newSigningForTest(t, stub, "")

	_, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.NoError(t, err)
	tx := stub.decodeTx(t, 0)
	require.Equal(t, big.NewInt(2_000_000_000), tx.GasPrice())
}

func TestContractGasEstimateWithMargin(t *testing.T) {
	stub := &rpcStub{
		gasPriceWei: 3_000_000_000,
		estimateGas: 100_000,
		chainID:     1337,
		txHash:      "0x5555555555555555555555555555555555555555555555555555555555555555",
	}
	contract := "0x000000000000000000000000000000000000dEaD"
	client := newSigningForTest(t, stub, contract)

	_, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.NoError(t, err)
	tx := stub.decodeTx(t, 0)
	require.Equal(t, uint64(120_000), tx.Gas())
	require.Equal(t, common.HexToAddress(contract), *tx.To())
}

func TestContractGasEstimateFallback(t *testing.T) {
	stub := &rpcStub{
		gasPriceWei:  3_000_000_000,
		failEstimate: true,
		chainID:      1337,
		txHash:       "0x6666666666666666666666666666666666666666666666666666666666666666",
	}
	client := newSigningForTest(t, stub, "0x000000000000000000000000000000000000dEaD")

	_, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.NoError(t, err)
	tx := stub.decodeTx(t, 0)
	require.Equal(t, fallbackContractGas, tx.Gas())
}

func TestBroadcastErrorPreservesCause(t *testing.T) {
	stub := &rpcStub{
		gasPriceWei:  3_000_000_000,
		chainID:      1337,
		broadcastErr: &rpcError{Code: -32000, Message: "nonce too low"},
	}
	client := newSigningForTest(t, stub, "")

	_, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.Error(t, err)
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	require.Equal(t, "broadcast", submitErr.Stage)
	require.Contains(t, err.Error(), "nonce too low")
}

func TestNonceFetchFailureIsSubmitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewSigning(SigningConfig{
		Endpoint:       server.URL,
		PrivateKey:     testKey,
		ChainID:        1337,
		MinGasPriceWei: 2_000_000_000,
		Timeout:        5 * time.Second,
	})
	require.NoError(t, err)

	_, err = client.SubmitAnchor(context.Background(), testContentHash)
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	require.Equal(t, "nonce", submitErr.Stage)
}
