package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newReceiptServer(t *testing.T, result interface{}) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_getTransactionReceipt", req.Method)
		_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: mustJSON(result)})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestReadOnlyRejectsSubmission(t *testing.T) {
	client := NewReadOnly("http://localhost:1", "", time.Second, nil)
	_, err := client.SubmitAnchor(context.Background(), testContentHash)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestReceiptNullMeansNotMinedYet(t *testing.T) {
	server := newReceiptServer(t, nil)
	client := NewReadOnly(server.URL, "", time.Second, nil)

	receipt, err := client.Receipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Nil(t, receipt)
}

func TestReceiptTransportFailuresFailClosed(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"non-200": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>not json</html>"))
		},
		"rpc error object": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32000, Message: "pruned"}})
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(handler)
			defer server.Close()
			client := NewReadOnly(server.URL, "", time.Second, nil)

			receipt, err := client.Receipt(context.Background(), "0xabc")
			require.NoError(t, err)
			require.Nil(t, receipt)

			confirmed, err := client.IsConfirmed(context.Background(), "0xabc")
			require.NoError(t, err)
			require.False(t, confirmed)
		})
	}
}

func TestIsConfirmedWithoutContract(t *testing.T) {
	server := newReceiptServer(t, map[string]interface{}{
		"transactionHash": "0xabc",
		"status":          "0x1",
		"blockNumber":     "0x10",
		"logs":            []interface{}{},
	})
	client := NewReadOnly(server.URL, "", time.Second, nil)

	confirmed, err := client.IsConfirmed(context.Background(), "0xabc")
	require.NoError(t, err)
	require.True(t, confirmed)
}

func TestIsConfirmedFailedReceipt(t *testing.T) {
	server := newReceiptServer(t, map[string]interface{}{
		"transactionHash": "0xabc",
		"status":          "0x0",
		"logs":            []interface{}{},
	})
	client := NewReadOnly(server.URL, "", time.Second, nil)

	confirmed, err := client.IsConfirmed(context.Background(), "0xabc")
	require.NoError(t, err)
	require.False(t, confirmed)
}

func TestIsConfirmedRequiresContractLog(t *testing.T) {
	contract := "0x000000000000000000000000000000000000dEaD"

	t.Run("matching log, different case", func(t *testing.T) {
		server := newReceiptServer(t, map[string]interface{}{
			"status": "0x1",
			"logs": []interface{}{
				map[string]interface{}{"address": "0x000000000000000000000000000000000000DEAD"},
			},
		})
		client := NewReadOnly(server.URL, contract, time.Second, nil)
		confirmed, err := client.IsConfirmed(context.Background(), "0xabc")
		require.NoError(t, err)
		require.True(t, confirmed)
	})

	t.Run("no log from contract", func(t *testing.T) {
		server := newReceiptServer(t, map[string]interface{}{
			"status": "0x1",
			"logs": []interface{}{
				map[string]interface{}{"address": "0x1111111111111111111111111111111111111111"},
			},
		})
		client := NewReadOnly(server.URL, contract, time.Second, nil)
		confirmed, err := client.IsConfirmed(context.Background(), "0xabc")
		require.NoError(t, err)
		// The transaction itself succeeded, but it never touched the
		// anchoring contract.
		require.False(t, confirmed)
	})
}
