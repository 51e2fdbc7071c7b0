package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// ReadOnly talks to a JSON-RPC endpoint that cannot sign transactions. It can
// fetch receipts and decide confirmation, but any submission attempt fails
// with ErrUnsupportedOperation.
type ReadOnly struct {
	rpc      *rpcClient
	contract string
	log      *slog.Logger
}

func NewReadOnly(endpoint, contractAddress string, timeout time.Duration, logger *slog.Logger) *ReadOnly {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadOnly{
		rpc:      newRPCClient(endpoint, timeout),
		contract: strings.TrimSpace(contractAddress),
		log:      logger,
	}
}

func (c *ReadOnly) SubmitAnchor(ctx context.Context, contentHash string) (string, error) {
	return "", ErrUnsupportedOperation
}

// Receipt fetches the transaction receipt. An absent or null result means the
// transaction has not been mined yet and is not an error. Transport failures
// resolve the same way: the caller sees "no receipt" and the message stays
// pending until a later reconciliation pass.
func (c *ReadOnly) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	raw, err := c.rpc.call(ctx, "eth_getTransactionReceipt", txHash)
	if err != nil {
		c.log.Warn("receipt fetch failed",
			slog.String("tx_hash", txHash),
			slog.Any("error", err))
		return nil, nil
	}
	if isNullResult(raw) {
		return nil, nil
	}
	receipt := &Receipt{}
	if err := json.Unmarshal(raw, receipt); err != nil {
		c.log.Warn("receipt decode failed",
			slog.String("tx_hash", txHash),
			slog.Any("error", err))
		return nil, nil
	}
	if receipt.TxHash == "" {
		receipt.TxHash = txHash
	}
	return receipt, nil
}

// IsConfirmed requires a successful receipt and, when a contract address is
// configured, at least one log emitted by that contract. A transaction that
// succeeded without touching the contract is not considered an anchor.
func (c *ReadOnly) IsConfirmed(ctx context.Context, txHash string) (bool, error) {
	receipt, err := c.Receipt(ctx, txHash)
	if err != nil {
		return false, err
	}
	if !receipt.Succeeded() {
		return false, nil
	}
	if c.contract != "" {
		return receipt.HasLogFrom(c.contract), nil
	}
	return true, nil
}

// ContractAddress exposes the configured contract, if any.
func (c *ReadOnly) ContractAddress() string {
	return c.contract
}

var _ Client = (*ReadOnly)(nil)
