package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// receiptStatusSuccess is the hex status flag an EVM receipt carries when the
// transaction executed successfully.
const receiptStatusSuccess = "0x1"

// ErrUnsupportedOperation is returned when a write is attempted against a
// transport that cannot sign transactions.
var ErrUnsupportedOperation = errors.New("ledger: read-only endpoint does not support submitting transactions")

// SubmitError wraps a failure in the submission pipeline while preserving the
// stage that failed and the underlying cause. Submission failures are never
// retried here; the caller decides what to do with them.
type SubmitError struct {
	Stage string
	Err   error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit transaction (%s): %v", e.Stage, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Log is a structured event emitted during transaction execution.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt reflects the final state of a submitted transaction. BlockNumber is
// a 0x-prefixed hex quantity, matching the wire encoding.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
	Logs        []Log  `json:"logs"`

	// Simulated marks receipts synthesised by the in-memory ledger rather
	// than fetched from a real node.
	Simulated bool `json:"-"`
}

// Succeeded reports whether the receipt records a successful execution.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == receiptStatusSuccess
}

// HasLogFrom reports whether any log entry was emitted by the given contract
// address. The comparison is case-insensitive since checksummed and lowercase
// addresses are used interchangeably by RPC providers.
func (r *Receipt) HasLogFrom(contract string) bool {
	if r == nil || strings.TrimSpace(contract) == "" {
		return false
	}
	for _, l := range r.Logs {
		if strings.EqualFold(l.Address, contract) {
			return true
		}
	}
	return false
}

// Client is the protocol boundary to the chain. Three implementations exist:
// Simulated (in-memory, best-effort), ReadOnly (receipt fetch only) and
// Signing (full write path). The variant is selected once at startup.
type Client interface {
	// SubmitAnchor broadcasts a transaction anchoring the content hash and
	// returns the transaction hash accepted by the ledger.
	SubmitAnchor(ctx context.Context, contentHash string) (string, error)
	// Receipt fetches the receipt for a transaction. A nil receipt with a
	// nil error means the transaction has not been included yet.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)
	// IsConfirmed reports whether the transaction landed successfully and,
	// when a contract is configured, whether it emitted a matching log.
	IsConfirmed(ctx context.Context, txHash string) (bool, error)
}
