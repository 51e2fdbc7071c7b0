package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	hashnotecrypto "hashnote/crypto"
)

const (
	// simpleTransferGas covers a plain value transfer carrying calldata to
	// an externally owned account.
	simpleTransferGas = uint64(21_000)
	// fallbackContractGas is used when gas estimation against the contract
	// fails; generous enough for a single storage write.
	fallbackContractGas = uint64(100_000)
	// gasEstimateMarginPct is added on top of the node's estimate so the
	// transaction survives small state changes between estimate and mine.
	gasEstimateMarginPct = uint64(20)
)

// SigningConfig carries everything the full write path needs.
type SigningConfig struct {
	Endpoint        string
	PrivateKey      string
	ContractAddress string
	// ChainID is the fallback used when the node does not answer
	// eth_chainId.
	ChainID uint64
	// MinGasPriceWei floors the network gas price; low-traffic test
	// networks report prices miners will not actually accept.
	MinGasPriceWei uint64
	Timeout        time.Duration
	Logger         *slog.Logger
}

// Signing implements the full write path: it derives its sender address from
// a configured private key, builds and signs EIP-155 transactions, and
// broadcasts them through the shared JSON-RPC transport. Reads delegate to an
// internal ReadOnly client.
type Signing struct {
	rpc      *rpcClient
	reads    *ReadOnly
	key      *ecdsa.PrivateKey
	from     common.Address
	contract *common.Address
	chainID  uint64
	minGas   *big.Int
	log      *slog.Logger
}

// NewSigning validates the private key and derives the sender address. A
// malformed key fails construction immediately; it is fatal, not retried.
func NewSigning(cfg SigningConfig) (*Signing, error) {
	key, err := hashnotecrypto.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("signing client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Signing{
		rpc:     newRPCClient(cfg.Endpoint, cfg.Timeout),
		reads:   NewReadOnly(cfg.Endpoint, cfg.ContractAddress, cfg.Timeout, logger),
		key:     key,
		from:    hashnotecrypto.SenderAddress(key),
		chainID: cfg.ChainID,
		minGas:  new(big.Int).SetUint64(cfg.MinGasPriceWei),
		log:     logger,
	}
	if trimmed := strings.TrimSpace(cfg.ContractAddress); trimmed != "" {
		if !common.IsHexAddress(trimmed) {
			return nil, fmt.Errorf("signing client: invalid contract address %q", trimmed)
		}
		addr := common.HexToAddress(trimmed)
		s.contract = &addr
	}

	logger.Info("signing ledger client initialised",
		slog.String("from", s.from.Hex()),
		slog.Bool("has_contract", s.contract != nil))
	return s, nil
}

// From returns the sender address derived from the configured key.
func (s *Signing) From() common.Address { return s.from }

// SubmitAnchor runs the submission pipeline: pending nonce, gas price with
// floor, gas limit, transaction construction, EIP-155 signature, broadcast.
// Every failure is wrapped as a SubmitError with the failing stage named and
// the underlying cause preserved.
func (s *Signing) SubmitAnchor(ctx context.Context, contentHash string) (string, error) {
	payload, err := hexutil.Decode(contentHash)
	if err != nil {
		return "", &SubmitError{Stage: "payload", Err: err}
	}

	nonce, err := s.pendingNonce(ctx)
	if err != nil {
		return "", &SubmitError{Stage: "nonce", Err: err}
	}

	gasPrice := s.gasPrice(ctx)
	gasLimit := s.gasLimit(ctx, payload, gasPrice)
	chainID := s.resolveChainID(ctx)

	to := s.from
	if s.contract != nil {
		to = *s.contract
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, payload)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(new(big.Int).SetUint64(chainID)), s.key)
	if err != nil {
		return "", &SubmitError{Stage: "sign", Err: err}
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", &SubmitError{Stage: "encode", Err: err}
	}

	txHash, err := s.rpc.callString(ctx, "eth_sendRawTransaction", hexutil.Encode(raw))
	if err != nil {
		return "", &SubmitError{Stage: "broadcast", Err: err}
	}

	s.log.Info("anchor transaction broadcast",
		slog.String("tx_hash", txHash),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
		slog.String("gas_price", gasPrice.String()))
	return txHash, nil
}

func (s *Signing) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	return s.reads.Receipt(ctx, txHash)
}

func (s *Signing) IsConfirmed(ctx context.Context, txHash string) (bool, error) {
	return s.reads.IsConfirmed(ctx, txHash)
}

// pendingNonce fetches the sender's transaction count including transactions
// still in the mempool. Using "pending" instead of "latest" keeps concurrent
// submissions from colliding on the same nonce.
func (s *Signing) pendingNonce(ctx context.Context) (uint64, error) {
	result, err := s.rpc.callString(ctx, "eth_getTransactionCount", s.from.Hex(), "pending")
	if err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(result)
}

// gasPrice asks the node for the current gas price and clamps it to the
// configured floor. An RPC failure falls back to the floor value outright.
func (s *Signing) gasPrice(ctx context.Context) *big.Int {
	result, err := s.rpc.callString(ctx, "eth_gasPrice")
	if err != nil {
		s.log.Warn("gas price fetch failed, using floor",
			slog.String("floor_wei", s.minGas.String()),
			slog.Any("error", err))
		return new(big.Int).Set(s.minGas)
	}
	price, err := hexutil.DecodeBig(result)
	if err != nil {
		s.log.Warn("gas price decode failed, using floor",
			slog.String("raw", result),
			slog.Any("error", err))
		return new(big.Int).Set(s.minGas)
	}
	if price.Cmp(s.minGas) < 0 {
		return new(big.Int).Set(s.minGas)
	}
	return price
}

// gasLimit picks a fixed simple-transfer limit when anchoring to the sender's
// own address, and otherwise asks the node for an estimate plus safety
// margin. Estimation failure falls back to a generous fixed limit.
func (s *Signing) gasLimit(ctx context.Context, payload []byte, gasPrice *big.Int) uint64 {
	if s.contract == nil {
		return simpleTransferGas
	}
	callMsg := map[string]interface{}{
		"from":     s.from.Hex(),
		"to":       s.contract.Hex(),
		"data":     hexutil.Encode(payload),
		"gasPrice": hexutil.EncodeBig(gasPrice),
	}
	result, err := s.rpc.callString(ctx, "eth_estimateGas", callMsg)
	if err != nil {
		s.log.Warn("gas estimate failed, using fallback",
			slog.Uint64("fallback", fallbackContractGas),
			slog.Any("error", err))
		return fallbackContractGas
	}
	estimated, err := hexutil.DecodeUint64(result)
	if err != nil {
		return fallbackContractGas
	}
	return estimated + estimated*gasEstimateMarginPct/100
}

func (s *Signing) resolveChainID(ctx context.Context) uint64 {
	result, err := s.rpc.callString(ctx, "eth_chainId")
	if err != nil {
		return s.chainID
	}
	id, err := hexutil.DecodeUint64(result)
	if err != nil {
		return s.chainID
	}
	return id
}

var _ Client = (*Signing)(nil)
