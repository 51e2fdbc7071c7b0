package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	simConfirmDelayMinSeconds = 5
	simConfirmDelayMaxSeconds = 10
)

type simTx struct {
	contentHash string
	createdAt   time.Time
	confirmAt   time.Time
	confirmed   bool
	blockNumber uint64
	confirmedAt time.Time
}

// Simulated is an in-memory ledger used for local development and tests.
// Submissions are accepted immediately and confirm after a randomised delay.
// State is process-local and mutex-guarded; it is not intended to be correct
// across replicas, and a restart loses every pending record (see Receipt for
// how unknown hashes are handled).
type Simulated struct {
	mu   sync.Mutex
	txs  map[string]*simTx
	now  func() time.Time
	rand *mrand.Rand
	log  *slog.Logger
}

// SimulatedOption customises a Simulated client, primarily for tests.
type SimulatedOption func(*Simulated)

// WithClock overrides the time source used for confirmation scheduling.
func WithClock(now func() time.Time) SimulatedOption {
	return func(s *Simulated) { s.now = now }
}

// WithRand overrides the randomness used for delays and block heights.
func WithRand(r *mrand.Rand) SimulatedOption {
	return func(s *Simulated) { s.rand = r }
}

func NewSimulated(logger *slog.Logger, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		txs:  make(map[string]*simTx),
		now:  time.Now,
		rand: mrand.New(mrand.NewSource(time.Now().UnixNano())),
		log:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Simulated) SubmitAnchor(ctx context.Context, contentHash string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", &SubmitError{Stage: "generate hash", Err: err}
	}
	txHash := "0x" + hex.EncodeToString(buf)

	s.mu.Lock()
	now := s.now()
	delay := time.Duration(simConfirmDelayMinSeconds+s.rand.Intn(simConfirmDelayMaxSeconds-simConfirmDelayMinSeconds+1)) * time.Second
	s.txs[txHash] = &simTx{
		contentHash: contentHash,
		createdAt:   now,
		confirmAt:   now.Add(delay),
	}
	s.mu.Unlock()

	s.log.Info("simulated ledger accepted anchor",
		slog.String("tx_hash", txHash),
		slog.Duration("confirm_after", delay))
	return txHash, nil
}

// Receipt returns the simulated receipt for a transaction, flipping pending
// records to confirmed once their delay has elapsed. A record whose delay has
// not elapsed yet yields a nil receipt, the same "not mined yet" answer a
// real node gives. A hash with no in-memory record (the process restarted
// since submission) is treated as long since confirmed and a record is
// synthesised for it.
func (s *Simulated) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tx, ok := s.txs[txHash]
	if !ok {
		tx = &simTx{
			createdAt:   now.Add(-time.Minute),
			confirmed:   true,
			blockNumber: s.randomBlockNumber(),
			confirmedAt: now,
		}
		s.txs[txHash] = tx
		s.log.Info("simulated ledger synthesised receipt for unknown transaction",
			slog.String("tx_hash", txHash))
	}

	if !tx.confirmed && !now.Before(tx.confirmAt) {
		tx.confirmed = true
		tx.blockNumber = s.randomBlockNumber()
		tx.confirmedAt = now
	}

	if !tx.confirmed {
		return nil, nil
	}
	return &Receipt{
		TxHash:      txHash,
		Status:      receiptStatusSuccess,
		BlockNumber: hexutil.EncodeUint64(tx.blockNumber),
		Simulated:   true,
		Logs:        []Log{},
	}, nil
}

func (s *Simulated) IsConfirmed(ctx context.Context, txHash string) (bool, error) {
	receipt, err := s.Receipt(ctx, txHash)
	if err != nil || receipt == nil {
		return false, err
	}
	return receipt.Succeeded(), nil
}

func (s *Simulated) randomBlockNumber() uint64 {
	return uint64(1_000_000 + s.rand.Intn(9_000_000))
}

var _ Client = (*Simulated)(nil)
