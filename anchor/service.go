package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"hashnote/config"
	"hashnote/crypto"
	"hashnote/ledger"
	"hashnote/observability"
	"hashnote/storage"
)

const maxMessageRunes = 280

// ValidationError marks client-input faults. It is always local and never
// retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func errMessageLength() error {
	return &ValidationError{Reason: fmt.Sprintf("message must be between 1 and %d characters", maxMessageRunes)}
}

// VerificationResult is the outcome of checking a message against the ledger.
type VerificationResult struct {
	Valid               bool           `json:"valid"`
	Status              storage.Status `json:"status"`
	TxHash              *string        `json:"tx_hash"`
	Network             string         `json:"network"`
	ContractAddress     string         `json:"contract_address,omitempty"`
	BlockNumber         *uint64        `json:"block_number,omitempty"`
	HashMatchesContract *bool          `json:"msg_hash_matches,omitempty"`
	Error               string         `json:"error,omitempty"`
}

// Service orchestrates message creation, read-triggered reconciliation and
// verification against the configured ledger client.
type Service struct {
	store    *storage.Store
	client   ledger.Client
	recon    *Reconciler
	mode     config.LedgerMode
	network  string
	contract string
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store *storage.Store, client ledger.Client, recon *Reconciler, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		client:   client,
		recon:    recon,
		mode:     cfg.LedgerMode,
		network:  cfg.NetworkName,
		contract: strings.TrimSpace(cfg.ContractAddress),
		log:      logger,
		now:      time.Now,
	}
}

// Create validates and persists a new message, anchoring its content hash on
// the ledger first. Submission failures are mode-dependent: the simulated
// ledger is best-effort so the message is still persisted as pending without
// a transaction reference; in signing mode nothing is persisted, so the
// anchoring intent is never silently lost; in read-only mode creation is
// rejected outright.
func (s *Service) Create(ctx context.Context, text string) (*storage.Message, error) {
	trimmed := strings.TrimSpace(text)
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > maxMessageRunes {
		return nil, errMessageLength()
	}

	contentHash := crypto.ContentHash(trimmed)
	msg := &storage.Message{
		ID:          uuid.New(),
		Body:        trimmed,
		ContentHash: contentHash,
		Status:      storage.StatusPending,
		CreatedAt:   s.now(),
	}

	switch s.mode {
	case config.ModeReadOnly:
		return nil, ledger.ErrUnsupportedOperation
	case config.ModeSimulated, config.ModeSigning:
		txHash, err := s.client.SubmitAnchor(ctx, contentHash)
		if err != nil {
			observability.Anchor().Submissions.WithLabelValues(string(s.mode), "error").Inc()
			if s.mode == config.ModeSigning {
				return nil, err
			}
			s.log.Warn("simulated submission failed, persisting without reference",
				slog.String("id", msg.ID.String()),
				slog.Any("error", err))
		} else {
			observability.Anchor().Submissions.WithLabelValues(string(s.mode), "ok").Inc()
			msg.TxHash = &txHash
		}
	}

	if err := s.store.Save(ctx, msg); err != nil {
		return nil, err
	}
	s.log.Info("message created",
		slog.String("id", msg.ID.String()),
		slog.String("content_hash", contentHash),
		slog.Bool("anchored", msg.TxHash != nil))
	return msg, nil
}

// Get returns the stored message, reconciling it first when it is still
// pending with a transaction reference so callers always observe the
// freshest known status.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*storage.Message, error) {
	msg, err := s.store.FindByID(ctx, id)
	if err != nil || msg == nil {
		return msg, err
	}
	if msg.Status == storage.StatusPending && msg.TxHash != nil {
		if _, err := s.recon.Reconcile(ctx, msg); err != nil {
			s.log.Warn("reconciliation during read failed",
				slog.String("id", id.String()),
				slog.Any("error", err))
		}
	}
	return msg, nil
}

// Verify checks a message against the ledger. A message without a
// transaction reference is reported invalid without any network call.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*VerificationResult, error) {
	msg, err := s.store.FindByID(ctx, id)
	if err != nil || msg == nil {
		return nil, err
	}

	if msg.TxHash == nil {
		return &VerificationResult{
			Valid:   false,
			Status:  msg.Status,
			TxHash:  nil,
			Network: s.network,
			Error:   "no transaction hash",
		}, nil
	}

	if msg.Status == storage.StatusPending {
		if _, err := s.recon.Reconcile(ctx, msg); err != nil {
			s.log.Warn("reconciliation before verify failed",
				slog.String("id", id.String()),
				slog.Any("error", err))
		}
		if msg, err = s.store.FindByID(ctx, id); err != nil || msg == nil {
			return nil, err
		}
	}

	valid, err := s.client.IsConfirmed(ctx, *msg.TxHash)
	if err != nil {
		return nil, err
	}
	receipt, err := s.client.Receipt(ctx, *msg.TxHash)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Valid:           valid,
		Status:          msg.Status,
		TxHash:          msg.TxHash,
		Network:         s.network,
		ContractAddress: s.contract,
	}
	if receipt != nil && receipt.BlockNumber != "" {
		if bn, err := hexutil.DecodeUint64(receipt.BlockNumber); err == nil {
			result.BlockNumber = &bn
		}
	}
	// Best-effort contract check: whether the receipt carries a log from
	// the configured contract. Exact event decoding against the ABI is a
	// deliberate non-feature.
	if s.contract != "" && receipt != nil && !receipt.Simulated {
		matches := receipt.HasLogFrom(s.contract)
		result.HashMatchesContract = &matches
	}
	return result, nil
}

// ProcessPending reconciles every pending message holding a transaction
// reference and returns how many actually changed status. It is intended to
// run on a periodic external trigger.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	pending, err := s.store.FindPendingWithTxHash(ctx)
	if err != nil {
		return 0, err
	}
	processed := 0
	for i := range pending {
		changed, err := s.recon.Reconcile(ctx, &pending[i])
		if err != nil {
			s.log.Warn("pending reconciliation failed",
				slog.String("id", pending[i].ID.String()),
				slog.Any("error", err))
			continue
		}
		if changed {
			processed++
		}
	}
	return processed, nil
}

// Mode reports the ledger mode the service was built with.
func (s *Service) Mode() config.LedgerMode { return s.mode }

// Network reports the configured network label.
func (s *Service) Network() string { return s.network }

// IsUnsupported reports whether err represents a write attempted against a
// read-only transport.
func IsUnsupported(err error) bool {
	return errors.Is(err, ledger.ErrUnsupportedOperation)
}
