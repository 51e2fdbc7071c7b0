package anchor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"hashnote/ledger"
	"hashnote/observability"
	"hashnote/storage"
)

// Reconciler advances a stored message's status to match what the ledger
// reports. It is the only component that mutates persisted messages.
type Reconciler struct {
	store  *storage.Store
	client ledger.Client
	log    *slog.Logger
	now    func() time.Time
}

func NewReconciler(store *storage.Store, client ledger.Client, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  store,
		client: client,
		log:    logger,
		now:    time.Now,
	}
}

// Reconcile fetches the receipt for the message's transaction and applies the
// resulting status transition, persisting it only when the status actually
// changes. Repeated calls against an already-terminal message are no-ops,
// and a message with no receipt yet simply stays pending. Messages without a
// transaction reference are never touched.
func (r *Reconciler) Reconcile(ctx context.Context, msg *storage.Message) (bool, error) {
	if msg == nil || msg.TxHash == nil {
		return false, nil
	}

	receipt, err := r.client.Receipt(ctx, *msg.TxHash)
	if err != nil {
		return false, err
	}
	if receipt == nil {
		return false, nil
	}

	status := storage.StatusFailed
	if receipt.Succeeded() {
		status = storage.StatusConfirmed
	}
	if status == msg.Status {
		return false, nil
	}

	previous := msg.Status
	msg.Status = status
	if status == storage.StatusConfirmed {
		if bn, err := hexutil.DecodeUint64(receipt.BlockNumber); err == nil {
			msg.BlockNumber = &bn
		}
		confirmedAt := r.now()
		msg.ConfirmedAt = &confirmedAt
	}

	if err := r.store.Update(ctx, msg); err != nil {
		return false, err
	}

	observability.Anchor().Transitions.WithLabelValues(string(status)).Inc()
	r.log.Info("message status reconciled",
		slog.String("id", msg.ID.String()),
		slog.String("tx_hash", *msg.TxHash),
		slog.String("from", string(previous)),
		slog.String("to", string(status)))
	return true, nil
}
