package htlc

import (
	"fmt"

	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/handlers"
	"dposchain/core/state"
	"dposchain/core/types"
)

// RefundHandler returns an expired lock to the wallet that created it. The
// refund sender pays the fee.
type RefundHandler struct {
	handlers.Base
}

func NewRefundHandler(deps handlers.Deps) *RefundHandler {
	return &RefundHandler{Base: handlers.Base{Deps: deps}}
}

func (*RefundHandler) Type() types.TxType { return types.TxTypeHtlcRefund }

func (h *RefundHandler) Activated(height uint64) bool {
	return activated(h.Deps, height)
}

func (h *RefundHandler) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	lockID := tx.Asset.(types.HtlcRefund).LockTransactionID
	_, lock, err := openLock(store, lockID)
	if err != nil {
		return err
	}
	if ref := h.Deps.ChainTime.LastBlock(); !Expired(lock.Expiration, ref) {
		return fmt.Errorf("%w: lock %s", coreerrors.ErrLockNotExpired, lockID)
	}
	return nil
}

func (h *RefundHandler) CheckPool(tx *types.Transaction, store *state.Store, pool handlers.PoolQuery) error {
	return checkPoolForLock(store, pool, tx.Asset.(types.HtlcRefund).LockTransactionID)
}

func (h *RefundHandler) Apply(tx *types.Transaction, store *state.Store) error {
	lockID := tx.Asset.(types.HtlcRefund).LockTransactionID
	holder, lock, err := openLock(store, lockID)
	if err != nil {
		return err
	}
	if err := h.ApplyToSender(tx, store, nil); err != nil {
		return err
	}
	if err := releaseLock(store, holder.Address, lockID, true); err != nil {
		return err
	}
	h.Deps.Emit(events.HtlcRefunded{LockID: lockID, TxID: tx.ID, Sender: holder.Address, Amount: lock.Amount})
	return nil
}

func (h *RefundHandler) Revert(tx *types.Transaction, store *state.Store) error {
	lockID := tx.Asset.(types.HtlcRefund).LockTransactionID
	lockTx, err := lockTransaction(h.Deps, lockID)
	if err != nil {
		return err
	}
	if err := restoreLock(store, lockID, lockTx, true); err != nil {
		return err
	}
	return h.RevertForSender(tx, store, nil)
}

// Handlers fills the HTLC fields of set.
func Handlers(set handlers.Set, deps handlers.Deps, cfg Config) handlers.Set {
	set.HtlcLock = NewLockHandler(deps, cfg)
	set.HtlcClaim = NewClaimHandler(deps)
	set.HtlcRefund = NewRefundHandler(deps)
	return set
}
