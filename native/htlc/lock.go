package htlc

import (
	"fmt"

	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/handlers"
	"dposchain/core/state"
	"dposchain/core/types"
)

// LockHandler escrows the transaction amount on the sender's wallet under
// the id of the lock transaction.
type LockHandler struct {
	handlers.Base
	cfg Config
}

func NewLockHandler(deps handlers.Deps, cfg Config) *LockHandler {
	return &LockHandler{Base: handlers.Base{Deps: deps}, cfg: cfg}
}

func (*LockHandler) Type() types.TxType { return types.TxTypeHtlcLock }

func (h *LockHandler) Activated(height uint64) bool {
	return activated(h.Deps, height)
}

func (h *LockHandler) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	if err := handlers.CheckRecipient(store, tx.RecipientID); err != nil {
		return err
	}
	if holder, open := store.FindByLockID(tx.ID); open {
		return fmt.Errorf("%w: lock %s already open on %s", coreerrors.ErrInvalidTransaction, tx.ID, holder.Address)
	}
	asset := tx.Asset.(types.HtlcLock)
	if len(asset.SecretHash) != asset.HashType.Size() {
		return fmt.Errorf("%w: secret hash is not a %s digest", coreerrors.ErrInvalidTransaction, asset.HashType)
	}
	ref := h.cfg.earliestReference(h.Deps.ChainTime.LastBlock(), h.Deps.Milestones)
	if Expired(asset.Expiration, ref) {
		return fmt.Errorf("%w: expiration %d is not beyond height %d / timestamp %d",
			coreerrors.ErrLockExpired, asset.Expiration.Value, ref.Height, ref.Timestamp)
	}
	return nil
}

func (h *LockHandler) Apply(tx *types.Transaction, store *state.Store) error {
	lock := LockFromTransaction(tx)
	if lock == nil {
		return fmt.Errorf("%w: %s is not a lock", coreerrors.ErrInvalidTransaction, tx.ID)
	}
	err := h.ApplyToSender(tx, store, func(w *types.Wallet) error {
		if _, exists := w.Htlc.Locks[tx.ID]; exists {
			return fmt.Errorf("%w: lock %s already open", coreerrors.ErrIndexInconsistency, tx.ID)
		}
		w.Htlc.Locks[tx.ID] = lock
		w.Htlc.LockedBalance.Add(w.Htlc.LockedBalance, lock.Amount)
		return nil
	})
	if err != nil {
		return err
	}
	sender, _ := handlers.SenderAddress(tx, store)
	asset := tx.Asset.(types.HtlcLock)
	h.Deps.Emit(events.HtlcLocked{
		LockID:     tx.ID,
		Sender:     sender,
		Recipient:  tx.RecipientID,
		Amount:     lock.Amount,
		HashType:   asset.HashType.String(),
		Expiration: asset.Expiration,
	})
	return nil
}

func (h *LockHandler) Revert(tx *types.Transaction, store *state.Store) error {
	return h.RevertForSender(tx, store, func(w *types.Wallet) error {
		lock, ok := w.Htlc.Locks[tx.ID]
		if !ok {
			return fmt.Errorf("%w: lock %s", coreerrors.ErrLockNotFound, tx.ID)
		}
		delete(w.Htlc.Locks, tx.ID)
		w.Htlc.LockedBalance.Sub(w.Htlc.LockedBalance, lock.Amount)
		return nil
	})
}

// LockFromTransaction rebuilds the lock a lock transaction opened. It
// returns nil for other transaction types.
func LockFromTransaction(tx *types.Transaction) *types.Lock {
	asset, ok := tx.Asset.(types.HtlcLock)
	if !ok {
		return nil
	}
	return &types.Lock{
		Amount:      tx.AmountOrZero(),
		RecipientID: tx.RecipientID,
		SecretHash:  append([]byte(nil), asset.SecretHash...),
		HashType:    asset.HashType,
		Expiration:  asset.Expiration,
		VendorField: tx.VendorField,
	}
}

func activated(deps handlers.Deps, height uint64) bool {
	m := deps.Milestone(height)
	return m.AIP11 && m.HTLCEnabled
}
