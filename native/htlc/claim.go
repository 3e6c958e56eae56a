package htlc

import (
	"bytes"
	"fmt"
	"math/big"

	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/handlers"
	"dposchain/core/state"
	"dposchain/core/types"
)

// ClaimHandler releases an unexpired lock to its recipient when the claim
// reveals the secret. Anyone may submit the claim; the funds always go to
// the recipient named by the lock and the claim sender only pays the fee.
type ClaimHandler struct {
	handlers.Base
}

func NewClaimHandler(deps handlers.Deps) *ClaimHandler {
	return &ClaimHandler{Base: handlers.Base{Deps: deps}}
}

func (*ClaimHandler) Type() types.TxType { return types.TxTypeHtlcClaim }

func (h *ClaimHandler) Activated(height uint64) bool {
	return activated(h.Deps, height)
}

func (h *ClaimHandler) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	asset := tx.Asset.(types.HtlcClaim)
	_, lock, err := openLock(store, asset.LockTransactionID)
	if err != nil {
		return err
	}
	if ref := h.Deps.ChainTime.LastBlock(); Expired(lock.Expiration, ref) {
		return fmt.Errorf("%w: lock %s", coreerrors.ErrLockExpired, asset.LockTransactionID)
	}
	if h.Deps.Hasher == nil {
		return fmt.Errorf("%w: no secret hasher configured", coreerrors.ErrSecretMismatch)
	}
	digest, err := h.Deps.Hasher.Digest(lock.HashType, asset.UnlockSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerrors.ErrSecretMismatch, err)
	}
	if !bytes.Equal(digest, lock.SecretHash) {
		return fmt.Errorf("%w: lock %s", coreerrors.ErrSecretMismatch, asset.LockTransactionID)
	}
	return nil
}

func (h *ClaimHandler) CheckPool(tx *types.Transaction, store *state.Store, pool handlers.PoolQuery) error {
	return checkPoolForLock(store, pool, tx.Asset.(types.HtlcClaim).LockTransactionID)
}

func (h *ClaimHandler) Apply(tx *types.Transaction, store *state.Store) error {
	lockID := tx.Asset.(types.HtlcClaim).LockTransactionID
	holder, lock, err := openLock(store, lockID)
	if err != nil {
		return err
	}
	if err := h.ApplyToSender(tx, store, nil); err != nil {
		return err
	}
	if err := releaseLock(store, holder.Address, lockID, false); err != nil {
		return err
	}
	if err := handlers.AdjustBalance(store, lock.RecipientID, lock.Amount); err != nil {
		return err
	}
	h.Deps.Emit(events.HtlcClaimed{LockID: lockID, TxID: tx.ID, Recipient: lock.RecipientID, Amount: lock.Amount})
	return nil
}

func (h *ClaimHandler) Revert(tx *types.Transaction, store *state.Store) error {
	lockID := tx.Asset.(types.HtlcClaim).LockTransactionID
	lockTx, err := lockTransaction(h.Deps, lockID)
	if err != nil {
		return err
	}
	lock := LockFromTransaction(lockTx)
	if err := handlers.AdjustBalance(store, lock.RecipientID, new(big.Int).Neg(lock.Amount)); err != nil {
		return err
	}
	if err := restoreLock(store, lockID, lockTx, false); err != nil {
		return err
	}
	return h.RevertForSender(tx, store, nil)
}
