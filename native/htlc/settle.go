package htlc

import (
	"fmt"

	coreerrors "dposchain/core/errors"
	"dposchain/core/handlers"
	"dposchain/core/state"
	"dposchain/core/types"
)

// openLock finds the lock lockID and the wallet holding it.
func openLock(store *state.Store, lockID string) (*types.Wallet, *types.Lock, error) {
	wallet, ok := store.FindByLockID(lockID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", coreerrors.ErrLockNotFound, lockID)
	}
	lock, ok := wallet.Htlc.Locks[lockID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: lock %s indexed to %s but missing", coreerrors.ErrIndexInconsistency, lockID, wallet.Address)
	}
	return wallet, lock, nil
}

// lockTransaction loads the original lock transaction through the
// transaction lookup. Reverting a claim or refund needs it to rebuild the
// removed lock.
func lockTransaction(deps handlers.Deps, lockID string) (*types.Transaction, error) {
	if deps.Transactions == nil {
		return nil, fmt.Errorf("%w: no transaction lookup to restore lock %s", coreerrors.ErrFatal, lockID)
	}
	tx, ok, err := deps.Transactions.FindByID(lockID)
	if err != nil {
		return nil, fmt.Errorf("load lock transaction %s: %w", lockID, err)
	}
	if !ok || tx.Type() != types.TxTypeHtlcLock {
		return nil, fmt.Errorf("%w: lock transaction %s", coreerrors.ErrLockNotFound, lockID)
	}
	return tx, nil
}

// releaseLock removes lockID from its holder. When refund is set the amount
// returns to the holder's balance.
func releaseLock(store *state.Store, holder, lockID string, refund bool) error {
	return store.Mutate(holder, func(w *types.Wallet) error {
		lock, ok := w.Htlc.Locks[lockID]
		if !ok {
			return fmt.Errorf("%w: %s", coreerrors.ErrLockNotFound, lockID)
		}
		delete(w.Htlc.Locks, lockID)
		w.Htlc.LockedBalance.Sub(w.Htlc.LockedBalance, lock.Amount)
		if refund {
			w.Balance.Add(w.Balance, lock.Amount)
		}
		return nil
	})
}

// restoreLock puts the lock opened by lockTx back on its creator. When
// refunded is set the amount is taken back out of the creator's balance.
func restoreLock(store *state.Store, lockID string, lockTx *types.Transaction, refunded bool) error {
	holder, err := handlers.SenderAddress(lockTx, store)
	if err != nil {
		return err
	}
	lock := LockFromTransaction(lockTx)
	return store.Mutate(holder, func(w *types.Wallet) error {
		if _, exists := w.Htlc.Locks[lockID]; exists {
			return fmt.Errorf("%w: lock %s still open", coreerrors.ErrIndexInconsistency, lockID)
		}
		w.Htlc.Locks[lockID] = lock
		w.Htlc.LockedBalance.Add(w.Htlc.LockedBalance, lock.Amount)
		if refunded {
			w.Balance.Sub(w.Balance, lock.Amount)
		}
		return nil
	})
}

// checkPoolForLock admits a claim or refund only while the lock is open and
// no other claim or refund of it is pending.
func checkPoolForLock(store *state.Store, pool handlers.PoolQuery, lockID string) error {
	if _, _, err := openLock(store, lockID); err != nil {
		return err
	}
	if pool == nil {
		return nil
	}
	if pool.AnyPending(func(p *types.Transaction) bool { return referencedLock(p) == lockID }) {
		return fmt.Errorf("%w: lock %s already being settled", coreerrors.ErrDuplicateInPool, lockID)
	}
	return nil
}

func referencedLock(tx *types.Transaction) string {
	switch asset := tx.Asset.(type) {
	case types.HtlcClaim:
		return asset.LockTransactionID
	case types.HtlcRefund:
		return asset.LockTransactionID
	default:
		return ""
	}
}
