package handlers

import (
	"bytes"
	"fmt"
	"math/big"

	coreerrors "dposchain/core/errors"
	"dposchain/core/state"
	"dposchain/core/types"
)

// Base carries the checks and sender bookkeeping every transaction type
// shares. Type handlers embed it.
type Base struct {
	Deps Deps
}

// Activated is true for types available since genesis.
func (Base) Activated(uint64) bool { return true }

// CheckPool admits by default.
func (Base) CheckPool(*types.Transaction, *state.Store, PoolQuery) error { return nil }

// CheckSender validates structure, signature, sender identity, nonce and
// that the sender can cover everything the transaction debits.
func (b Base) CheckSender(tx *types.Transaction, sender *types.Wallet) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if b.Deps.Verifier != nil && !b.Deps.Verifier.VerifyTransaction(tx) {
		return fmt.Errorf("%w: transaction %s", coreerrors.ErrInvalidSignature, tx.ID)
	}
	if len(sender.PublicKey) > 0 && !bytes.Equal(sender.PublicKey, tx.SenderPublicKey) {
		return fmt.Errorf("%w: wallet %s", coreerrors.ErrSenderMismatch, sender.Address)
	}
	if tx.Nonce != sender.Nonce+1 {
		return fmt.Errorf("%w: wallet %s nonce %d, transaction nonce %d", coreerrors.ErrInvalidNonce, sender.Address, sender.Nonce, tx.Nonce)
	}
	if spend := tx.Spend(); sender.Balance.Cmp(spend) < 0 {
		return fmt.Errorf("%w: wallet %s has %s, needs %s", coreerrors.ErrInsufficientBalance, sender.Address, sender.Balance, spend)
	}
	return nil
}

// SenderAddress derives the address of the transaction sender.
func SenderAddress(tx *types.Transaction, store *state.Store) (string, error) {
	address, err := store.AddressOf(tx.SenderPublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: sender public key: %v", coreerrors.ErrInvalidTransaction, err)
	}
	return address, nil
}

// ApplyToSender debits everything the transaction spends, advances the
// nonce and then runs extra on the same draft, so the sender changes in a
// single store mutation.
func (b Base) ApplyToSender(tx *types.Transaction, store *state.Store, extra func(w *types.Wallet) error) error {
	address, err := SenderAddress(tx, store)
	if err != nil {
		return err
	}
	return store.Mutate(address, func(w *types.Wallet) error {
		if tx.Nonce != w.Nonce+1 {
			return fmt.Errorf("%w: wallet %s nonce %d, transaction nonce %d", coreerrors.ErrInvalidNonce, w.Address, w.Nonce, tx.Nonce)
		}
		if len(w.PublicKey) == 0 {
			w.PublicKey = append([]byte(nil), tx.SenderPublicKey...)
		}
		w.Balance.Sub(w.Balance, tx.Spend())
		w.Nonce = tx.Nonce
		if extra != nil {
			return extra(w)
		}
		return nil
	})
}

// RevertForSender is the inverse of ApplyToSender. extra runs first so it
// sees the wallet as Apply left it.
func (b Base) RevertForSender(tx *types.Transaction, store *state.Store, extra func(w *types.Wallet) error) error {
	address, err := SenderAddress(tx, store)
	if err != nil {
		return err
	}
	return store.Mutate(address, func(w *types.Wallet) error {
		if w.Nonce != tx.Nonce {
			return fmt.Errorf("%w: revert of nonce %d on wallet %s at nonce %d", coreerrors.ErrInvalidNonce, tx.Nonce, w.Address, w.Nonce)
		}
		if extra != nil {
			if err := extra(w); err != nil {
				return err
			}
		}
		w.Balance.Add(w.Balance, tx.Spend())
		w.Nonce = tx.Nonce - 1
		return nil
	})
}

// AdjustBalance adds delta (which may be negative) to the balance of
// address.
func AdjustBalance(store *state.Store, address string, delta *big.Int) error {
	return store.Mutate(address, func(w *types.Wallet) error {
		w.Balance.Add(w.Balance, delta)
		return nil
	})
}
