package handlers

import (
	"fmt"
	"math/big"

	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/state"
	"dposchain/core/types"
)

// DelegateRegistration turns the sender into a delegate with a unique
// username.
type DelegateRegistration struct {
	Base
}

func NewDelegateRegistration(deps Deps) *DelegateRegistration {
	return &DelegateRegistration{Base{Deps: deps}}
}

func (*DelegateRegistration) Type() types.TxType { return types.TxTypeDelegateRegistration }

func (h *DelegateRegistration) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	if sender.IsDelegate() {
		return fmt.Errorf("%w: %s", coreerrors.ErrAlreadyDelegate, sender.Delegate.Username)
	}
	username := tx.Asset.(types.DelegateRegistration).Username
	if _, taken := store.FindByUsername(username); taken {
		return fmt.Errorf("%w: %s", coreerrors.ErrUsernameTaken, username)
	}
	return nil
}

func (h *DelegateRegistration) CheckPool(tx *types.Transaction, store *state.Store, pool PoolQuery) error {
	if pool == nil {
		return nil
	}
	sender := tx.SenderPublicKeyHex()
	username := tx.Asset.(types.DelegateRegistration).Username
	if pool.AnyPending(func(p *types.Transaction) bool {
		reg, ok := p.Asset.(types.DelegateRegistration)
		return ok && (p.SenderPublicKeyHex() == sender || reg.Username == username)
	}) {
		return fmt.Errorf("%w: registration for sender or username %q already pending", coreerrors.ErrDuplicateInPool, username)
	}
	return nil
}

func (h *DelegateRegistration) Apply(tx *types.Transaction, store *state.Store) error {
	username := tx.Asset.(types.DelegateRegistration).Username
	err := h.ApplyToSender(tx, store, func(w *types.Wallet) error {
		w.Delegate = &types.DelegateAttributes{
			Username:      username,
			VoteBalance:   big.NewInt(0),
			ForgedFees:    big.NewInt(0),
			ForgedRewards: big.NewInt(0),
		}
		return nil
	})
	if err != nil {
		return err
	}
	address, _ := SenderAddress(tx, store)
	h.Deps.Emit(events.DelegateRegistered{TxID: tx.ID, Address: address, PublicKey: tx.SenderPublicKeyHex(), Username: username})
	return nil
}

func (h *DelegateRegistration) Revert(tx *types.Transaction, store *state.Store) error {
	return h.RevertForSender(tx, store, func(w *types.Wallet) error {
		if w.Delegate == nil {
			return fmt.Errorf("%w: revert registration of non delegate %s", coreerrors.ErrIndexInconsistency, w.Address)
		}
		w.Delegate = nil
		return nil
	})
}

// DelegateResignation permanently removes the sender from delegate ranking.
type DelegateResignation struct {
	Base
}

func NewDelegateResignation(deps Deps) *DelegateResignation {
	return &DelegateResignation{Base{Deps: deps}}
}

func (*DelegateResignation) Type() types.TxType { return types.TxTypeDelegateResignation }

func (h *DelegateResignation) Activated(height uint64) bool {
	return h.Deps.Milestone(height).AIP11
}

func (h *DelegateResignation) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	if !sender.IsDelegate() {
		return fmt.Errorf("%w: %s", coreerrors.ErrNotDelegate, sender.Address)
	}
	if sender.Delegate.Resigned {
		return fmt.Errorf("%w: %s", coreerrors.ErrAlreadyResigned, sender.Delegate.Username)
	}
	remaining := -1
	for _, d := range store.AllDelegates() {
		if !d.Delegate.Resigned {
			remaining++
		}
	}
	required := int(h.Deps.Milestone(h.Deps.NextHeight()).ActiveDelegates) + 1
	if remaining < required {
		return fmt.Errorf("%w: %d would remain, %d required", coreerrors.ErrNotEnoughDelegates, remaining, required)
	}
	return nil
}

func (h *DelegateResignation) CheckPool(tx *types.Transaction, store *state.Store, pool PoolQuery) error {
	sender := tx.SenderPublicKeyHex()
	if pool != nil && pool.AnyPending(func(p *types.Transaction) bool {
		return p.Type() == types.TxTypeDelegateResignation && p.SenderPublicKeyHex() == sender
	}) {
		return fmt.Errorf("%w: resignation already pending", coreerrors.ErrDuplicateInPool)
	}
	return nil
}

func (h *DelegateResignation) Apply(tx *types.Transaction, store *state.Store) error {
	var username string
	err := h.ApplyToSender(tx, store, func(w *types.Wallet) error {
		if w.Delegate == nil {
			return fmt.Errorf("%w: %s", coreerrors.ErrNotDelegate, w.Address)
		}
		w.Delegate.Resigned = true
		username = w.Delegate.Username
		return nil
	})
	if err != nil {
		return err
	}
	address, _ := SenderAddress(tx, store)
	h.Deps.Emit(events.DelegateResigned{TxID: tx.ID, Address: address, Username: username})
	return nil
}

func (h *DelegateResignation) Revert(tx *types.Transaction, store *state.Store) error {
	return h.RevertForSender(tx, store, func(w *types.Wallet) error {
		if w.Delegate == nil || !w.Delegate.Resigned {
			return fmt.Errorf("%w: revert resignation of %s", coreerrors.ErrIndexInconsistency, w.Address)
		}
		w.Delegate.Resigned = false
		return nil
	})
}
