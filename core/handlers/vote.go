package handlers

import (
	"fmt"

	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/state"
	"dposchain/core/types"
)

// Vote sets, clears or switches the delegate a wallet votes for. The store
// moves the wallet's weight between delegates as the vote changes.
type Vote struct {
	Base
}

func NewVote(deps Deps) *Vote { return &Vote{Base{Deps: deps}} }

func (*Vote) Type() types.TxType { return types.TxTypeVote }

func (h *Vote) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	current := sender.Vote
	for _, entry := range tx.Asset.(types.Vote).Votes {
		add, key, err := types.ParseVote(entry)
		if err != nil {
			return err
		}
		if !add {
			if current == "" {
				return fmt.Errorf("%w: wallet %s", coreerrors.ErrNoVote, sender.Address)
			}
			if current != key {
				return fmt.Errorf("%w: wallet %s votes for %s, not %s", coreerrors.ErrUnvoteMismatch, sender.Address, current, key)
			}
			current = ""
			continue
		}
		if current != "" {
			return fmt.Errorf("%w: wallet %s votes for %s", coreerrors.ErrAlreadyVoted, sender.Address, current)
		}
		delegate, ok := store.FindByPublicKey(key)
		if !ok || !delegate.IsDelegate() {
			return fmt.Errorf("%w: %s", coreerrors.ErrUnknownDelegate, key)
		}
		if delegate.Delegate.Resigned {
			return fmt.Errorf("%w: %s", coreerrors.ErrResignedDelegate, delegate.Delegate.Username)
		}
		current = key
	}
	return nil
}

func (h *Vote) CheckPool(tx *types.Transaction, store *state.Store, pool PoolQuery) error {
	sender := tx.SenderPublicKeyHex()
	if pool != nil && pool.AnyPending(func(p *types.Transaction) bool {
		return p.Type() == types.TxTypeVote && p.SenderPublicKeyHex() == sender
	}) {
		return fmt.Errorf("%w: sender already has a pending vote", coreerrors.ErrDuplicateInPool)
	}
	return nil
}

func (h *Vote) Apply(tx *types.Transaction, store *state.Store) error {
	votes := tx.Asset.(types.Vote).Votes
	err := h.ApplyToSender(tx, store, func(w *types.Wallet) error {
		for _, entry := range votes {
			add, key, err := types.ParseVote(entry)
			if err != nil {
				return err
			}
			if add {
				w.Vote = key
			} else {
				w.Vote = ""
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	voter, _ := SenderAddress(tx, store)
	for _, entry := range votes {
		add, key, _ := types.ParseVote(entry)
		h.Deps.Emit(events.Vote{TxID: tx.ID, Voter: voter, Delegate: key, Unvote: !add})
	}
	return nil
}

func (h *Vote) Revert(tx *types.Transaction, store *state.Store) error {
	votes := tx.Asset.(types.Vote).Votes
	return h.RevertForSender(tx, store, func(w *types.Wallet) error {
		for i := len(votes) - 1; i >= 0; i-- {
			add, key, err := types.ParseVote(votes[i])
			if err != nil {
				return err
			}
			if add {
				if w.Vote != key {
					return fmt.Errorf("%w: revert of vote for %s on wallet voting %s", coreerrors.ErrIndexInconsistency, key, w.Vote)
				}
				w.Vote = ""
			} else {
				w.Vote = key
			}
		}
		return nil
	})
}
