package handlers

import (
	"math/big"

	"dposchain/core/events"
	"dposchain/core/state"
	"dposchain/core/types"
)

// MultiPayment debits the sender once and credits every payment recipient.
type MultiPayment struct {
	Base
}

func NewMultiPayment(deps Deps) *MultiPayment { return &MultiPayment{Base{Deps: deps}} }

func (*MultiPayment) Type() types.TxType { return types.TxTypeMultiPayment }

func (h *MultiPayment) Activated(height uint64) bool {
	return h.Deps.Milestone(height).AIP11
}

func (h *MultiPayment) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	for _, p := range tx.Asset.(types.MultiPayment).Payments {
		if err := CheckRecipient(store, p.RecipientID); err != nil {
			return err
		}
	}
	return nil
}

func (h *MultiPayment) Apply(tx *types.Transaction, store *state.Store) error {
	if err := h.ApplyToSender(tx, store, nil); err != nil {
		return err
	}
	from, _ := SenderAddress(tx, store)
	for _, p := range tx.Asset.(types.MultiPayment).Payments {
		if err := AdjustBalance(store, p.RecipientID, p.Amount); err != nil {
			return err
		}
		h.Deps.Emit(events.Transfer{TxID: tx.ID, From: from, To: p.RecipientID, Amount: p.Amount})
	}
	return nil
}

func (h *MultiPayment) Revert(tx *types.Transaction, store *state.Store) error {
	payments := tx.Asset.(types.MultiPayment).Payments
	for i := len(payments) - 1; i >= 0; i-- {
		if err := AdjustBalance(store, payments[i].RecipientID, new(big.Int).Neg(payments[i].Amount)); err != nil {
			return err
		}
	}
	return h.RevertForSender(tx, store, nil)
}
