package handlers

import (
	"fmt"
	"math/big"

	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/state"
	"dposchain/core/types"
	"dposchain/crypto"
)

// Transfer moves the transaction amount to a single recipient.
type Transfer struct {
	Base
}

func NewTransfer(deps Deps) *Transfer { return &Transfer{Base{Deps: deps}} }

func (*Transfer) Type() types.TxType { return types.TxTypeTransfer }

func (h *Transfer) CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error {
	if err := h.CheckSender(tx, sender); err != nil {
		return err
	}
	return CheckRecipient(store, tx.RecipientID)
}

func (h *Transfer) Apply(tx *types.Transaction, store *state.Store) error {
	if err := h.ApplyToSender(tx, store, nil); err != nil {
		return err
	}
	if err := AdjustBalance(store, tx.RecipientID, tx.AmountOrZero()); err != nil {
		return err
	}
	from, _ := SenderAddress(tx, store)
	h.Deps.Emit(events.Transfer{TxID: tx.ID, From: from, To: tx.RecipientID, Amount: tx.AmountOrZero()})
	return nil
}

func (h *Transfer) Revert(tx *types.Transaction, store *state.Store) error {
	if err := AdjustBalance(store, tx.RecipientID, new(big.Int).Neg(tx.AmountOrZero())); err != nil {
		return err
	}
	return h.RevertForSender(tx, store, nil)
}

// CheckRecipient validates a recipient address against the store prefix.
func CheckRecipient(store *state.Store, recipient string) error {
	if err := crypto.ValidateAddress(store.Prefix(), recipient); err != nil {
		return fmt.Errorf("%w: recipient: %v", coreerrors.ErrInvalidTransaction, err)
	}
	return nil
}
