package events

import (
	"math/big"

	"dposchain/core/types"
)

const (
	// TypeTransfer is emitted for every balance movement between wallets.
	TypeTransfer = "transfer"
)

type Transfer struct {
	TxID   string
	From   string
	To     string
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTransfer,
		Attributes: map[string]string{
			"txId":   e.TxID,
			"from":   e.From,
			"to":     e.To,
			"amount": formatAmount(e.Amount),
		},
	}
}
