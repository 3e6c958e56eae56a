package events

import (
	"math/big"

	"dposchain/core/types"
)

const (
	TypeHtlcLocked   = "htlc.locked"
	TypeHtlcClaimed  = "htlc.claimed"
	TypeHtlcRefunded = "htlc.refunded"
)

type HtlcLocked struct {
	LockID     string
	Sender     string
	Recipient  string
	Amount     *big.Int
	HashType   string
	Expiration types.Expiration
}

func (HtlcLocked) EventType() string { return TypeHtlcLocked }

func (e HtlcLocked) Event() *types.Event {
	expirationType := "timestamp"
	if e.Expiration.Type == types.BlockHeight {
		expirationType = "height"
	}
	return &types.Event{
		Type: TypeHtlcLocked,
		Attributes: map[string]string{
			"lockId":          e.LockID,
			"sender":          e.Sender,
			"recipient":       e.Recipient,
			"amount":          formatAmount(e.Amount),
			"hashType":        e.HashType,
			"expirationType":  expirationType,
			"expirationValue": uintToString(e.Expiration.Value),
		},
	}
}

type HtlcClaimed struct {
	LockID    string
	TxID      string
	Recipient string
	Amount    *big.Int
}

func (HtlcClaimed) EventType() string { return TypeHtlcClaimed }

func (e HtlcClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeHtlcClaimed,
		Attributes: map[string]string{
			"lockId":    e.LockID,
			"txId":      e.TxID,
			"recipient": e.Recipient,
			"amount":    formatAmount(e.Amount),
		},
	}
}

type HtlcRefunded struct {
	LockID string
	TxID   string
	Sender string
	Amount *big.Int
}

func (HtlcRefunded) EventType() string { return TypeHtlcRefunded }

func (e HtlcRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeHtlcRefunded,
		Attributes: map[string]string{
			"lockId": e.LockID,
			"txId":   e.TxID,
			"sender": e.Sender,
			"amount": formatAmount(e.Amount),
		},
	}
}
