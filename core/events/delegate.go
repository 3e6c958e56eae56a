package events

import (
	"dposchain/core/types"
)

const (
	TypeDelegateRegistered = "delegate.registered"
	TypeDelegateResigned   = "delegate.resigned"
	TypeVoteCast           = "delegate.vote"
	TypeUnvoteCast         = "delegate.unvote"
)

type DelegateRegistered struct {
	TxID      string
	Address   string
	PublicKey string
	Username  string
}

func (DelegateRegistered) EventType() string { return TypeDelegateRegistered }

func (e DelegateRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeDelegateRegistered,
		Attributes: map[string]string{
			"txId":      e.TxID,
			"address":   e.Address,
			"publicKey": e.PublicKey,
			"username":  e.Username,
		},
	}
}

type DelegateResigned struct {
	TxID     string
	Address  string
	Username string
}

func (DelegateResigned) EventType() string { return TypeDelegateResigned }

func (e DelegateResigned) Event() *types.Event {
	return &types.Event{
		Type: TypeDelegateResigned,
		Attributes: map[string]string{
			"txId":     e.TxID,
			"address":  e.Address,
			"username": e.Username,
		},
	}
}

// Vote is emitted once per vote entry; Unvote marks a "-" entry.
type Vote struct {
	TxID     string
	Voter    string
	Delegate string
	Unvote   bool
}

func (e Vote) EventType() string {
	if e.Unvote {
		return TypeUnvoteCast
	}
	return TypeVoteCast
}

func (e Vote) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"txId":     e.TxID,
			"voter":    e.Voter,
			"delegate": e.Delegate,
		},
	}
}
