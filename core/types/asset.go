package types

import (
	"math/big"

	"dposchain/crypto"
)

// Asset is the type-specific payload of a transaction. The set of
// implementations is closed: the transaction type is derived from the asset,
// so a transaction can never carry a payload that disagrees with its type.
type Asset interface {
	TxType() TxType
	isAsset()
}

// Transfer moves Transaction.Amount to Transaction.RecipientID.
type Transfer struct{}

// Payment is one leg of a MultiPayment.
type Payment struct {
	RecipientID string
	Amount      *big.Int
}

// MultiPayment debits the sender once and credits every payment recipient.
type MultiPayment struct {
	Payments []Payment
}

// Vote carries one vote ("+<pubkey>"), one unvote ("-<pubkey>") or an
// unvote followed by a vote.
type Vote struct {
	Votes []string
}

// DelegateRegistration claims a delegate username for the sender.
type DelegateRegistration struct {
	Username string
}

// DelegateResignation permanently removes the sender from delegate ranking.
type DelegateResignation struct{}

// HtlcLock escrows Transaction.Amount for Transaction.RecipientID until the
// secret behind SecretHash is revealed or Expiration passes.
type HtlcLock struct {
	SecretHash []byte
	HashType   crypto.HashType
	Expiration Expiration
}

// HtlcClaim releases a lock to its recipient by revealing the secret.
type HtlcClaim struct {
	LockTransactionID string
	UnlockSecret      []byte
}

// HtlcRefund returns an expired lock to its creator.
type HtlcRefund struct {
	LockTransactionID string
}

func (Transfer) TxType() TxType             { return TxTypeTransfer }
func (MultiPayment) TxType() TxType         { return TxTypeMultiPayment }
func (Vote) TxType() TxType                 { return TxTypeVote }
func (DelegateRegistration) TxType() TxType { return TxTypeDelegateRegistration }
func (DelegateResignation) TxType() TxType  { return TxTypeDelegateResignation }
func (HtlcLock) TxType() TxType             { return TxTypeHtlcLock }
func (HtlcClaim) TxType() TxType            { return TxTypeHtlcClaim }
func (HtlcRefund) TxType() TxType           { return TxTypeHtlcRefund }

func (Transfer) isAsset()             {}
func (MultiPayment) isAsset()         {}
func (Vote) isAsset()                 {}
func (DelegateRegistration) isAsset() {}
func (DelegateResignation) isAsset()  {}
func (HtlcLock) isAsset()             {}
func (HtlcClaim) isAsset()            {}
func (HtlcRefund) isAsset()           {}

// Total returns the sum of all payment amounts.
func (m MultiPayment) Total() *big.Int {
	total := new(big.Int)
	for _, p := range m.Payments {
		if p.Amount != nil {
			total.Add(total, p.Amount)
		}
	}
	return total
}
