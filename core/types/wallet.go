package types

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"sort"

	"dposchain/crypto"
)

// ExpirationType selects the clock an HTLC expiration is measured against.
type ExpirationType uint8

const (
	EpochTimestamp ExpirationType = 1
	BlockHeight    ExpirationType = 2
)

// Expiration is the deadline of an HTLC lock.
type Expiration struct {
	Type  ExpirationType
	Value uint64
}

// Lock is an open HTLC escrow stored on the wallet that created it, keyed by
// the id of the lock transaction.
type Lock struct {
	Amount      *big.Int
	RecipientID string
	SecretHash  []byte
	HashType    crypto.HashType
	Expiration  Expiration
	VendorField string
}

// DelegateAttributes is present on wallets that registered as delegates.
type DelegateAttributes struct {
	Username string
	// VoteBalance is the sum of balance plus locked balance of every wallet
	// voting for this delegate.
	VoteBalance    *big.Int
	Rank           uint32
	Round          uint64
	Resigned       bool
	ProducedBlocks uint64
	ForgedFees     *big.Int
	ForgedRewards  *big.Int
}

// HtlcAttributes tracks the escrow sub-state of a lock creator.
type HtlcAttributes struct {
	LockedBalance *big.Int
	Locks         map[string]*Lock
}

// Wallet is the ledger state of one address.
type Wallet struct {
	Address   string
	PublicKey []byte
	Balance   *big.Int
	Nonce     uint64
	// Vote is the hex public key of the delegate this wallet votes for.
	Vote     string
	Delegate *DelegateAttributes
	Htlc     HtlcAttributes
}

// NewWallet returns an empty wallet for address.
func NewWallet(address string) *Wallet {
	return &Wallet{
		Address: address,
		Balance: big.NewInt(0),
		Htlc: HtlcAttributes{
			LockedBalance: big.NewInt(0),
			Locks:         map[string]*Lock{},
		},
	}
}

// PublicKeyHex returns the wallet public key as hex, or "" when unknown.
func (w *Wallet) PublicKeyHex() string {
	if len(w.PublicKey) == 0 {
		return ""
	}
	return hex.EncodeToString(w.PublicKey)
}

// IsDelegate reports whether the wallet registered a delegate username.
func (w *Wallet) IsDelegate() bool {
	return w.Delegate != nil
}

// HasVoted reports whether the wallet currently votes for a delegate.
func (w *Wallet) HasVoted() bool {
	return w.Vote != ""
}

// Weight is the economic weight the wallet lends to the delegate it votes
// for: liquid balance plus HTLC locked balance.
func (w *Wallet) Weight() *big.Int {
	weight := cloneBig(w.Balance)
	return weight.Add(weight, cloneBig(w.Htlc.LockedBalance))
}

// LockIDs returns the ids of the wallet's open locks in sorted order.
func (w *Wallet) LockIDs() []string {
	ids := make([]string, 0, len(w.Htlc.Locks))
	for id := range w.Htlc.Locks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the wallet.
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	clone := &Wallet{
		Address:   w.Address,
		PublicKey: append([]byte(nil), w.PublicKey...),
		Balance:   cloneBig(w.Balance),
		Nonce:     w.Nonce,
		Vote:      w.Vote,
		Htlc: HtlcAttributes{
			LockedBalance: cloneBig(w.Htlc.LockedBalance),
			Locks:         make(map[string]*Lock, len(w.Htlc.Locks)),
		},
	}
	if len(w.PublicKey) == 0 {
		clone.PublicKey = nil
	}
	if w.Delegate != nil {
		clone.Delegate = w.Delegate.Clone()
	}
	for id, lock := range w.Htlc.Locks {
		clone.Htlc.Locks[id] = lock.Clone()
	}
	return clone
}

// Equal compares wallets by value. Big integers are compared numerically.
func (w *Wallet) Equal(o *Wallet) bool {
	if w == nil || o == nil {
		return w == o
	}
	if w.Address != o.Address || !bytes.Equal(w.PublicKey, o.PublicKey) || w.Nonce != o.Nonce || w.Vote != o.Vote {
		return false
	}
	if cloneBig(w.Balance).Cmp(cloneBig(o.Balance)) != 0 {
		return false
	}
	if !w.Delegate.Equal(o.Delegate) {
		return false
	}
	if cloneBig(w.Htlc.LockedBalance).Cmp(cloneBig(o.Htlc.LockedBalance)) != 0 {
		return false
	}
	if len(w.Htlc.Locks) != len(o.Htlc.Locks) {
		return false
	}
	for id, lock := range w.Htlc.Locks {
		if !lock.Equal(o.Htlc.Locks[id]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the delegate attributes.
func (d *DelegateAttributes) Clone() *DelegateAttributes {
	if d == nil {
		return nil
	}
	clone := *d
	clone.VoteBalance = cloneBig(d.VoteBalance)
	clone.ForgedFees = cloneBig(d.ForgedFees)
	clone.ForgedRewards = cloneBig(d.ForgedRewards)
	return &clone
}

func (d *DelegateAttributes) Equal(o *DelegateAttributes) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Username == o.Username &&
		d.Rank == o.Rank &&
		d.Round == o.Round &&
		d.Resigned == o.Resigned &&
		d.ProducedBlocks == o.ProducedBlocks &&
		cloneBig(d.VoteBalance).Cmp(cloneBig(o.VoteBalance)) == 0 &&
		cloneBig(d.ForgedFees).Cmp(cloneBig(o.ForgedFees)) == 0 &&
		cloneBig(d.ForgedRewards).Cmp(cloneBig(o.ForgedRewards)) == 0
}

// Clone returns a deep copy of the lock.
func (l *Lock) Clone() *Lock {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Amount = cloneBig(l.Amount)
	clone.SecretHash = append([]byte(nil), l.SecretHash...)
	return &clone
}

func (l *Lock) Equal(o *Lock) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.RecipientID == o.RecipientID &&
		bytes.Equal(l.SecretHash, o.SecretHash) &&
		l.HashType == o.HashType &&
		l.Expiration == o.Expiration &&
		l.VendorField == o.VendorField &&
		cloneBig(l.Amount).Cmp(cloneBig(o.Amount)) == 0
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
