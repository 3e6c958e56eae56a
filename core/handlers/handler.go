// Package handlers implements the per-type transaction state transitions.
//
// Every transaction type has one Handler. CheckApply and CheckPool validate
// without touching state; Apply and Revert mutate the store and are exact
// inverses of each other. Apply assumes CheckApply passed in the same control
// path and does not validate again.
package handlers

import (
	"dposchain/core/events"
	"dposchain/core/milestones"
	"dposchain/core/state"
	"dposchain/core/types"
	"dposchain/crypto"
)

// ChainTime supplies the reference instant for expiry checks.
type ChainTime interface {
	LastBlock() types.BlockRef
}

// TransactionLookup finds confirmed transactions by id.
type TransactionLookup interface {
	FindByID(id string) (*types.Transaction, bool, error)
}

// SignatureVerifier checks the sender signature of a transaction.
type SignatureVerifier interface {
	VerifyTransaction(tx *types.Transaction) bool
}

// Hasher digests HTLC secrets.
type Hasher interface {
	Digest(h crypto.HashType, secret []byte) ([]byte, error)
}

// PoolQuery exposes the pending transactions of the pool a candidate is
// being admitted to.
type PoolQuery interface {
	AnyPending(match func(*types.Transaction) bool) bool
}

// Handler is the state transition of one transaction type.
type Handler interface {
	Type() types.TxType
	// Activated reports whether the type may be applied at height.
	Activated(height uint64) bool
	CheckApply(tx *types.Transaction, sender *types.Wallet, store *state.Store) error
	CheckPool(tx *types.Transaction, store *state.Store, pool PoolQuery) error
	Apply(tx *types.Transaction, store *state.Store) error
	Revert(tx *types.Transaction, store *state.Store) error
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	ChainTime    ChainTime
	Transactions TransactionLookup
	Verifier     SignatureVerifier
	Hasher       Hasher
	Milestones   *milestones.Schedule
	Emitter      events.Emitter
}

// ECDSAVerifier verifies secp256k1 transaction signatures.
type ECDSAVerifier struct{}

// VerifyTransaction implements SignatureVerifier.
func (ECDSAVerifier) VerifyTransaction(tx *types.Transaction) bool {
	return tx.VerifySignature()
}

// Emit forwards e to the configured emitter, if any.
func (d Deps) Emit(e events.Event) {
	if d.Emitter == nil || e == nil {
		return
	}
	d.Emitter.Emit(e)
}

// Milestone returns the milestone in effect at height.
func (d Deps) Milestone(height uint64) milestones.Milestone {
	return d.Milestones.At(height)
}

// NextHeight is the height the next block will be forged at.
func (d Deps) NextHeight() uint64 {
	if d.ChainTime == nil {
		return 1
	}
	return d.ChainTime.LastBlock().Height + 1
}
