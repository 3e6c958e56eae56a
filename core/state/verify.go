package state

import (
	"fmt"
	"math/big"

	coreerrors "dposchain/core/errors"
)

// VerifyVoteBalances recomputes every delegate vote balance and locked
// balance by full scan and reports the first mismatch. It is a diagnostic;
// the ledger never needs it to stay consistent.
func (s *Store) VerifyVoteBalances() error {
	expected := make(map[string]*big.Int)
	for address, w := range s.wallets {
		if w.Balance.Sign() < 0 || w.Htlc.LockedBalance.Sign() < 0 {
			return fmt.Errorf("%w: wallet %s has a negative balance", coreerrors.ErrIndexInconsistency, address)
		}
		locked := new(big.Int)
		for id, lock := range w.Htlc.Locks {
			locked.Add(locked, lock.Amount)
			if s.byLock[id] != address {
				return fmt.Errorf("%w: lock %s is not indexed to %s", coreerrors.ErrIndexInconsistency, id, address)
			}
		}
		if locked.Cmp(w.Htlc.LockedBalance) != 0 {
			return fmt.Errorf("%w: wallet %s locked balance %s, locks sum to %s", coreerrors.ErrIndexInconsistency, address, w.Htlc.LockedBalance, locked)
		}
		if w.Vote == "" {
			continue
		}
		if _, ok := s.voters[w.Vote][address]; !ok {
			return fmt.Errorf("%w: vote of %s is not indexed", coreerrors.ErrIndexInconsistency, address)
		}
		sum, ok := expected[w.Vote]
		if !ok {
			sum = new(big.Int)
			expected[w.Vote] = sum
		}
		sum.Add(sum, w.Weight())
	}
	for address, w := range s.wallets {
		if w.Delegate == nil {
			continue
		}
		want := expected[w.PublicKeyHex()]
		if want == nil {
			want = new(big.Int)
		}
		if w.Delegate.VoteBalance.Cmp(want) != 0 {
			return fmt.Errorf("%w: delegate %s vote balance %s, voters weigh %s", coreerrors.ErrIndexInconsistency, address, w.Delegate.VoteBalance, want)
		}
	}
	for key, set := range s.voters {
		for address := range set {
			if w := s.wallets[address]; w == nil || w.Vote != key {
				return fmt.Errorf("%w: stale voter %s for %s", coreerrors.ErrIndexInconsistency, address, key)
			}
		}
	}
	return nil
}
