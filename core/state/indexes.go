package state

import (
	"dposchain/core/types"
)

func (s *Store) unindex(w *types.Wallet) {
	if w == nil {
		return
	}
	if key := w.PublicKeyHex(); key != "" {
		delete(s.byPublicKey, key)
	}
	if w.Delegate != nil {
		delete(s.byUsername, w.Delegate.Username)
		delete(s.resignations, w.Delegate.Username)
	}
	for id := range w.Htlc.Locks {
		delete(s.byLock, id)
	}
	if w.Vote != "" {
		if set, ok := s.voters[w.Vote]; ok {
			delete(set, w.Address)
			if len(set) == 0 {
				delete(s.voters, w.Vote)
			}
		}
	}
}

func (s *Store) reindex(w *types.Wallet) {
	if key := w.PublicKeyHex(); key != "" {
		s.byPublicKey[key] = w.Address
	}
	if w.Delegate != nil {
		s.byUsername[w.Delegate.Username] = w.Address
		if w.Delegate.Resigned {
			s.resignations[w.Delegate.Username] = w.Address
		}
	}
	for id := range w.Htlc.Locks {
		s.byLock[id] = w.Address
	}
	if w.Vote != "" {
		set, ok := s.voters[w.Vote]
		if !ok {
			set = make(map[string]struct{})
			s.voters[w.Vote] = set
		}
		set[w.Address] = struct{}{}
	}
}
