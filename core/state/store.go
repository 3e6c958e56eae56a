// Package state holds the authoritative wallet table of the ledger.
//
// The Store owns every wallet. Readers get copies; the only way to change a
// wallet is Mutate (or Index, which is built on it), which validates the
// result, re-indexes it and keeps delegate vote balances in step with the
// weight of their voters. Stored wallets are never modified in place, which
// is what makes Fork cheap: a fork shares wallet values with its parent and
// only copies the index maps.
//
// A Store is not safe for concurrent use; the ledger serialises access.
package state

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	coreerrors "dposchain/core/errors"
	"dposchain/core/types"
	"dposchain/crypto"
)

// IndexName selects a secondary index for FindByIndex.
type IndexName string

const (
	IndexAddress     IndexName = "address"
	IndexPublicKey   IndexName = "publicKey"
	IndexUsername    IndexName = "username"
	IndexLocks       IndexName = "locks"
	IndexResignation IndexName = "resignations"
)

// Store is the in-memory wallet table with its secondary indexes.
type Store struct {
	prefix crypto.AddressPrefix

	wallets      map[string]*types.Wallet
	byPublicKey  map[string]string
	byUsername   map[string]string
	byLock       map[string]string
	resignations map[string]string
	// voters maps a delegate public key to the addresses voting for it.
	voters map[string]map[string]struct{}
}

// NewStore returns an empty store deriving addresses with prefix.
func NewStore(prefix crypto.AddressPrefix) *Store {
	return &Store{
		prefix:       prefix,
		wallets:      make(map[string]*types.Wallet),
		byPublicKey:  make(map[string]string),
		byUsername:   make(map[string]string),
		byLock:       make(map[string]string),
		resignations: make(map[string]string),
		voters:       make(map[string]map[string]struct{}),
	}
}

// Prefix returns the address prefix of the store.
func (s *Store) Prefix() crypto.AddressPrefix {
	return s.prefix
}

// AddressOf derives the wallet address of a compressed public key.
func (s *Store) AddressOf(publicKey []byte) (string, error) {
	addr, err := crypto.AddressFromPublicKey(s.prefix, publicKey)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// Len returns the number of stored wallets.
func (s *Store) Len() int {
	return len(s.wallets)
}

// Has reports whether a wallet was ever stored for address.
func (s *Store) Has(address string) bool {
	_, ok := s.wallets[address]
	return ok
}

// Get returns a copy of the wallet at address. Unknown addresses yield a
// fresh zero wallet that is not stored until it is mutated.
func (s *Store) Get(address string) *types.Wallet {
	if w, ok := s.wallets[address]; ok {
		return w.Clone()
	}
	return types.NewWallet(address)
}

// GetByPublicKey returns the wallet owning publicKey, deriving its address
// when the key has not been seen yet. The returned copy carries the key.
func (s *Store) GetByPublicKey(publicKey []byte) (*types.Wallet, error) {
	address, err := s.AddressOf(publicKey)
	if err != nil {
		return nil, err
	}
	w := s.Get(address)
	if len(w.PublicKey) == 0 {
		w.PublicKey = append([]byte(nil), publicKey...)
	}
	return w, nil
}

// FindByPublicKey looks a wallet up by hex public key.
func (s *Store) FindByPublicKey(publicKeyHex string) (*types.Wallet, bool) {
	return s.findVia(s.byPublicKey, publicKeyHex)
}

// FindByUsername looks a delegate up by username.
func (s *Store) FindByUsername(username string) (*types.Wallet, bool) {
	return s.findVia(s.byUsername, username)
}

// FindByLockID returns the wallet holding the open lock created by the
// transaction lockID.
func (s *Store) FindByLockID(lockID string) (*types.Wallet, bool) {
	return s.findVia(s.byLock, lockID)
}

// FindByIndex dispatches to the named index.
func (s *Store) FindByIndex(name IndexName, key string) (*types.Wallet, bool, error) {
	switch name {
	case IndexAddress:
		if !s.Has(key) {
			return nil, false, nil
		}
		return s.Get(key), true, nil
	case IndexPublicKey:
		w, ok := s.FindByPublicKey(key)
		return w, ok, nil
	case IndexUsername:
		w, ok := s.FindByUsername(key)
		return w, ok, nil
	case IndexLocks:
		w, ok := s.FindByLockID(key)
		return w, ok, nil
	case IndexResignation:
		w, ok := s.findVia(s.resignations, key)
		return w, ok, nil
	default:
		return nil, false, fmt.Errorf("state: unknown index %q", name)
	}
}

func (s *Store) findVia(index map[string]string, key string) (*types.Wallet, bool) {
	address, ok := index[key]
	if !ok {
		return nil, false
	}
	w, ok := s.wallets[address]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// IsDelegate reports whether publicKeyHex belongs to a registered delegate.
func (s *Store) IsDelegate(publicKeyHex string) bool {
	address, ok := s.byPublicKey[publicKeyHex]
	if !ok {
		return false
	}
	return s.wallets[address].IsDelegate()
}

// VoterCount returns the number of wallets voting for publicKeyHex.
func (s *Store) VoterCount(publicKeyHex string) int {
	return len(s.voters[publicKeyHex])
}

// AllDelegates returns copies of every registered delegate, resigned ones
// included, ordered by username. The slice is a snapshot; later mutations
// do not affect it.
func (s *Store) AllDelegates() []*types.Wallet {
	names := make([]string, 0, len(s.byUsername))
	for name := range s.byUsername {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*types.Wallet, 0, len(names))
	for _, name := range names {
		out = append(out, s.wallets[s.byUsername[name]].Clone())
	}
	return out
}

// Wallets returns copies of every stored wallet ordered by address.
func (s *Store) Wallets() []*types.Wallet {
	addresses := make([]string, 0, len(s.wallets))
	for address := range s.wallets {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	out := make([]*types.Wallet, 0, len(addresses))
	for _, address := range addresses {
		out = append(out, s.wallets[address].Clone())
	}
	return out
}

// Mutate applies fn to a draft copy of the wallet at address and commits the
// draft if fn succeeds and the result is consistent. A failed Mutate leaves
// the store untouched. The draft must not be retained after fn returns.
//
// Delegate vote balances are maintained here: the weight the wallet lent to
// its delegate before fn is withdrawn and its weight afterwards is credited
// to whichever delegate it votes for now. fn must not change VoteBalance.
func (s *Store) Mutate(address string, fn func(w *types.Wallet) error) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", coreerrors.ErrIndexInconsistency)
	}
	before := s.wallets[address]
	var draft *types.Wallet
	if before != nil {
		draft = before.Clone()
	} else {
		draft = types.NewWallet(address)
	}
	if err := fn(draft); err != nil {
		return err
	}
	normalize(draft)
	if draft.Address != address {
		return fmt.Errorf("%w: wallet %s renamed to %s", coreerrors.ErrIndexInconsistency, address, draft.Address)
	}
	if err := s.validate(before, draft); err != nil {
		return err
	}
	updates, err := s.voteBalanceUpdates(before, draft)
	if err != nil {
		return err
	}
	s.unindex(before)
	s.wallets[address] = draft
	s.reindex(draft)
	for _, w := range updates {
		s.wallets[w.Address] = w
	}
	return nil
}

// Index stores w as the complete state of its address, replacing whatever
// was there, and rebuilds every index entry for it. A delegate keeps the
// vote balance the store already tracks for it.
func (s *Store) Index(w *types.Wallet) error {
	if w == nil {
		return fmt.Errorf("%w: nil wallet", coreerrors.ErrIndexInconsistency)
	}
	replacement := w.Clone()
	return s.Mutate(w.Address, func(draft *types.Wallet) error {
		*draft = *replacement
		return nil
	})
}

// Fork returns an independent store sharing wallet values with s. Changes to
// either side are invisible to the other.
func (s *Store) Fork() *Store {
	fork := &Store{
		prefix:       s.prefix,
		wallets:      make(map[string]*types.Wallet, len(s.wallets)),
		byPublicKey:  copyIndex(s.byPublicKey),
		byUsername:   copyIndex(s.byUsername),
		byLock:       copyIndex(s.byLock),
		resignations: copyIndex(s.resignations),
		voters:       make(map[string]map[string]struct{}, len(s.voters)),
	}
	for address, w := range s.wallets {
		fork.wallets[address] = w
	}
	for delegate, set := range s.voters {
		copied := make(map[string]struct{}, len(set))
		for address := range set {
			copied[address] = struct{}{}
		}
		fork.voters[delegate] = copied
	}
	return fork
}

func copyIndex(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func normalize(w *types.Wallet) {
	if w.Balance == nil {
		w.Balance = big.NewInt(0)
	}
	if w.Htlc.LockedBalance == nil {
		w.Htlc.LockedBalance = big.NewInt(0)
	}
	if w.Htlc.Locks == nil {
		w.Htlc.Locks = map[string]*types.Lock{}
	}
	if w.Delegate != nil {
		if w.Delegate.VoteBalance == nil {
			w.Delegate.VoteBalance = big.NewInt(0)
		}
		if w.Delegate.ForgedFees == nil {
			w.Delegate.ForgedFees = big.NewInt(0)
		}
		if w.Delegate.ForgedRewards == nil {
			w.Delegate.ForgedRewards = big.NewInt(0)
		}
	}
}

func (s *Store) validate(before, after *types.Wallet) error {
	if after.Balance.Sign() < 0 {
		return fmt.Errorf("%w: wallet %s balance would be %s", coreerrors.ErrInsufficientBalance, after.Address, after.Balance)
	}
	if after.Htlc.LockedBalance.Sign() < 0 {
		return fmt.Errorf("%w: wallet %s locked balance would be %s", coreerrors.ErrIndexInconsistency, after.Address, after.Htlc.LockedBalance)
	}
	locked := new(big.Int)
	for id, lock := range after.Htlc.Locks {
		if lock == nil || lock.Amount == nil || lock.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: lock %s on %s has no amount", coreerrors.ErrIndexInconsistency, id, after.Address)
		}
		locked.Add(locked, lock.Amount)
		if owner, ok := s.byLock[id]; ok && owner != after.Address {
			return fmt.Errorf("%w: lock %s already held by %s", coreerrors.ErrIndexInconsistency, id, owner)
		}
	}
	if locked.Cmp(after.Htlc.LockedBalance) != 0 {
		return fmt.Errorf("%w: wallet %s locked balance %s does not match locks %s", coreerrors.ErrIndexInconsistency, after.Address, after.Htlc.LockedBalance, locked)
	}

	var beforeKey []byte
	if before != nil {
		beforeKey = before.PublicKey
	}
	if len(after.PublicKey) > 0 && !bytes.Equal(beforeKey, after.PublicKey) {
		derived, err := s.AddressOf(after.PublicKey)
		if err != nil {
			return fmt.Errorf("%w: wallet %s public key: %v", coreerrors.ErrIndexInconsistency, after.Address, err)
		}
		if derived != after.Address {
			return fmt.Errorf("%w: public key of %s derives %s", coreerrors.ErrIndexInconsistency, after.Address, derived)
		}
	}

	if after.Delegate != nil {
		if len(after.PublicKey) == 0 {
			return fmt.Errorf("%w: delegate %s has no public key", coreerrors.ErrIndexInconsistency, after.Address)
		}
		if owner, ok := s.byUsername[after.Delegate.Username]; ok && owner != after.Address {
			return fmt.Errorf("%w: username %q already held by %s", coreerrors.ErrIndexInconsistency, after.Delegate.Username, owner)
		}
	} else if before != nil && before.Delegate != nil {
		if n := len(s.voters[before.PublicKeyHex()]); n > 0 {
			return fmt.Errorf("%w: delegate %s removed with %d voters", coreerrors.ErrIndexInconsistency, after.Address, n)
		}
	}

	if after.Vote != "" && (before == nil || before.Vote != after.Vote) {
		if after.Vote == after.PublicKeyHex() {
			if after.Delegate == nil {
				return fmt.Errorf("%w: wallet %s votes for itself without being a delegate", coreerrors.ErrIndexInconsistency, after.Address)
			}
		} else if !s.IsDelegate(after.Vote) {
			return fmt.Errorf("%w: wallet %s votes for unknown delegate %s", coreerrors.ErrIndexInconsistency, after.Address, after.Vote)
		}
	}
	return nil
}

// voteBalanceUpdates computes the delegate wallets whose vote balance
// changes when before is replaced by after. The draft itself is adjusted in
// place when the wallet votes for itself.
func (s *Store) voteBalanceUpdates(before, after *types.Wallet) ([]*types.Wallet, error) {
	if after.Delegate != nil {
		carried := big.NewInt(0)
		if before != nil && before.Delegate != nil {
			carried.Set(before.Delegate.VoteBalance)
		}
		after.Delegate.VoteBalance = carried
	}

	touched := map[string]*types.Wallet{}
	var order []string
	delegateWallet := func(publicKeyHex string) (*types.Wallet, error) {
		if publicKeyHex == after.PublicKeyHex() && after.Delegate != nil {
			return after, nil
		}
		address, ok := s.byPublicKey[publicKeyHex]
		if !ok {
			return nil, fmt.Errorf("%w: no wallet for delegate %s", coreerrors.ErrIndexInconsistency, publicKeyHex)
		}
		if w, ok := touched[address]; ok {
			return w, nil
		}
		stored := s.wallets[address]
		if stored == nil || stored.Delegate == nil {
			return nil, fmt.Errorf("%w: wallet %s is not a delegate", coreerrors.ErrIndexInconsistency, address)
		}
		w := stored.Clone()
		touched[address] = w
		order = append(order, address)
		return w, nil
	}

	if before != nil && before.Vote != "" {
		d, err := delegateWallet(before.Vote)
		if err != nil {
			return nil, err
		}
		d.Delegate.VoteBalance.Sub(d.Delegate.VoteBalance, before.Weight())
	}
	if after.Vote != "" {
		d, err := delegateWallet(after.Vote)
		if err != nil {
			return nil, err
		}
		d.Delegate.VoteBalance.Add(d.Delegate.VoteBalance, after.Weight())
	}

	if after.Delegate != nil && after.Delegate.VoteBalance.Sign() < 0 {
		return nil, fmt.Errorf("%w: delegate %s vote balance would be negative", coreerrors.ErrIndexInconsistency, after.Address)
	}
	out := make([]*types.Wallet, 0, len(order))
	for _, address := range order {
		w := touched[address]
		if w.Delegate.VoteBalance.Sign() < 0 {
			return nil, fmt.Errorf("%w: delegate %s vote balance would be negative", coreerrors.ErrIndexInconsistency, address)
		}
		out = append(out, w)
	}
	return out, nil
}
