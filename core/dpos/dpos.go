// Package dpos ranks delegates by vote balance and derives the forging order
// of a round.
package dpos

import (
	"crypto/sha256"
	"math/big"
	"sort"
	"strconv"

	"dposchain/core/round"
	"dposchain/core/state"
	"dposchain/core/types"
)

// Candidate is one ranked, unresigned delegate.
type Candidate struct {
	PublicKey   string
	Address     string
	Username    string
	VoteBalance *big.Int
	Rank        uint32
}

// Snapshot is the delegate selection made at a round boundary.
type Snapshot struct {
	Round  uint64
	Height uint64
	// Ranking holds every unresigned delegate, best first.
	Ranking []Candidate
	// Active holds the public keys of the round's forgers in forging order.
	Active []string
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Round:   s.Round,
		Height:  s.Height,
		Ranking: make([]Candidate, len(s.Ranking)),
		Active:  append([]string(nil), s.Active...),
	}
	for i, c := range s.Ranking {
		c.VoteBalance = new(big.Int).Set(c.VoteBalance)
		out.Ranking[i] = c
	}
	return out
}

// Rank orders every unresigned delegate by vote balance, highest first,
// breaking ties by public key.
func Rank(store *state.Store) []Candidate {
	delegates := store.AllDelegates()
	out := make([]Candidate, 0, len(delegates))
	for _, w := range delegates {
		if w.Delegate.Resigned {
			continue
		}
		out = append(out, Candidate{
			PublicKey:   w.PublicKeyHex(),
			Address:     w.Address,
			Username:    w.Delegate.Username,
			VoteBalance: new(big.Int).Set(w.Delegate.VoteBalance),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].VoteBalance.Cmp(out[j].VoteBalance); c != 0 {
			return c > 0
		}
		return out[i].PublicKey < out[j].PublicKey
	})
	for i := range out {
		out[i].Rank = uint32(i + 1)
	}
	return out
}

// Shuffle returns the forging order of active for roundNumber. The order is
// derived from a SHA-256 chain seeded with the decimal round number, so every
// node computes the same order.
func Shuffle(active []string, roundNumber uint64) []string {
	out := append([]string(nil), active...)
	n := len(out)
	if n == 0 {
		return out
	}
	seed := sha256.Sum256([]byte(strconv.FormatUint(roundNumber, 10)))
	for i := 0; i < n; i++ {
		for x := 0; x < 4 && i < n; i, x = i+1, x+1 {
			j := int(seed[x]) % n
			out[i], out[j] = out[j], out[i]
		}
		seed = sha256.Sum256(seed[:])
	}
	return out
}

// Select ranks the delegates of store and picks the forgers of the round
// described by info. Fewer candidates than info.MaxDelegates yields a short
// active list.
func Select(store *state.Store, info round.Info) Snapshot {
	ranking := Rank(store)
	count := int(info.MaxDelegates)
	if count > len(ranking) {
		count = len(ranking)
	}
	active := make([]string, 0, count)
	for _, c := range ranking[:count] {
		active = append(active, c.PublicKey)
	}
	return Snapshot{
		Round:   info.Round,
		Height:  info.RoundHeight,
		Ranking: ranking,
		Active:  Shuffle(active, info.Round),
	}
}

// Undo holds the delegate rank and round values a Record overwrote.
type Undo struct {
	ranks  map[string]uint32
	rounds map[string]uint64
}

// Record writes the rank of every delegate and the round of every active
// delegate in snap back to store. Delegates missing from the ranking get
// rank 0. The returned Undo restores the previous values.
func Record(store *state.Store, snap Snapshot) (Undo, error) {
	undo := Undo{ranks: map[string]uint32{}, rounds: map[string]uint64{}}
	ranks := make(map[string]uint32, len(snap.Ranking))
	for _, c := range snap.Ranking {
		ranks[c.Address] = c.Rank
	}
	active := make(map[string]struct{}, len(snap.Active))
	for _, key := range snap.Active {
		active[key] = struct{}{}
	}
	for _, d := range store.AllDelegates() {
		rank := ranks[d.Address]
		_, isActive := active[d.PublicKeyHex()]
		if d.Delegate.Rank == rank && (!isActive || d.Delegate.Round == snap.Round) {
			continue
		}
		undo.ranks[d.Address] = d.Delegate.Rank
		undo.rounds[d.Address] = d.Delegate.Round
		err := store.Mutate(d.Address, func(w *types.Wallet) error {
			w.Delegate.Rank = rank
			if isActive {
				w.Delegate.Round = snap.Round
			}
			return nil
		})
		if err != nil {
			return undo, err
		}
	}
	return undo, nil
}

// Apply restores the values captured by Record. Wallets that are no longer
// delegates are skipped.
func (u Undo) Apply(store *state.Store) error {
	for address, rank := range u.ranks {
		if !store.Get(address).IsDelegate() {
			continue
		}
		roundNumber := u.rounds[address]
		err := store.Mutate(address, func(w *types.Wallet) error {
			w.Delegate.Rank = rank
			w.Delegate.Round = roundNumber
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
