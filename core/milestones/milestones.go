// Package milestones resolves consensus parameters by height. Each milestone
// record only names the parameters that change at its height; everything
// else is inherited from the previous record.
package milestones

import (
	"fmt"
	"math/big"
	"sort"
)

// Update is a raw milestone record as written in configuration. Nil fields
// inherit the value in effect at the previous milestone.
type Update struct {
	Height          uint64
	ActiveDelegates *uint32
	BlockTime       *uint32
	Reward          *uint64
	AIP11           *bool
	HTLCEnabled     *bool
}

// Milestone is the fully resolved parameter set in effect from Height on.
type Milestone struct {
	Height          uint64
	ActiveDelegates uint32
	// BlockTime is the slot length in seconds.
	BlockTime   uint32
	Reward      uint64
	AIP11       bool
	HTLCEnabled bool
}

// RewardAmount returns the block reward as a big integer.
func (m Milestone) RewardAmount() *big.Int {
	return new(big.Int).SetUint64(m.Reward)
}

// Schedule is an immutable, height-ordered list of resolved milestones.
type Schedule struct {
	milestones []Milestone
}

// New merges the raw records into a schedule. The first record must sit at
// height 1 and define ActiveDelegates and BlockTime. A change of
// ActiveDelegates must fall on a round boundary of the previous count.
func New(updates ...Update) (*Schedule, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("milestones: at least one milestone required")
	}
	sorted := append([]Update(nil), updates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Height < sorted[j].Height })
	if sorted[0].Height != 1 {
		return nil, fmt.Errorf("milestones: first milestone must be at height 1, got %d", sorted[0].Height)
	}
	if sorted[0].ActiveDelegates == nil || sorted[0].BlockTime == nil {
		return nil, fmt.Errorf("milestones: genesis milestone must define activeDelegates and blockTime")
	}

	resolved := make([]Milestone, 0, len(sorted))
	var current Milestone
	lastDelegateChange := uint64(1)
	for i, u := range sorted {
		if i > 0 && u.Height == sorted[i-1].Height {
			return nil, fmt.Errorf("milestones: duplicate milestone at height %d", u.Height)
		}
		next := current
		next.Height = u.Height
		if u.ActiveDelegates != nil {
			if *u.ActiveDelegates == 0 {
				return nil, fmt.Errorf("milestones: activeDelegates must be positive at height %d", u.Height)
			}
			next.ActiveDelegates = *u.ActiveDelegates
		}
		if u.BlockTime != nil {
			if *u.BlockTime == 0 {
				return nil, fmt.Errorf("milestones: blockTime must be positive at height %d", u.Height)
			}
			next.BlockTime = *u.BlockTime
		}
		if u.Reward != nil {
			next.Reward = *u.Reward
		}
		if u.AIP11 != nil {
			next.AIP11 = *u.AIP11
		}
		if u.HTLCEnabled != nil {
			next.HTLCEnabled = *u.HTLCEnabled
		}
		if i > 0 && next.ActiveDelegates != current.ActiveDelegates {
			span := u.Height - lastDelegateChange
			if span%uint64(current.ActiveDelegates) != 0 {
				return nil, fmt.Errorf("milestones: activeDelegates change at height %d splits a round of %d delegates starting at height %d",
					u.Height, current.ActiveDelegates, lastDelegateChange)
			}
			lastDelegateChange = u.Height
		}
		resolved = append(resolved, next)
		current = next
	}
	return &Schedule{milestones: resolved}, nil
}

// MustNew is like New but panics on error.
func MustNew(updates ...Update) *Schedule {
	s, err := New(updates...)
	if err != nil {
		panic(err)
	}
	return s
}

// At returns the milestone in effect at height. Height 0 resolves to the
// genesis milestone.
func (s *Schedule) At(height uint64) Milestone {
	idx := sort.Search(len(s.milestones), func(i int) bool { return s.milestones[i].Height > height })
	if idx == 0 {
		return s.milestones[0]
	}
	return s.milestones[idx-1]
}

// All returns a copy of the resolved milestones.
func (s *Schedule) All() []Milestone {
	return append([]Milestone(nil), s.milestones...)
}

// NextWithNewActiveDelegates returns the first milestone above previous whose
// delegate count differs from the one in effect at previous.
func (s *Schedule) NextWithNewActiveDelegates(previous uint64) (Milestone, bool) {
	base := s.At(previous).ActiveDelegates
	return s.next(previous, func(m Milestone) bool { return m.ActiveDelegates != base })
}

// NextWithNewBlockTime returns the first milestone above previous whose
// block time differs from the one in effect at previous.
func (s *Schedule) NextWithNewBlockTime(previous uint64) (Milestone, bool) {
	base := s.At(previous).BlockTime
	return s.next(previous, func(m Milestone) bool { return m.BlockTime != base })
}

func (s *Schedule) next(previous uint64, changed func(Milestone) bool) (Milestone, bool) {
	for _, m := range s.milestones {
		if m.Height > previous && changed(m) {
			return m, true
		}
	}
	return Milestone{}, false
}

// DelegateChangesUpTo returns the milestones at or below height where the
// active delegate count changes, genesis excluded.
func (s *Schedule) DelegateChangesUpTo(height uint64) []Milestone {
	var out []Milestone
	prev := uint64(1)
	for {
		m, ok := s.NextWithNewActiveDelegates(prev)
		if !ok || m.Height > height {
			return out
		}
		out = append(out, m)
		prev = m.Height
	}
}

// Uint32 returns a pointer to v, for building Update literals.
func Uint32(v uint32) *uint32 { return &v }

// Uint64 returns a pointer to v.
func Uint64(v uint64) *uint64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
