// Package round maps block heights onto delegate rounds.
package round

import (
	"dposchain/core/milestones"
)

// Info describes the round a height belongs to.
type Info struct {
	Round        uint64
	NextRound    uint64
	RoundHeight  uint64
	MaxDelegates uint32
}

// Calculate returns the round containing height. Rounds restart at every
// milestone that changes the active delegate count.
func Calculate(height uint64, schedule *milestones.Schedule) Info {
	if height == 0 {
		height = 1
	}
	info := Info{Round: 1, RoundHeight: 1}
	active := uint64(schedule.At(1).ActiveDelegates)
	spanStart := uint64(1)

	for _, m := range schedule.DelegateChangesUpTo(height) {
		span := m.Height - spanStart
		info.Round += span / active
		info.RoundHeight = m.Height
		active = uint64(m.ActiveDelegates)
		spanStart = m.Height
	}

	sinceSpan := height - spanStart
	info.Round += sinceSpan / active
	info.RoundHeight += (sinceSpan / active) * active
	info.NextRound = info.Round
	if (sinceSpan+1)%active == 0 {
		info.NextRound++
	}
	info.MaxDelegates = uint32(active)
	return info
}

// IsNewRound reports whether height is the first height of its round.
func IsNewRound(height uint64, schedule *milestones.Schedule) bool {
	if height <= 1 {
		return true
	}
	start := uint64(1)
	for _, m := range schedule.DelegateChangesUpTo(height) {
		start = m.Height
	}
	active := uint64(schedule.At(height).ActiveDelegates)
	return (height-start)%active == 0
}

// IsLastOfRound reports whether height closes its round.
func IsLastOfRound(height uint64, schedule *milestones.Schedule) bool {
	return IsNewRound(height+1, schedule)
}
