// Package forging maps chain time onto forging slots and delegates.
//
// Slots are counted from the network epoch. Within a stretch of constant
// block time the slot number is a plain division; at a milestone that
// changes the block time the count is re-anchored on the timestamp of the
// last block forged under the old block time, read through a
// TimestampLookup.
package forging

import (
	"fmt"

	"dposchain/core/milestones"
)

// TimestampLookup returns the timestamp of the stored block at height.
type TimestampLookup func(height uint64) (int64, error)

// SlotInfo describes the slot containing a timestamp.
type SlotInfo struct {
	StartTime int64
	EndTime   int64
	BlockTime uint32
	Slot      int64
	// ForgingStatus is true during the first half of the slot.
	ForgingStatus bool
}

// Info describes who forges at a given chain time.
type Info struct {
	CurrentForger  int
	NextForger     int
	BlockTimestamp int64
	// CanForge is true from the slot start until half the block time has
	// passed.
	CanForge bool
}

// Calculator answers slot and forger queries for one milestone schedule.
type Calculator struct {
	schedule *milestones.Schedule
	lookup   TimestampLookup
}

// NewCalculator builds a calculator. lookup may be nil when the schedule
// never changes block time or delegate count.
func NewCalculator(schedule *milestones.Schedule, lookup TimestampLookup) *Calculator {
	return &Calculator{schedule: schedule, lookup: lookup}
}

type anchor struct {
	blockTime   int64
	totalSlots  int64
	lastSpanEnd int64
}

// anchorAt folds every block time change at or below height into the slot
// count. The lookup is only consulted when such a change exists.
func (c *Calculator) anchorAt(height uint64) (anchor, error) {
	a := anchor{blockTime: int64(c.schedule.At(1).BlockTime)}
	previous := uint64(1)
	for {
		next, ok := c.schedule.NextWithNewBlockTime(previous)
		if !ok || height < next.Height {
			return a, nil
		}
		spanStart, err := c.timestamp(previous)
		if err != nil {
			return anchor{}, err
		}
		lastInSpan, err := c.timestamp(next.Height - 1)
		if err != nil {
			return anchor{}, err
		}
		a.lastSpanEnd = lastInSpan + a.blockTime
		a.totalSlots += floorDiv(a.lastSpanEnd-spanStart, a.blockTime)
		a.blockTime = int64(next.BlockTime)
		previous = next.Height
	}
}

func (c *Calculator) timestamp(height uint64) (int64, error) {
	if c.lookup == nil {
		return 0, fmt.Errorf("forging: no timestamp lookup for height %d", height)
	}
	ts, err := c.lookup(height)
	if err != nil {
		return 0, fmt.Errorf("forging: timestamp of block %d: %w", height, err)
	}
	return ts, nil
}

// SlotInfo returns the slot containing timestamp as seen at height.
func (c *Calculator) SlotInfo(timestamp int64, height uint64) (SlotInfo, error) {
	a, err := c.anchorAt(height)
	if err != nil {
		return SlotInfo{}, err
	}
	sinceAnchor := floorDiv(timestamp-a.lastSpanEnd, a.blockTime)
	start := a.lastSpanEnd + sinceAnchor*a.blockTime
	return SlotInfo{
		StartTime:     start,
		EndTime:       start + a.blockTime - 1,
		BlockTime:     uint32(a.blockTime),
		Slot:          a.totalSlots + sinceAnchor,
		ForgingStatus: timestamp < start+a.blockTime/2,
	}, nil
}

// SlotNumber returns the slot index containing timestamp.
func (c *Calculator) SlotNumber(timestamp int64, height uint64) (int64, error) {
	info, err := c.SlotInfo(timestamp, height)
	if err != nil {
		return 0, err
	}
	return info.Slot, nil
}

// SlotTime returns the start timestamp of slot as seen at height.
func (c *Calculator) SlotTime(slot int64, height uint64) (int64, error) {
	a, err := c.anchorAt(height)
	if err != nil {
		return 0, err
	}
	return a.lastSpanEnd + (slot-a.totalSlots)*a.blockTime, nil
}

// ForgingInfo returns the forger rotation at timestamp for the block that
// would be forged at height. Forger indexes refer to positions in the active
// delegate list of the round.
func (c *Calculator) ForgingInfo(timestamp int64, height uint64) (Info, error) {
	slot, err := c.SlotInfo(timestamp, height)
	if err != nil {
		return Info{}, err
	}
	active := int64(c.schedule.At(height).ActiveDelegates)

	var lastSpanSlot int64
	for _, m := range c.schedule.DelegateChangesUpTo(height) {
		end, err := c.timestamp(m.Height - 1)
		if err != nil {
			return Info{}, err
		}
		last, err := c.SlotInfo(end, m.Height-1)
		if err != nil {
			return Info{}, err
		}
		lastSpanSlot = last.Slot + 1
	}

	current := floorMod(slot.Slot-lastSpanSlot, active)
	return Info{
		CurrentForger:  int(current),
		NextForger:     int((current + 1) % active),
		BlockTimestamp: slot.StartTime,
		CanForge:       timestamp >= slot.StartTime && timestamp < slot.StartTime+int64(slot.BlockTime)/2,
	}, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
