// Package htlc implements hashed time-locked transfers: a Lock escrows funds
// on its creator's wallet until either the secret behind its hash is revealed
// (Claim, funds go to the lock recipient) or its expiration passes (Refund,
// funds return to the creator).
package htlc

import (
	"dposchain/core/milestones"
	"dposchain/core/types"
)

// Expired reports whether exp has passed at ref. Claim requires false,
// Refund requires true, so exactly one of them is admissible for an open
// lock at any chain reference.
func Expired(exp types.Expiration, ref types.BlockRef) bool {
	switch exp.Type {
	case types.EpochTimestamp:
		return ref.Timestamp >= 0 && uint64(ref.Timestamp) >= exp.Value
	case types.BlockHeight:
		return ref.Height >= exp.Value
	default:
		return false
	}
}

// Config tunes lock admission.
type Config struct {
	// MinimumLockRounds is how many rounds past the last block an expiration
	// must lie. Zero only requires the expiration to be in the future.
	MinimumLockRounds uint64
}

// earliestReference shifts ref forward by the minimum lock duration. A lock
// is acceptable when it has not expired at the shifted reference.
func (c Config) earliestReference(ref types.BlockRef, schedule *milestones.Schedule) types.BlockRef {
	if c.MinimumLockRounds == 0 || schedule == nil {
		return ref
	}
	m := schedule.At(ref.Height + 1)
	heights := c.MinimumLockRounds * uint64(m.ActiveDelegates)
	return types.BlockRef{
		Height:    ref.Height + heights,
		Timestamp: ref.Timestamp + int64(heights)*int64(m.BlockTime),
	}
}
