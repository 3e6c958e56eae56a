package config

import (
	"dposchain/core/milestones"
	"dposchain/crypto"
)

// Schedule resolves the [[Milestones]] records.
func (c *Config) Schedule() (*milestones.Schedule, error) {
	updates := make([]milestones.Update, 0, len(c.Milestones))
	for _, m := range c.Milestones {
		updates = append(updates, milestones.Update{
			Height:          m.Height,
			ActiveDelegates: m.ActiveDelegates,
			BlockTime:       m.BlockTime,
			Reward:          m.Reward,
			AIP11:           m.AIP11,
			HTLCEnabled:     m.HTLCEnabled,
		})
	}
	return milestones.New(updates...)
}

// Prefix returns the configured bech32 address prefix.
func (c *Config) Prefix() crypto.AddressPrefix {
	return crypto.AddressPrefix(c.AddressPrefix)
}
