package genesis

import (
	"encoding/hex"
	"fmt"
	"strings"

	"dposchain/core/state"
	"dposchain/core/types"
)

// Build seeds a fresh wallet store from spec and returns it with the
// genesis block. Delegates are registered before accounts are funded, and
// votes are cast last so every vote target already exists.
func Build(spec *Spec) (*state.Store, *types.Block, error) {
	if spec == nil {
		return nil, nil, fmt.Errorf("genesis spec must not be nil")
	}
	if spec.GenesisTimestamp().IsZero() {
		if err := spec.validate(); err != nil {
			return nil, nil, err
		}
	}
	store := state.NewStore(spec.Prefix())

	delegateKeys := make(map[string]string, len(spec.Delegates))
	delegateAddresses := make([]string, len(spec.Delegates))
	for i := range spec.Delegates {
		d := spec.Delegates[i]
		pub, err := decodePublicKey(d.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("delegate %q: %w", d.Username, err)
		}
		balance, err := parseAmount(d.Balance)
		if err != nil {
			return nil, nil, fmt.Errorf("delegate %q: %w", d.Username, err)
		}
		address, err := store.AddressOf(pub)
		if err != nil {
			return nil, nil, fmt.Errorf("delegate %q: %w", d.Username, err)
		}
		username := strings.TrimSpace(d.Username)
		err = store.Mutate(address, func(w *types.Wallet) error {
			w.PublicKey = pub
			w.Balance.Set(balance)
			w.Delegate = &types.DelegateAttributes{Username: username}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("register delegate %q: %w", username, err)
		}
		delegateKeys[username] = hex.EncodeToString(pub)
		delegateAddresses[i] = address
	}

	accountAddresses := make([]string, len(spec.Accounts))
	for i := range spec.Accounts {
		a := spec.Accounts[i]
		address, pub, err := a.resolve(spec.Prefix())
		if err != nil {
			return nil, nil, fmt.Errorf("account[%d]: %w", i, err)
		}
		balance, err := parseAmount(a.Balance)
		if err != nil {
			return nil, nil, fmt.Errorf("account %s: %w", address, err)
		}
		err = store.Mutate(address, func(w *types.Wallet) error {
			if len(pub) > 0 {
				w.PublicKey = pub
			}
			w.Balance.Set(balance)
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("fund account %s: %w", address, err)
		}
		accountAddresses[i] = address
	}

	vote := func(address, username string) error {
		if username == "" {
			return nil
		}
		key, ok := delegateKeys[strings.TrimSpace(username)]
		if !ok {
			return fmt.Errorf("wallet %s votes for unknown delegate %q", address, username)
		}
		return store.Mutate(address, func(w *types.Wallet) error {
			w.Vote = key
			return nil
		})
	}
	for i, d := range spec.Delegates {
		if err := vote(delegateAddresses[i], d.Vote); err != nil {
			return nil, nil, err
		}
	}
	for i, a := range spec.Accounts {
		if err := vote(accountAddresses[i], a.Vote); err != nil {
			return nil, nil, err
		}
	}

	block := &types.Block{Height: 1, Timestamp: 0}
	return store, block, nil
}
