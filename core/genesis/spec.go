// Package genesis loads the initial ledger state of a network and turns it
// into a seeded wallet store plus the height-1 block.
package genesis

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dposchain/crypto"
)

// Spec is the on-disk genesis description. Files ending in .yaml or .yml
// are decoded as YAML, everything else as JSON.
type Spec struct {
	GenesisTime string         `json:"genesisTime" yaml:"genesisTime"`
	Network     string         `json:"network" yaml:"network"`
	Delegates   []DelegateSpec `json:"delegates" yaml:"delegates"`
	Accounts    []AccountSpec  `json:"accounts" yaml:"accounts"`
	Exceptions  []string       `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`

	genesisTimestamp time.Time
}

// DelegateSpec registers a delegate at genesis. Vote names the username of
// the delegate it votes for, usually its own.
type DelegateSpec struct {
	PublicKey string `json:"publicKey" yaml:"publicKey"`
	Username  string `json:"username" yaml:"username"`
	Balance   string `json:"balance" yaml:"balance"`
	Vote      string `json:"vote,omitempty" yaml:"vote,omitempty"`
}

// AccountSpec funds a plain wallet. Either Address or PublicKey must be
// set; when both are, they must agree.
type AccountSpec struct {
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	PublicKey string `json:"publicKey,omitempty" yaml:"publicKey,omitempty"`
	Balance   string `json:"balance" yaml:"balance"`
	Vote      string `json:"vote,omitempty" yaml:"vote,omitempty"`
}

// LoadSpec reads and validates the genesis file at path. Unknown fields are
// rejected in both encodings.
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		err = dec.Decode(&spec)
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		err = dec.Decode(&spec)
	}
	if err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// GenesisTimestamp is the network epoch. Block timestamps count seconds
// from it.
func (s *Spec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Prefix returns the address prefix of the network, defaulting to the
// mainnet prefix.
func (s *Spec) Prefix() crypto.AddressPrefix {
	if strings.TrimSpace(s.Network) == "" {
		return crypto.DefaultPrefix
	}
	return crypto.AddressPrefix(strings.TrimSpace(s.Network))
}

func (s *Spec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts
	prefix := s.Prefix()

	usernames := make(map[string]struct{}, len(s.Delegates))
	keys := make(map[string]struct{}, len(s.Delegates)+len(s.Accounts))
	addresses := make(map[string]struct{}, len(s.Delegates)+len(s.Accounts))
	for i := range s.Delegates {
		d := &s.Delegates[i]
		pub, err := decodePublicKey(d.PublicKey)
		if err != nil {
			return fmt.Errorf("delegate[%d]: %w", i, err)
		}
		name := strings.TrimSpace(d.Username)
		if name == "" {
			return fmt.Errorf("delegate[%d]: username must be provided", i)
		}
		if _, dup := usernames[name]; dup {
			return fmt.Errorf("delegate[%d]: duplicate username %q", i, name)
		}
		usernames[name] = struct{}{}
		if _, err := parseAmount(d.Balance); err != nil {
			return fmt.Errorf("delegate[%d]: %w", i, err)
		}
		addr, err := crypto.AddressFromPublicKey(prefix, pub)
		if err != nil {
			return fmt.Errorf("delegate[%d]: %w", i, err)
		}
		hexKey := hex.EncodeToString(pub)
		if _, dup := keys[hexKey]; dup {
			return fmt.Errorf("delegate[%d]: duplicate public key %s", i, hexKey)
		}
		keys[hexKey] = struct{}{}
		addresses[addr.String()] = struct{}{}
	}

	for i := range s.Accounts {
		a := &s.Accounts[i]
		addr, _, err := a.resolve(prefix)
		if err != nil {
			return fmt.Errorf("account[%d]: %w", i, err)
		}
		if _, dup := addresses[addr]; dup {
			return fmt.Errorf("account[%d]: duplicate address %s", i, addr)
		}
		addresses[addr] = struct{}{}
		if _, err := parseAmount(a.Balance); err != nil {
			return fmt.Errorf("account[%d]: %w", i, err)
		}
		if a.Vote != "" {
			if _, ok := usernames[a.Vote]; !ok {
				return fmt.Errorf("account[%d]: vote for unknown delegate %q", i, a.Vote)
			}
		}
	}
	for i, d := range s.Delegates {
		if d.Vote == "" {
			continue
		}
		if _, ok := usernames[d.Vote]; !ok {
			return fmt.Errorf("delegate[%d]: vote for unknown delegate %q", i, d.Vote)
		}
	}
	for i, id := range s.Exceptions {
		if _, err := hex.DecodeString(strings.TrimSpace(id)); err != nil || strings.TrimSpace(id) == "" {
			return fmt.Errorf("exceptions[%d]: invalid transaction id %q", i, id)
		}
	}
	return nil
}

// resolve returns the bech32 address of the account and its public key, if
// one was given.
func (a *AccountSpec) resolve(prefix crypto.AddressPrefix) (string, []byte, error) {
	var pub []byte
	derived := ""
	if strings.TrimSpace(a.PublicKey) != "" {
		key, err := decodePublicKey(a.PublicKey)
		if err != nil {
			return "", nil, err
		}
		addr, err := crypto.AddressFromPublicKey(prefix, key)
		if err != nil {
			return "", nil, err
		}
		pub, derived = key, addr.String()
	}
	address := strings.TrimSpace(a.Address)
	switch {
	case address == "" && derived == "":
		return "", nil, fmt.Errorf("address or publicKey must be provided")
	case address == "":
		return derived, pub, nil
	}
	if err := crypto.ValidateAddress(prefix, address); err != nil {
		return "", nil, err
	}
	if derived != "" && derived != address {
		return "", nil, fmt.Errorf("publicKey derives %s, not %s", derived, address)
	}
	return address, pub, nil
}

func decodePublicKey(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("publicKey must be provided")
	}
	pub, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid publicKey: %w", err)
	}
	if len(pub) != crypto.PublicKeyLength {
		return nil, fmt.Errorf("publicKey must be %d bytes, got %d", crypto.PublicKeyLength, len(pub))
	}
	return pub, nil
}

func parseAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid balance %q", value)
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
