// Package trie computes Merkle Patricia commitments over ledger state using
// go-ethereum's stack trie.
package trie

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	gethtrie "github.com/ethereum/go-ethereum/trie"
)

// EmptyRoot is the root of a trie with no leaves.
var EmptyRoot = gethtypes.EmptyRootHash

// Leaf is one key/value pair of the committed set. Keys are hashed with
// Keccak256 before insertion so the trie stays balanced.
type Leaf struct {
	Key   []byte
	Value []byte
}

// Root returns the trie root committing to leaves. The result does not depend
// on the order of leaves; duplicate keys are rejected.
func Root(leaves []Leaf) (common.Hash, error) {
	if len(leaves) == 0 {
		return EmptyRoot, nil
	}
	hashed := make([]Leaf, len(leaves))
	for i, leaf := range leaves {
		if len(leaf.Value) == 0 {
			return common.Hash{}, fmt.Errorf("trie: empty value for key %x", leaf.Key)
		}
		hashed[i] = Leaf{Key: crypto.Keccak256(leaf.Key), Value: leaf.Value}
	}
	sort.Slice(hashed, func(i, j int) bool {
		return bytes.Compare(hashed[i].Key, hashed[j].Key) < 0
	})
	st := gethtrie.NewStackTrie(nil)
	for i, leaf := range hashed {
		if i > 0 && bytes.Equal(hashed[i-1].Key, leaf.Key) {
			return common.Hash{}, fmt.Errorf("trie: duplicate key %x", leaf.Key)
		}
		if err := st.Update(leaf.Key, leaf.Value); err != nil {
			return common.Hash{}, fmt.Errorf("trie: update: %w", err)
		}
	}
	return st.Hash(), nil
}
