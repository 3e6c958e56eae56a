package state

import (
	"github.com/ethereum/go-ethereum/common"

	"dposchain/core/types"
	"dposchain/storage/trie"
)

// Root commits to every stored wallet. Two stores with equal wallets have
// equal roots, which makes it a cheap check that a revert restored state.
func (s *Store) Root() (common.Hash, error) {
	wallets := s.Wallets()
	leaves := make([]trie.Leaf, 0, len(wallets))
	for _, w := range wallets {
		encoded, err := types.EncodeWallet(w)
		if err != nil {
			return common.Hash{}, err
		}
		leaves = append(leaves, trie.Leaf{Key: []byte(w.Address), Value: encoded})
	}
	return trie.Root(leaves)
}
