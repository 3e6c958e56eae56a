package types

import (
	"encoding/hex"
	"math/big"
)

// BlockRef identifies a point on the chain. HTLC expirations are measured
// against it.
type BlockRef struct {
	Height    uint64
	Timestamp int64
}

// Block is an ordered batch of transactions forged by one delegate.
// Timestamps are seconds since the network epoch.
type Block struct {
	Height             uint64
	Timestamp          int64
	GeneratorPublicKey []byte
	Reward             *big.Int
	Transactions       []*Transaction
}

// Ref returns the chain reference of the block.
func (b *Block) Ref() BlockRef {
	return BlockRef{Height: b.Height, Timestamp: b.Timestamp}
}

// GeneratorHex returns the generator public key as hex.
func (b *Block) GeneratorHex() string {
	return hex.EncodeToString(b.GeneratorPublicKey)
}

// TotalFee sums the fees of all transactions in the block.
func (b *Block) TotalFee() *big.Int {
	total := new(big.Int)
	for _, tx := range b.Transactions {
		total.Add(total, tx.FeeOrZero())
	}
	return total
}

// Event is the flattened form of a ledger event, as handed to emitters and
// recorded against the block that produced it.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
