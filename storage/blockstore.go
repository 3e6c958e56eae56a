package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"dposchain/core/types"
)

var (
	blockPrefix = []byte("block:")
	txPrefix    = []byte("tx:")
	tipKey      = []byte("tip")
)

type txLocation struct {
	Height uint64
	Index  uint32
}

// BlockStore persists blocks and indexes their transactions by id. It backs
// the ledger's chain time, transaction lookup and anchor timestamp lookup.
type BlockStore struct {
	db Database

	mu  sync.RWMutex
	tip types.BlockRef
	// timestamps caches block timestamps by height.
	timestamps map[uint64]int64
}

// NewBlockStore opens a block store on db and loads its tip.
func NewBlockStore(db Database) (*BlockStore, error) {
	s := &BlockStore{db: db, timestamps: make(map[uint64]int64)}
	raw, err := db.Get(tipKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load tip: %w", err)
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("load tip: malformed value")
	}
	block, err := s.Block(binary.BigEndian.Uint64(raw))
	if err != nil {
		return nil, fmt.Errorf("load tip block: %w", err)
	}
	s.tip = block.Ref()
	return s, nil
}

func blockKey(height uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], height)
	return key
}

func txKey(id string) []byte {
	return append(append([]byte(nil), txPrefix...), id...)
}

// LastBlock returns the reference of the stored tip. An empty store returns
// the zero reference.
func (s *BlockStore) LastBlock() types.BlockRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip
}

// Height returns the tip height.
func (s *BlockStore) Height() uint64 {
	return s.LastBlock().Height
}

// SaveBlock appends b on top of the tip.
func (s *BlockStore) SaveBlock(b *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Height != s.tip.Height+1 {
		return fmt.Errorf("save block %d on tip %d", b.Height, s.tip.Height)
	}
	encoded, err := types.EncodeBlock(b)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Put(blockKey(b.Height), encoded)
	for i, tx := range b.Transactions {
		loc, err := rlp.EncodeToBytes(&txLocation{Height: b.Height, Index: uint32(i)})
		if err != nil {
			return err
		}
		batch.Put(txKey(tx.ID), loc)
	}
	tip := make([]byte, 8)
	binary.BigEndian.PutUint64(tip, b.Height)
	batch.Put(tipKey, tip)
	if err := batch.Write(); err != nil {
		return err
	}
	s.tip = b.Ref()
	s.timestamps[b.Height] = b.Timestamp
	return nil
}

// DeleteTip removes the tip block and returns it.
func (s *BlockStore) DeleteTip() (*types.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tip.Height == 0 {
		return nil, fmt.Errorf("delete tip: store is empty")
	}
	block, err := s.block(s.tip.Height)
	if err != nil {
		return nil, err
	}
	batch := s.db.NewBatch()
	batch.Delete(blockKey(block.Height))
	for _, tx := range block.Transactions {
		batch.Delete(txKey(tx.ID))
	}
	prev := types.BlockRef{}
	if block.Height > 1 {
		parent, err := s.block(block.Height - 1)
		if err != nil {
			return nil, err
		}
		prev = parent.Ref()
		tip := make([]byte, 8)
		binary.BigEndian.PutUint64(tip, prev.Height)
		batch.Put(tipKey, tip)
	} else {
		batch.Delete(tipKey)
	}
	if err := batch.Write(); err != nil {
		return nil, err
	}
	delete(s.timestamps, block.Height)
	s.tip = prev
	return block, nil
}

// Block loads the block at height.
func (s *BlockStore) Block(height uint64) (*types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.block(height)
}

func (s *BlockStore) block(height uint64) (*types.Block, error) {
	raw, err := s.db.Get(blockKey(height))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", height, err)
	}
	return types.DecodeBlock(raw)
}

// FindByID returns the confirmed transaction with id.
func (s *BlockStore) FindByID(id string) (*types.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(txKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var loc txLocation
	if err := rlp.DecodeBytes(raw, &loc); err != nil {
		return nil, false, fmt.Errorf("transaction %s location: %w", id, err)
	}
	block, err := s.block(loc.Height)
	if err != nil {
		return nil, false, err
	}
	if int(loc.Index) >= len(block.Transactions) {
		return nil, false, fmt.Errorf("transaction %s: index %d out of range", id, loc.Index)
	}
	return block.Transactions[loc.Index], true, nil
}

// Timestamp returns the timestamp of the block at height.
func (s *BlockStore) Timestamp(height uint64) (int64, error) {
	s.mu.RLock()
	ts, ok := s.timestamps[height]
	s.mu.RUnlock()
	if ok {
		return ts, nil
	}
	block, err := s.Block(height)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.timestamps[height] = block.Timestamp
	s.mu.Unlock()
	return block.Timestamp, nil
}
