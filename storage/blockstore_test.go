package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"dposchain/core/types"
	"dposchain/crypto"
)

func signedTransfer(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	recipient := key.PubKey().Address(crypto.DefaultPrefix).String()
	tx := &types.Transaction{
		Nonce:       nonce,
		Fee:         big.NewInt(1),
		Amount:      big.NewInt(10),
		RecipientID: recipient,
		Asset:       types.Transfer{},
	}
	require.NoError(t, tx.Sign(key))
	return tx
}

func testBlock(t *testing.T, height uint64, ts int64, txs ...*types.Transaction) *types.Block {
	t.Helper()
	return &types.Block{
		Height:       height,
		Timestamp:    ts,
		Reward:       big.NewInt(2),
		Transactions: txs,
	}
}

func TestBlockStoreSaveAndLookup(t *testing.T) {
	store, err := NewBlockStore(NewMemDB())
	require.NoError(t, err)
	require.Equal(t, types.BlockRef{}, store.LastBlock())

	tx := signedTransfer(t, 1)
	require.NoError(t, store.SaveBlock(testBlock(t, 1, 0)))
	require.NoError(t, store.SaveBlock(testBlock(t, 2, 8, tx)))

	require.Equal(t, types.BlockRef{Height: 2, Timestamp: 8}, store.LastBlock())

	found, ok, err := store.FindByID(tx.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tx.ID, found.ID)
	require.Equal(t, "10", found.Amount.String())

	_, ok, err = store.FindByID("missing")
	require.NoError(t, err)
	require.False(t, ok)

	ts, err := store.Timestamp(2)
	require.NoError(t, err)
	require.Equal(t, int64(8), ts)

	_, err = store.Timestamp(3)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBlockStoreRejectsGaps(t *testing.T) {
	store, err := NewBlockStore(NewMemDB())
	require.NoError(t, err)
	require.Error(t, store.SaveBlock(testBlock(t, 2, 8)))
}

func TestBlockStoreDeleteTip(t *testing.T) {
	store, err := NewBlockStore(NewMemDB())
	require.NoError(t, err)
	tx := signedTransfer(t, 1)
	require.NoError(t, store.SaveBlock(testBlock(t, 1, 0)))
	require.NoError(t, store.SaveBlock(testBlock(t, 2, 8, tx)))

	removed, err := store.DeleteTip()
	require.NoError(t, err)
	require.Equal(t, uint64(2), removed.Height)
	require.Equal(t, types.BlockRef{Height: 1, Timestamp: 0}, store.LastBlock())

	_, ok, err := store.FindByID(tx.ID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.DeleteTip()
	require.NoError(t, err)
	require.Equal(t, types.BlockRef{}, store.LastBlock())
	_, err = store.DeleteTip()
	require.Error(t, err)
}

func TestBlockStorePersistsTip(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	store, err := NewBlockStore(db1)
	require.NoError(t, err)
	tx := signedTransfer(t, 1)
	require.NoError(t, store.SaveBlock(testBlock(t, 1, 0)))
	require.NoError(t, store.SaveBlock(testBlock(t, 2, 8, tx)))
	db1.Close()

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()
	reopened, err := NewBlockStore(db2)
	require.NoError(t, err)
	require.Equal(t, types.BlockRef{Height: 2, Timestamp: 8}, reopened.LastBlock())

	found, ok, err := reopened.FindByID(tx.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tx.ID, found.ID)
}

func TestMemDBBatch(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("a"), []byte("1")))

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Delete([]byte("a"))

	_, err := db.Get([]byte("b"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, batch.Write())
	got, err := db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
}
