package mempool

import (
	"crypto/sha256"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "dposchain/core/errors"
	"dposchain/core/handlers"
	"dposchain/core/milestones"
	"dposchain/core/state"
	"dposchain/core/types"
	"dposchain/crypto"
	"dposchain/native/htlc"
)

type fakeLedger struct {
	t        *testing.T
	store    *state.Store
	registry *handlers.Registry
	tip      types.BlockRef
	txs      map[string]*types.Transaction
}

func (l *fakeLedger) LastBlock() types.BlockRef { return l.tip }

func (l *fakeLedger) FindByID(id string) (*types.Transaction, bool, error) {
	tx, ok := l.txs[id]
	return tx, ok, nil
}

func (l *fakeLedger) Clone() *state.Store              { return l.store.Fork() }
func (l *fakeLedger) ForkHandlers() *handlers.Registry { return l.registry }
func (l *fakeLedger) NextHeight() uint64               { return l.tip.Height + 1 }

// confirm applies tx to the confirmed store, as a block would.
func (l *fakeLedger) confirm(tx *types.Transaction) {
	l.t.Helper()
	h, err := l.registry.For(tx.Type())
	require.NoError(l.t, err)
	sender, err := l.store.GetByPublicKey(tx.SenderPublicKey)
	require.NoError(l.t, err)
	require.NoError(l.t, h.CheckApply(tx, sender, l.store))
	require.NoError(l.t, h.Apply(tx, l.store))
	l.txs[tx.ID] = tx
	l.tip.Height++
}

type user struct {
	key     *crypto.PrivateKey
	pub     []byte
	pubHex  string
	address string
}

func newLedger(t *testing.T) *fakeLedger {
	t.Helper()
	l := &fakeLedger{
		t:     t,
		store: state.NewStore(crypto.DefaultPrefix),
		tip:   types.BlockRef{Height: 5, Timestamp: 40},
		txs:   map[string]*types.Transaction{},
	}
	deps := handlers.Deps{
		ChainTime:    l,
		Transactions: l,
		Verifier:     handlers.ECDSAVerifier{},
		Hasher:       crypto.SecretHasher{},
		Milestones: milestones.MustNew(milestones.Update{
			Height:          1,
			ActiveDelegates: milestones.Uint32(3),
			BlockTime:       milestones.Uint32(8),
			AIP11:           milestones.Bool(true),
			HTLCEnabled:     milestones.Bool(true),
		}),
	}
	registry, err := handlers.NewRegistry(htlc.Handlers(handlers.CoreSet(deps), deps, htlc.Config{}))
	require.NoError(t, err)
	l.registry = registry
	return l
}

func (l *fakeLedger) user(balance int64) user {
	l.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(l.t, err)
	pub := key.PubKey().Compressed()
	address, err := l.store.AddressOf(pub)
	require.NoError(l.t, err)
	require.NoError(l.t, l.store.Mutate(address, func(w *types.Wallet) error {
		w.PublicKey = pub
		w.Balance.SetInt64(balance)
		return nil
	}))
	return user{key: key, pub: pub, pubHex: key.PubKey().Hex(), address: address}
}

func signed(t *testing.T, from user, nonce uint64, fee int64, tx *types.Transaction) *types.Transaction {
	t.Helper()
	tx.Nonce = nonce
	tx.Fee = big.NewInt(fee)
	require.NoError(t, tx.Sign(from.key))
	return tx
}

func transfer(t *testing.T, from, to user, nonce uint64, fee int64) *types.Transaction {
	return signed(t, from, nonce, fee, &types.Transaction{
		Amount:      big.NewInt(10),
		RecipientID: to.address,
		Asset:       types.Transfer{},
	})
}

func TestPoolAdmitsChainedNonces(t *testing.T) {
	l := newLedger(t)
	alice, bob := l.user(1000), l.user(1000)
	pool := New(l, Config{})

	require.NoError(t, pool.Add(transfer(t, alice, bob, 1, 1)))
	require.NoError(t, pool.Add(transfer(t, alice, bob, 2, 1)))
	require.ErrorIs(t, pool.Add(transfer(t, alice, bob, 4, 1)), coreerrors.ErrInvalidNonce)
	require.Equal(t, 2, pool.Len())

	// Confirmed state is untouched by admission.
	require.Equal(t, uint64(0), l.store.Get(alice.address).Nonce)
}

func TestPoolRejectsDuplicates(t *testing.T) {
	l := newLedger(t)
	alice, bob, d := l.user(1000), l.user(1000), l.user(1000)
	require.NoError(t, l.store.Mutate(d.address, func(w *types.Wallet) error {
		w.Delegate = &types.DelegateAttributes{Username: "d"}
		return nil
	}))
	pool := New(l, Config{})

	tx := transfer(t, alice, bob, 1, 1)
	require.NoError(t, pool.Add(tx))
	require.True(t, pool.Has(tx.ID))
	require.ErrorIs(t, pool.Add(tx), coreerrors.ErrDuplicateInPool)

	vote := func(nonce uint64) *types.Transaction {
		return signed(t, bob, nonce, 1, &types.Transaction{Asset: types.Vote{Votes: []string{"+" + d.pubHex}}})
	}
	require.NoError(t, pool.Add(vote(1)))
	require.ErrorIs(t, pool.Add(vote(2)), coreerrors.ErrDuplicateInPool)
}

func TestPoolRejectsSecondSettlementOfLock(t *testing.T) {
	l := newLedger(t)
	alice, bob, carol := l.user(1000), l.user(1000), l.user(1000)

	secret := []byte("pool-secret")
	hash := sha256.Sum256(secret)
	lock := signed(t, alice, 1, 1, &types.Transaction{
		Amount:      big.NewInt(100),
		RecipientID: bob.address,
		Asset: types.HtlcLock{
			SecretHash: hash[:],
			HashType:   crypto.HashSHA256,
			Expiration: types.Expiration{Type: types.BlockHeight, Value: 50},
		},
	})
	l.confirm(lock)

	pool := New(l, Config{})
	claim := func(from user) *types.Transaction {
		return signed(t, from, 1, 1, &types.Transaction{
			Asset: types.HtlcClaim{LockTransactionID: lock.ID, UnlockSecret: secret},
		})
	}
	require.NoError(t, pool.Add(claim(bob)))
	require.ErrorIs(t, pool.Add(claim(carol)), coreerrors.ErrDuplicateInPool)
}

func TestPoolCapacityAndRateLimit(t *testing.T) {
	l := newLedger(t)
	alice, bob, carol := l.user(1000), l.user(1000), l.user(1000)

	full := New(l, Config{MaxSize: 1})
	require.NoError(t, full.Add(transfer(t, alice, bob, 1, 1)))
	require.ErrorIs(t, full.Add(transfer(t, bob, alice, 1, 1)), coreerrors.ErrPoolFull)

	now := time.Unix(1700000000, 0)
	limited := New(l, Config{RatePerSecond: 0.001, Burst: 2, Now: func() time.Time { return now }})
	require.NoError(t, limited.Add(transfer(t, alice, bob, 1, 1)))
	require.NoError(t, limited.Add(transfer(t, alice, bob, 2, 1)))
	require.ErrorIs(t, limited.Add(transfer(t, alice, bob, 3, 1)), coreerrors.ErrRateLimited)
	require.NoError(t, limited.Add(transfer(t, carol, bob, 1, 1)))

	now = now.Add(time.Hour)
	require.NoError(t, limited.Add(transfer(t, alice, bob, 3, 1)))
}

func TestPoolSelectOrdersByFee(t *testing.T) {
	l := newLedger(t)
	alice, bob, carol := l.user(1000), l.user(1000), l.user(1000)
	pool := New(l, Config{})

	a1 := transfer(t, alice, carol, 1, 1)
	a2 := transfer(t, alice, carol, 2, 10)
	b1 := transfer(t, bob, carol, 1, 5)
	for _, tx := range []*types.Transaction{a1, a2, b1} {
		require.NoError(t, pool.Add(tx))
	}

	require.Equal(t, []*types.Transaction{b1, a1, a2}, pool.Select(0))
	require.Equal(t, []*types.Transaction{b1, a1}, pool.Select(2))
}

func TestPoolSyncDropsConfirmed(t *testing.T) {
	l := newLedger(t)
	alice, bob := l.user(1000), l.user(1000)
	pool := New(l, Config{})

	a1 := transfer(t, alice, bob, 1, 1)
	a2 := transfer(t, alice, bob, 2, 1)
	require.NoError(t, pool.Add(a1))
	require.NoError(t, pool.Add(a2))

	l.confirm(a1)
	require.Equal(t, 1, pool.Sync())
	require.Equal(t, []*types.Transaction{a2}, pool.Pending())
	require.False(t, pool.Has(a1.ID))
}

func TestOrderKeepsNonceOrderPerSender(t *testing.T) {
	l := newLedger(t)
	alice, bob := l.user(1000), l.user(1000)

	a1 := transfer(t, alice, bob, 1, 1)
	a2 := transfer(t, alice, bob, 2, 50)
	a3 := transfer(t, alice, bob, 3, 2)

	require.Equal(t, []*types.Transaction{a1, a2, a3}, Order([]*types.Transaction{a3, a1, a2}, 0))
	require.Empty(t, Order(nil, 5))
}
