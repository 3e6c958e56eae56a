package htlc

import (
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/handlers"
	"dposchain/core/milestones"
	"dposchain/core/state"
	"dposchain/core/types"
	"dposchain/crypto"
)

type chainClock struct {
	ref types.BlockRef
}

func (c *chainClock) LastBlock() types.BlockRef { return c.ref }

type txIndex map[string]*types.Transaction

func (idx txIndex) FindByID(id string) (*types.Transaction, bool, error) {
	tx, ok := idx[id]
	return tx, ok, nil
}

type pendingSet []*types.Transaction

func (p pendingSet) AnyPending(match func(*types.Transaction) bool) bool {
	for _, tx := range p {
		if match(tx) {
			return true
		}
	}
	return false
}

type party struct {
	key     *crypto.PrivateKey
	pub     []byte
	address string
}

type harness struct {
	t        *testing.T
	store    *state.Store
	clock    *chainClock
	txs      txIndex
	recorder *events.Recorder
	registry *handlers.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	schedule := milestones.MustNew(milestones.Update{
		Height:          1,
		ActiveDelegates: milestones.Uint32(4),
		BlockTime:       milestones.Uint32(8),
		AIP11:           milestones.Bool(true),
		HTLCEnabled:     milestones.Bool(true),
	})
	h := &harness{
		t:        t,
		store:    state.NewStore(crypto.DefaultPrefix),
		clock:    &chainClock{ref: types.BlockRef{Height: 10, Timestamp: 1000}},
		txs:      txIndex{},
		recorder: &events.Recorder{},
	}
	deps := handlers.Deps{
		ChainTime:    h.clock,
		Transactions: h.txs,
		Verifier:     handlers.ECDSAVerifier{},
		Hasher:       crypto.SecretHasher{},
		Milestones:   schedule,
		Emitter:      h.recorder,
	}
	registry, err := handlers.NewRegistry(Handlers(handlers.CoreSet(deps), deps, Config{}))
	require.NoError(t, err)
	h.registry = registry
	return h
}

func (h *harness) party(balance int64) party {
	h.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(h.t, err)
	pub := key.PubKey().Compressed()
	address, err := h.store.AddressOf(pub)
	require.NoError(h.t, err)
	require.NoError(h.t, h.store.Mutate(address, func(w *types.Wallet) error {
		w.PublicKey = pub
		w.Balance.SetInt64(balance)
		return nil
	}))
	return party{key: key, pub: pub, address: address}
}

func (h *harness) sign(from party, tx *types.Transaction) *types.Transaction {
	h.t.Helper()
	tx.Nonce = h.store.Get(from.address).Nonce + 1
	require.NoError(h.t, tx.Sign(from.key))
	return tx
}

func (h *harness) check(tx *types.Transaction) error {
	handler, err := h.registry.For(tx.Type())
	require.NoError(h.t, err)
	sender, err := h.store.GetByPublicKey(tx.SenderPublicKey)
	require.NoError(h.t, err)
	return handler.CheckApply(tx, sender, h.store)
}

func (h *harness) apply(tx *types.Transaction) {
	h.t.Helper()
	require.NoError(h.t, h.check(tx))
	handler, err := h.registry.For(tx.Type())
	require.NoError(h.t, err)
	require.NoError(h.t, handler.Apply(tx, h.store))
	h.txs[tx.ID] = tx
	require.NoError(h.t, h.store.VerifyVoteBalances())
}

func (h *harness) revert(tx *types.Transaction) {
	h.t.Helper()
	handler, err := h.registry.For(tx.Type())
	require.NoError(h.t, err)
	require.NoError(h.t, handler.Revert(tx, h.store))
	require.NoError(h.t, h.store.VerifyVoteBalances())
}

func (h *harness) balance(p party) string {
	return h.store.Get(p.address).Balance.String()
}

func (h *harness) locked(p party) string {
	return h.store.Get(p.address).Htlc.LockedBalance.String()
}

func lockTx(recipient party, amount int64, secret []byte, exp types.Expiration) *types.Transaction {
	hash := sha256.Sum256(secret)
	return &types.Transaction{
		Fee:         big.NewInt(10),
		Amount:      big.NewInt(amount),
		RecipientID: recipient.address,
		Asset: types.HtlcLock{
			SecretHash: hash[:],
			HashType:   crypto.HashSHA256,
			Expiration: exp,
		},
	}
}

func claimTx(lockID string, secret []byte) *types.Transaction {
	return &types.Transaction{Fee: big.NewInt(5), Asset: types.HtlcClaim{LockTransactionID: lockID, UnlockSecret: secret}}
}

func refundTx(lockID string) *types.Transaction {
	return &types.Transaction{Fee: big.NewInt(3), Asset: types.HtlcRefund{LockTransactionID: lockID}}
}

func TestClaimWithEpochExpiration(t *testing.T) {
	h := newHarness(t)
	creator := h.party(10_000)
	recipient := h.party(0)
	secret := []byte("my secret that should be 32 byte")

	lock := h.sign(creator, lockTx(recipient, 500, secret, types.Expiration{Type: types.EpochTimestamp, Value: 1000 + 99}))
	h.apply(lock)
	require.Equal(t, "9490", h.balance(creator))
	require.Equal(t, "500", h.locked(creator))
	opened := h.store.Get(creator.address).Htlc.Locks[lock.ID].Clone()

	// The recipient pays the claim fee itself.
	require.NoError(t, h.store.Mutate(recipient.address, func(w *types.Wallet) error {
		w.Balance.SetInt64(5)
		return nil
	}))
	claim := h.sign(recipient, claimTx(lock.ID, secret))
	h.apply(claim)
	require.Equal(t, "500", h.balance(recipient))
	require.Equal(t, "0", h.locked(creator))
	require.Empty(t, h.store.Get(creator.address).Htlc.Locks)
	_, ok := h.store.FindByLockID(lock.ID)
	require.False(t, ok)
	require.Len(t, h.recorder.OfType(events.TypeHtlcClaimed), 1)

	h.revert(claim)
	restored := h.store.Get(creator.address).Htlc.Locks[lock.ID]
	require.True(t, opened.Equal(restored))
	require.Equal(t, "500", h.locked(creator))
	require.Equal(t, "5", h.balance(recipient))
	holder, ok := h.store.FindByLockID(lock.ID)
	require.True(t, ok)
	require.Equal(t, creator.address, holder.Address)
}

func TestClaimByThirdPartyPaysRecipient(t *testing.T) {
	h := newHarness(t)
	creator := h.party(1_000)
	recipient := h.party(0)
	relayer := h.party(100)
	secret := []byte("relayed secret")

	lock := h.sign(creator, lockTx(recipient, 300, secret, types.Expiration{Type: types.BlockHeight, Value: 50}))
	h.apply(lock)
	claim := h.sign(relayer, claimTx(lock.ID, secret))
	h.apply(claim)

	require.Equal(t, "300", h.balance(recipient))
	require.Equal(t, "95", h.balance(relayer))
	require.Equal(t, "690", h.balance(creator))
}

func TestClaimRejections(t *testing.T) {
	h := newHarness(t)
	creator := h.party(1_000)
	recipient := h.party(100)
	secret := []byte("right")

	lock := h.sign(creator, lockTx(recipient, 300, secret, types.Expiration{Type: types.BlockHeight, Value: 20}))
	h.apply(lock)

	err := h.check(h.sign(recipient, claimTx(lock.ID, []byte("wrong"))))
	require.ErrorIs(t, err, coreerrors.ErrSecretMismatch)

	err = h.check(h.sign(recipient, claimTx(lockTxID(0xaa), secret)))
	require.ErrorIs(t, err, coreerrors.ErrLockNotFound)

	h.clock.ref.Height = 20
	err = h.check(h.sign(recipient, claimTx(lock.ID, secret)))
	require.ErrorIs(t, err, coreerrors.ErrLockExpired)
}

func TestRefundOfExpiredLock(t *testing.T) {
	h := newHarness(t)
	creator := h.party(1_000)
	recipient := h.party(100)
	secret := []byte("refund me")

	h.clock.ref.Timestamp = 999
	lock := h.sign(creator, lockTx(recipient, 400, secret, types.Expiration{Type: types.EpochTimestamp, Value: 1000}))
	h.apply(lock)
	require.Equal(t, "590", h.balance(creator))

	err := h.check(h.sign(creator, refundTx(lock.ID)))
	require.ErrorIs(t, err, coreerrors.ErrLockNotExpired)

	h.clock.ref.Timestamp = 1000
	err = h.check(h.sign(recipient, claimTx(lock.ID, secret)))
	require.ErrorIs(t, err, coreerrors.ErrLockExpired)

	refund := h.sign(creator, refundTx(lock.ID))
	h.apply(refund)
	require.Equal(t, "987", h.balance(creator))
	require.Equal(t, "0", h.locked(creator))

	err = h.check(h.sign(recipient, claimTx(lock.ID, secret)))
	require.ErrorIs(t, err, coreerrors.ErrLockNotFound)
	err = h.check(h.sign(creator, refundTx(lock.ID)))
	require.ErrorIs(t, err, coreerrors.ErrLockNotFound)

	h.revert(refund)
	require.Equal(t, "590", h.balance(creator))
	require.Equal(t, "400", h.locked(creator))
	require.Len(t, h.recorder.OfType(events.TypeHtlcRefunded), 1)
}

func TestClaimAndRefundAreExclusive(t *testing.T) {
	h := newHarness(t)
	creator := h.party(1_000)
	recipient := h.party(100)
	secret := []byte("boundary")

	lock := h.sign(creator, lockTx(recipient, 100, secret, types.Expiration{Type: types.BlockHeight, Value: 20}))
	h.apply(lock)

	for height := uint64(10); height <= 30; height++ {
		h.clock.ref.Height = height
		claimErr := h.check(h.sign(recipient, claimTx(lock.ID, secret)))
		refundErr := h.check(h.sign(creator, refundTx(lock.ID)))
		require.Truef(t, (claimErr == nil) != (refundErr == nil), "height %d: claim %v, refund %v", height, claimErr, refundErr)
		require.Equalf(t, height >= 20, refundErr == nil, "height %d", height)
	}
}

func TestLockRejectsPastExpiration(t *testing.T) {
	h := newHarness(t)
	creator := h.party(1_000)
	recipient := h.party(0)

	err := h.check(h.sign(creator, lockTx(recipient, 100, []byte("s"), types.Expiration{Type: types.BlockHeight, Value: 10})))
	require.ErrorIs(t, err, coreerrors.ErrLockExpired)
	err = h.check(h.sign(creator, lockTx(recipient, 100, []byte("s"), types.Expiration{Type: types.EpochTimestamp, Value: 1000})))
	require.ErrorIs(t, err, coreerrors.ErrLockExpired)
	err = h.check(h.sign(creator, lockTx(recipient, 100, []byte("s"), types.Expiration{Type: types.BlockHeight, Value: 11})))
	require.NoError(t, err)
	err = h.check(h.sign(creator, lockTx(recipient, 10_000, []byte("s"), types.Expiration{Type: types.BlockHeight, Value: 11})))
	require.ErrorIs(t, err, coreerrors.ErrInsufficientBalance)
}

func TestMinimumLockRounds(t *testing.T) {
	cfg := Config{MinimumLockRounds: 2}
	schedule := milestones.MustNew(milestones.Update{Height: 1, ActiveDelegates: milestones.Uint32(4), BlockTime: milestones.Uint32(8)})
	ref := types.BlockRef{Height: 10, Timestamp: 1000}

	earliest := cfg.earliestReference(ref, schedule)
	require.Equal(t, types.BlockRef{Height: 18, Timestamp: 1064}, earliest)
	require.True(t, Expired(types.Expiration{Type: types.BlockHeight, Value: 18}, earliest))
	require.False(t, Expired(types.Expiration{Type: types.BlockHeight, Value: 19}, earliest))
	require.False(t, Expired(types.Expiration{Type: types.EpochTimestamp, Value: 1065}, earliest))
}

func TestLockVoteWeightIsPreserved(t *testing.T) {
	h := newHarness(t)
	delegate := h.party(0)
	require.NoError(t, h.store.Mutate(delegate.address, func(w *types.Wallet) error {
		w.Delegate = &types.DelegateAttributes{Username: "d"}
		return nil
	}))
	creator := h.party(1_000)
	recipient := h.party(0)
	require.NoError(t, h.store.Mutate(creator.address, func(w *types.Wallet) error {
		w.Vote = h.store.Get(delegate.address).PublicKeyHex()
		return nil
	}))
	voteBalance := func() string { return h.store.Get(delegate.address).Delegate.VoteBalance.String() }
	require.Equal(t, "1000", voteBalance())

	lock := h.sign(creator, lockTx(recipient, 400, []byte("w"), types.Expiration{Type: types.BlockHeight, Value: 50}))
	h.apply(lock)
	require.Equal(t, "990", voteBalance())

	claim := h.sign(creator, claimTx(lock.ID, []byte("w")))
	h.apply(claim)
	require.Equal(t, "585", voteBalance())

	h.revert(claim)
	require.Equal(t, "990", voteBalance())
	h.revert(lock)
	require.Equal(t, "1000", voteBalance())
}

func TestApplyRevertRestoresWallets(t *testing.T) {
	h := newHarness(t)
	creator := h.party(1_000)
	recipient := h.party(50)
	secret := []byte("round trip")

	lock := h.sign(creator, lockTx(recipient, 200, secret, types.Expiration{Type: types.BlockHeight, Value: 15}))
	snapshot := func() []*types.Wallet { return h.store.Wallets() }

	before := snapshot()
	h.apply(lock)
	h.revert(lock)
	requireWallets(t, before, snapshot())

	h.apply(lock)
	claim := h.sign(recipient, claimTx(lock.ID, secret))
	before = snapshot()
	h.apply(claim)
	h.revert(claim)
	requireWallets(t, before, snapshot())

	h.clock.ref.Height = 15
	refund := h.sign(recipient, refundTx(lock.ID))
	before = snapshot()
	h.apply(refund)
	require.Equal(t, "990", h.balance(creator))
	h.revert(refund)
	requireWallets(t, before, snapshot())
}

func TestPoolRejectsSecondSettlement(t *testing.T) {
	h := newHarness(t)
	creator := h.party(1_000)
	recipient := h.party(50)
	lock := h.sign(creator, lockTx(recipient, 200, []byte("p"), types.Expiration{Type: types.BlockHeight, Value: 15}))
	h.apply(lock)

	claim := h.sign(recipient, claimTx(lock.ID, []byte("p")))
	handler, err := h.registry.For(types.TxTypeHtlcClaim)
	require.NoError(t, err)
	require.NoError(t, handler.CheckPool(claim, h.store, pendingSet{}))

	refund := h.sign(creator, refundTx(lock.ID))
	refundHandler, err := h.registry.For(types.TxTypeHtlcRefund)
	require.NoError(t, err)
	err = refundHandler.CheckPool(refund, h.store, pendingSet{claim})
	require.True(t, errors.Is(err, coreerrors.ErrDuplicateInPool))

	err = handler.CheckPool(h.sign(recipient, claimTx(lockTxID(0xbb), nil)), h.store, pendingSet{})
	require.ErrorIs(t, err, coreerrors.ErrLockNotFound)
}

func TestHtlcNeedsActivation(t *testing.T) {
	schedule := milestones.MustNew(
		milestones.Update{Height: 1, ActiveDelegates: milestones.Uint32(4), BlockTime: milestones.Uint32(8)},
		milestones.Update{Height: 5, AIP11: milestones.Bool(true)},
		milestones.Update{Height: 9, HTLCEnabled: milestones.Bool(true)},
	)
	handler := NewLockHandler(handlers.Deps{Milestones: schedule}, Config{})
	require.False(t, handler.Activated(4))
	require.False(t, handler.Activated(8))
	require.True(t, handler.Activated(9))
}

func requireWallets(t *testing.T, want, got []*types.Wallet) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Truef(t, want[i].Equal(got[i]), "wallet %s differs", want[i].Address)
	}
}

func lockTxID(fill byte) string {
	id := make([]byte, 64)
	for i := range id {
		id[i] = "0123456789abcdef"[fill%16]
	}
	return string(id)
}

func TestLockRejectsTakenLockID(t *testing.T) {
	h := newHarness(t)
	creator := h.party(10_000)
	other := h.party(10_000)
	recipient := h.party(0)
	exp := types.Expiration{Type: types.BlockHeight, Value: 50}

	first := h.sign(creator, lockTx(recipient, 100, []byte("first"), exp))
	h.apply(first)

	// A correctly signed lock carrying the id of the open lock.
	forged := h.sign(other, lockTx(recipient, 200, []byte("second"), exp))
	forged.ID = first.ID
	require.ErrorIs(t, h.check(forged), coreerrors.ErrInvalidTransaction)
	require.Equal(t, "10000", h.balance(other))

	// A lock whose own id is already held by another wallet.
	second := h.sign(other, lockTx(recipient, 200, []byte("second"), exp))
	require.NoError(t, h.store.Mutate(creator.address, func(w *types.Wallet) error {
		w.Htlc.Locks[second.ID] = LockFromTransaction(second)
		w.Htlc.LockedBalance.Add(w.Htlc.LockedBalance, big.NewInt(200))
		return nil
	}))
	require.ErrorIs(t, h.check(second), coreerrors.ErrInvalidTransaction)
	holder, ok := h.store.FindByLockID(first.ID)
	require.True(t, ok)
	require.Equal(t, creator.address, holder.Address)
}
