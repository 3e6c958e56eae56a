package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "dposchain/core/errors"
	"dposchain/core/types"
	"dposchain/crypto"
)

type account struct {
	key     *crypto.PrivateKey
	pub     []byte
	pubHex  string
	address string
}

func newAccount(t *testing.T, s *Store) account {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	pub := key.PubKey().Compressed()
	address, err := s.AddressOf(pub)
	require.NoError(t, err)
	return account{key: key, pub: pub, pubHex: key.PubKey().Hex(), address: address}
}

func fund(t *testing.T, s *Store, a account, amount int64) {
	t.Helper()
	require.NoError(t, s.Mutate(a.address, func(w *types.Wallet) error {
		w.PublicKey = a.pub
		w.Balance.Add(w.Balance, big.NewInt(amount))
		return nil
	}))
}

func register(t *testing.T, s *Store, a account, username string) {
	t.Helper()
	require.NoError(t, s.Mutate(a.address, func(w *types.Wallet) error {
		w.PublicKey = a.pub
		w.Delegate = &types.DelegateAttributes{Username: username}
		return nil
	}))
}

func vote(t *testing.T, s *Store, voter account, delegate string) {
	t.Helper()
	require.NoError(t, s.Mutate(voter.address, func(w *types.Wallet) error {
		w.Vote = delegate
		return nil
	}))
}

func voteBalance(s *Store, a account) string {
	return s.Get(a.address).Delegate.VoteBalance.String()
}

func TestGetDoesNotInsert(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	a := newAccount(t, s)

	w := s.Get(a.address)
	require.Equal(t, "0", w.Balance.String())
	require.False(t, s.Has(a.address))
	require.Equal(t, 0, s.Len())

	w.Balance.SetInt64(100)
	require.Equal(t, "0", s.Get(a.address).Balance.String())
}

func TestMutateReindexes(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	d := newAccount(t, s)
	register(t, s, d, "alpha")

	got, ok := s.FindByUsername("alpha")
	require.True(t, ok)
	require.Equal(t, d.address, got.Address)
	got, ok = s.FindByPublicKey(d.pubHex)
	require.True(t, ok)
	require.Equal(t, d.address, got.Address)

	require.NoError(t, s.Mutate(d.address, func(w *types.Wallet) error {
		w.Delegate.Username = "beta"
		w.Delegate.Resigned = true
		return nil
	}))
	_, ok = s.FindByUsername("alpha")
	require.False(t, ok)
	_, ok = s.FindByUsername("beta")
	require.True(t, ok)
	_, ok, err := s.FindByIndex(IndexResignation, "beta")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Mutate(d.address, func(w *types.Wallet) error {
		w.Balance.SetInt64(10)
		w.Htlc.LockedBalance.SetInt64(10)
		w.Htlc.Locks["lock-1"] = &types.Lock{Amount: big.NewInt(10)}
		return nil
	}))
	got, ok = s.FindByLockID("lock-1")
	require.True(t, ok)
	require.Equal(t, d.address, got.Address)

	require.NoError(t, s.Mutate(d.address, func(w *types.Wallet) error {
		delete(w.Htlc.Locks, "lock-1")
		w.Htlc.LockedBalance.SetInt64(0)
		return nil
	}))
	_, ok = s.FindByLockID("lock-1")
	require.False(t, ok)

	_, _, err = s.FindByIndex(IndexName("nope"), "x")
	require.Error(t, err)
}

func TestMutateRejectsInconsistentWallets(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	a := newAccount(t, s)
	b := newAccount(t, s)
	fund(t, s, a, 100)
	register(t, s, b, "taken")

	cases := []struct {
		name string
		fn   func(w *types.Wallet) error
		want error
	}{
		{name: "negative balance", fn: func(w *types.Wallet) error { w.Balance.SetInt64(-1); return nil }, want: coreerrors.ErrInsufficientBalance},
		{name: "locked mismatch", fn: func(w *types.Wallet) error { w.Htlc.LockedBalance.SetInt64(5); return nil }, want: coreerrors.ErrIndexInconsistency},
		{name: "duplicate username", fn: func(w *types.Wallet) error {
			w.Delegate = &types.DelegateAttributes{Username: "taken"}
			return nil
		}, want: coreerrors.ErrIndexInconsistency},
		{name: "vote for non delegate", fn: func(w *types.Wallet) error { w.Vote = a.pubHex; return nil }, want: coreerrors.ErrIndexInconsistency},
		{name: "foreign public key", fn: func(w *types.Wallet) error { w.PublicKey = b.pub; return nil }, want: coreerrors.ErrIndexInconsistency},
		{name: "handler error", fn: func(w *types.Wallet) error { w.Balance.SetInt64(1); return coreerrors.ErrInvalidNonce }, want: coreerrors.ErrInvalidNonce},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := s.Get(a.address)
			err := s.Mutate(a.address, tc.fn)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.True(t, before.Equal(s.Get(a.address)))
		})
	}
}

func TestVoteBalanceFollowsVoterWeight(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	d1 := newAccount(t, s)
	d2 := newAccount(t, s)
	voter := newAccount(t, s)
	register(t, s, d1, "d1")
	register(t, s, d2, "d2")
	fund(t, s, voter, 1000)

	vote(t, s, voter, d1.pubHex)
	require.Equal(t, "1000", voteBalance(s, d1))
	require.Equal(t, 1, s.VoterCount(d1.pubHex))

	require.NoError(t, s.Mutate(voter.address, func(w *types.Wallet) error {
		w.Balance.SetInt64(600)
		w.Htlc.LockedBalance.SetInt64(300)
		w.Htlc.Locks["l"] = &types.Lock{Amount: big.NewInt(300)}
		return nil
	}))
	require.Equal(t, "900", voteBalance(s, d1))

	vote(t, s, voter, d2.pubHex)
	require.Equal(t, "0", voteBalance(s, d1))
	require.Equal(t, "900", voteBalance(s, d2))
	require.Equal(t, 0, s.VoterCount(d1.pubHex))

	vote(t, s, voter, "")
	require.Equal(t, "0", voteBalance(s, d2))
	require.NoError(t, s.VerifyVoteBalances())
}

func TestSelfVote(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	d := newAccount(t, s)
	fund(t, s, d, 50)
	register(t, s, d, "self")

	vote(t, s, d, d.pubHex)
	require.Equal(t, "50", voteBalance(s, d))

	require.NoError(t, s.Mutate(d.address, func(w *types.Wallet) error {
		w.Balance.SetInt64(20)
		return nil
	}))
	require.Equal(t, "20", voteBalance(s, d))

	err := s.Mutate(d.address, func(w *types.Wallet) error {
		w.Delegate = nil
		return nil
	})
	require.ErrorIs(t, err, coreerrors.ErrIndexInconsistency)
	require.NoError(t, s.VerifyVoteBalances())
}

func TestDelegateRemovalRequiresNoVoters(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	d := newAccount(t, s)
	voter := newAccount(t, s)
	register(t, s, d, "d")
	fund(t, s, voter, 10)
	vote(t, s, voter, d.pubHex)

	err := s.Mutate(d.address, func(w *types.Wallet) error {
		w.Delegate = nil
		return nil
	})
	require.ErrorIs(t, err, coreerrors.ErrIndexInconsistency)

	vote(t, s, voter, "")
	require.NoError(t, s.Mutate(d.address, func(w *types.Wallet) error {
		w.Delegate = nil
		return nil
	}))
	_, ok := s.FindByUsername("d")
	require.False(t, ok)
}

func TestForkIsolation(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	d := newAccount(t, s)
	voter := newAccount(t, s)
	register(t, s, d, "d")
	fund(t, s, voter, 100)
	vote(t, s, voter, d.pubHex)

	fork := s.Fork()
	require.NoError(t, fork.Mutate(voter.address, func(w *types.Wallet) error {
		w.Balance.SetInt64(40)
		return nil
	}))
	other := newAccount(t, fork)
	register(t, fork, other, "other")

	require.Equal(t, "100", s.Get(voter.address).Balance.String())
	require.Equal(t, "100", voteBalance(s, d))
	require.Equal(t, "40", voteBalance(fork, d))
	_, ok := s.FindByUsername("other")
	require.False(t, ok)
	require.Len(t, s.AllDelegates(), 1)
	require.Len(t, fork.AllDelegates(), 2)

	vote(t, s, voter, "")
	require.Equal(t, 1, fork.VoterCount(d.pubHex))
	require.NoError(t, s.VerifyVoteBalances())
	require.NoError(t, fork.VerifyVoteBalances())
}

func TestIndexReplacesWallet(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	d := newAccount(t, s)
	voter := newAccount(t, s)
	register(t, s, d, "d")

	w := types.NewWallet(voter.address)
	w.PublicKey = voter.pub
	w.Balance.SetInt64(70)
	w.Vote = d.pubHex
	require.NoError(t, s.Index(w))
	require.Equal(t, "70", voteBalance(s, d))

	w.Balance.SetInt64(30)
	require.NoError(t, s.Index(w))
	require.Equal(t, "30", voteBalance(s, d))

	replaced := s.Get(d.address)
	replaced.Delegate.VoteBalance = big.NewInt(999)
	replaced.Delegate.Rank = 1
	require.NoError(t, s.Index(replaced))
	require.Equal(t, "30", voteBalance(s, d))
	require.Equal(t, uint32(1), s.Get(d.address).Delegate.Rank)
}

func TestAllDelegatesSnapshot(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		register(t, s, newAccount(t, s), name)
	}
	snapshot := s.AllDelegates()
	require.Len(t, snapshot, 3)
	require.Equal(t, "alpha", snapshot[0].Delegate.Username)
	require.Equal(t, "charlie", snapshot[2].Delegate.Username)

	register(t, s, newAccount(t, s), "delta")
	require.Len(t, snapshot, 3)
	require.Len(t, s.AllDelegates(), 4)
}

func TestRootTracksState(t *testing.T) {
	s := NewStore(crypto.DefaultPrefix)
	empty, err := s.Root()
	require.NoError(t, err)

	a := newAccount(t, s)
	fund(t, s, a, 100)
	funded, err := s.Root()
	require.NoError(t, err)
	require.NotEqual(t, empty, funded)

	fork := s.Fork()
	forkRoot, err := fork.Root()
	require.NoError(t, err)
	require.Equal(t, funded, forkRoot)

	fund(t, fork, a, 5)
	changed, err := fork.Root()
	require.NoError(t, err)
	require.NotEqual(t, funded, changed)

	require.NoError(t, fork.Mutate(a.address, func(w *types.Wallet) error {
		w.Balance.Sub(w.Balance, big.NewInt(5))
		return nil
	}))
	restored, err := fork.Root()
	require.NoError(t, err)
	require.Equal(t, funded, restored)
}
