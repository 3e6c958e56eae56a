package round

import (
	"testing"

	"dposchain/core/milestones"
)

func fixed(delegates uint32) *milestones.Schedule {
	return milestones.MustNew(milestones.Update{Height: 1, ActiveDelegates: milestones.Uint32(delegates), BlockTime: milestones.Uint32(8)})
}

func changing() *milestones.Schedule {
	return milestones.MustNew(
		milestones.Update{Height: 1, ActiveDelegates: milestones.Uint32(2), BlockTime: milestones.Uint32(8)},
		milestones.Update{Height: 3, ActiveDelegates: milestones.Uint32(3)},
		milestones.Update{Height: 6, ActiveDelegates: milestones.Uint32(1)},
		milestones.Update{Height: 10, ActiveDelegates: milestones.Uint32(51)},
	)
}

func TestIsNewRoundFixedDelegates(t *testing.T) {
	s := fixed(51)
	for _, h := range []uint64{1, 52, 103, 154} {
		if !IsNewRound(h, s) {
			t.Fatalf("height %d should open a round", h)
		}
	}
	for _, h := range []uint64{2, 51, 155} {
		if IsNewRound(h, s) {
			t.Fatalf("height %d should not open a round", h)
		}
	}
}

func TestIsNewRoundChangingDelegates(t *testing.T) {
	s := changing()
	for _, h := range []uint64{1, 3, 6, 7, 8, 9, 10, 61} {
		if !IsNewRound(h, s) {
			t.Fatalf("height %d should open a round", h)
		}
	}
	for _, h := range []uint64{2, 4, 5, 11, 60} {
		if IsNewRound(h, s) {
			t.Fatalf("height %d should not open a round", h)
		}
	}
}

func TestCalculateFixedDelegates(t *testing.T) {
	s := fixed(51)
	cases := []struct {
		height uint64
		want   Info
	}{
		{height: 1, want: Info{Round: 1, NextRound: 1, RoundHeight: 1, MaxDelegates: 51}},
		{height: 50, want: Info{Round: 1, NextRound: 1, RoundHeight: 1, MaxDelegates: 51}},
		{height: 51, want: Info{Round: 1, NextRound: 2, RoundHeight: 1, MaxDelegates: 51}},
		{height: 52, want: Info{Round: 2, NextRound: 2, RoundHeight: 52, MaxDelegates: 51}},
		{height: 103, want: Info{Round: 3, NextRound: 3, RoundHeight: 103, MaxDelegates: 51}},
	}
	for _, tc := range cases {
		if got := Calculate(tc.height, s); got != tc.want {
			t.Fatalf("height %d: got %+v, want %+v", tc.height, got, tc.want)
		}
	}
}

func TestCalculateChangingDelegates(t *testing.T) {
	s := changing()
	cases := []struct {
		height uint64
		want   Info
	}{
		{height: 1, want: Info{Round: 1, NextRound: 1, RoundHeight: 1, MaxDelegates: 2}},
		{height: 2, want: Info{Round: 1, NextRound: 2, RoundHeight: 1, MaxDelegates: 2}},
		{height: 3, want: Info{Round: 2, NextRound: 2, RoundHeight: 3, MaxDelegates: 3}},
		{height: 5, want: Info{Round: 2, NextRound: 3, RoundHeight: 3, MaxDelegates: 3}},
		{height: 6, want: Info{Round: 3, NextRound: 4, RoundHeight: 6, MaxDelegates: 1}},
		{height: 9, want: Info{Round: 6, NextRound: 7, RoundHeight: 9, MaxDelegates: 1}},
		{height: 10, want: Info{Round: 7, NextRound: 7, RoundHeight: 10, MaxDelegates: 51}},
		{height: 61, want: Info{Round: 8, NextRound: 8, RoundHeight: 61, MaxDelegates: 51}},
	}
	for _, tc := range cases {
		if got := Calculate(tc.height, s); got != tc.want {
			t.Fatalf("height %d: got %+v, want %+v", tc.height, got, tc.want)
		}
	}
}

func TestCalculateAgreesWithIsNewRound(t *testing.T) {
	s := changing()
	for h := uint64(1); h <= 300; h++ {
		info := Calculate(h, s)
		if IsNewRound(h, s) != (info.RoundHeight == h) {
			t.Fatalf("height %d: IsNewRound disagrees with round height %d", h, info.RoundHeight)
		}
		if IsLastOfRound(h, s) != (info.NextRound == info.Round+1) {
			t.Fatalf("height %d: IsLastOfRound disagrees with %+v", h, info)
		}
		if h == 1 {
			continue
		}
		want := Calculate(h-1, s).Round
		if IsNewRound(h, s) {
			want++
		}
		if info.Round != want {
			t.Fatalf("height %d: round %d, want %d", h, info.Round, want)
		}
	}
}
