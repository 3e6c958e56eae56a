package events

import (
	"math/big"
	"testing"

	"dposchain/core/types"
)

func TestHtlcLockedEvent(t *testing.T) {
	evt := HtlcLocked{
		LockID:     "ab",
		Sender:     "dpos1sender",
		Recipient:  "dpos1recipient",
		Amount:     big.NewInt(500),
		HashType:   "sha256",
		Expiration: types.Expiration{Type: types.BlockHeight, Value: 42},
	}.Event()
	if evt.Type != TypeHtlcLocked {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["expirationType"] != "height" || evt.Attributes["expirationValue"] != "42" {
		t.Fatalf("unexpected expiration attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["amount"] != "500" {
		t.Fatalf("unexpected amount: %s", evt.Attributes["amount"])
	}
}

func TestVoteEventType(t *testing.T) {
	if got := (Vote{Unvote: true}).Event().Type; got != TypeUnvoteCast {
		t.Fatalf("unexpected unvote type: %s", got)
	}
	if got := (Vote{}).Event().Type; got != TypeVoteCast {
		t.Fatalf("unexpected vote type: %s", got)
	}
}

func TestRecorderFiltersByType(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(Transfer{TxID: "1", Amount: big.NewInt(1)})
	rec.Emit(RoundStarted{Round: 2, Height: 5, Delegates: []string{"a", "b"}})
	rec.Emit(Transfer{TxID: "2"})
	if len(rec.Events()) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rec.Events()))
	}
	transfers := rec.OfType(TypeTransfer)
	if len(transfers) != 2 || transfers[1].Attributes["amount"] != "0" {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}
	rounds := rec.OfType(TypeRoundStarted)
	if len(rounds) != 1 || rounds[0].Attributes["delegates"] != "a,b" {
		t.Fatalf("unexpected rounds: %+v", rounds)
	}
}
