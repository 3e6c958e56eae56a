package events

import (
	"math/big"
	"strconv"
	"strings"

	"dposchain/core/types"
)

const (
	TypeBlockApplied  = "block.applied"
	TypeBlockReverted = "block.reverted"
	TypeRoundStarted  = "round.started"
)

type BlockApplied struct {
	Height       uint64
	Timestamp    int64
	Generator    string
	Transactions int
	Reward       *big.Int
	Fees         *big.Int
}

func (BlockApplied) EventType() string { return TypeBlockApplied }

func (e BlockApplied) Event() *types.Event {
	return &types.Event{
		Type: TypeBlockApplied,
		Attributes: map[string]string{
			"height":       uintToString(e.Height),
			"timestamp":    intToString(e.Timestamp),
			"generator":    e.Generator,
			"transactions": strconv.Itoa(e.Transactions),
			"reward":       formatAmount(e.Reward),
			"fees":         formatAmount(e.Fees),
		},
	}
}

type BlockReverted struct {
	Height    uint64
	Generator string
}

func (BlockReverted) EventType() string { return TypeBlockReverted }

func (e BlockReverted) Event() *types.Event {
	return &types.Event{
		Type: TypeBlockReverted,
		Attributes: map[string]string{
			"height":    uintToString(e.Height),
			"generator": e.Generator,
		},
	}
}

// RoundStarted carries the forging order of a new round.
type RoundStarted struct {
	Round     uint64
	Height    uint64
	Delegates []string
}

func (RoundStarted) EventType() string { return TypeRoundStarted }

func (e RoundStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeRoundStarted,
		Attributes: map[string]string{
			"round":     uintToString(e.Round),
			"height":    uintToString(e.Height),
			"delegates": strings.Join(e.Delegates, ","),
		},
	}
}
