package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dposchain/core/dpos"
	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/handlers"
	"dposchain/core/round"
	"dposchain/core/state"
	"dposchain/core/types"
	"dposchain/observability"
)

// ApplyBlock applies b on top of the last block and stores it. A block
// whose transactions fail validation is rejected with ErrInvalidBlock and
// leaves state untouched.
func (l *Ledger) ApplyBlock(ctx context.Context, b *types.Block) (err error) {
	_, span := l.tracer.Start(ctx, "ledger.ApplyBlock", trace.WithAttributes(blockAttributes(b)...))
	defer func() { endSpan(span, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	if tip := l.chain.LastBlock(); tip != l.LastBlock() {
		return fmt.Errorf("ledger at height %d, chain at %d: restore before applying", l.LastBlock().Height, tip.Height)
	}
	if _, err := l.checkBlock(b, l.LastBlock()); err != nil {
		return err
	}
	// The block is stored first so reverts inside it can look up its
	// transactions.
	if err := l.chain.SaveBlock(b); err != nil {
		return fmt.Errorf("save block %d: %w", b.Height, err)
	}
	if err := l.applyBlock(b); err != nil {
		if coreerrors.IsFatal(err) {
			return err
		}
		if _, delErr := l.chain.DeleteTip(); delErr != nil {
			return fmt.Errorf("%w: drop rejected block %d: %w", coreerrors.ErrFatal, b.Height, delErr)
		}
		return err
	}
	return nil
}

// Restore applies every stored block above the ledger height. It is used
// to rebuild state at startup and returns the number of blocks applied.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tip := l.chain.LastBlock()
	applied := 0
	for height := l.NextHeight(); height <= tip.Height; height++ {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		b, err := l.chain.Block(height)
		if err != nil {
			return applied, err
		}
		if err := l.applyBlock(b); err != nil {
			return applied, fmt.Errorf("restore block %d: %w", height, err)
		}
		applied++
	}
	return applied, nil
}

// RevertBlock reverts the last block and removes it from the chain. It
// returns the removed block.
func (l *Ledger) RevertBlock(ctx context.Context) (b *types.Block, err error) {
	_, span := l.tracer.Start(ctx, "ledger.RevertBlock")
	defer func() { endSpan(span, err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	last := l.LastBlock()
	if last.Height == 0 {
		return nil, fmt.Errorf("%w: no block to revert", coreerrors.ErrInvalidBlock)
	}
	if tip := l.chain.LastBlock(); tip != last {
		return nil, fmt.Errorf("ledger at height %d, chain at %d", last.Height, tip.Height)
	}
	b, err = l.chain.Block(last.Height)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(blockAttributes(b)...)
	if err := l.revertBlock(b); err != nil {
		return nil, err
	}
	if _, err := l.chain.DeleteTip(); err != nil {
		return nil, fmt.Errorf("%w: delete block %d: %w", coreerrors.ErrFatal, b.Height, err)
	}
	return b, nil
}

func (l *Ledger) applyBlock(b *types.Block) (err error) {
	defer func() { l.settle(err) }()
	last := l.LastBlock()
	reward, err := l.checkBlock(b, last)
	if err != nil {
		return err
	}
	for i, tx := range b.Transactions {
		if err := l.applyTransaction(l.registry, l.store, tx, b.Height); err != nil {
			if coreerrors.IsFatal(err) {
				return err
			}
			if rbErr := l.revertTransactions(l.registry, l.store, b.Transactions[:i]); rbErr != nil {
				return rbErr
			}
			return fmt.Errorf("%w: block %d transaction %d (%s): %w", coreerrors.ErrInvalidBlock, b.Height, i, tx.ID, err)
		}
	}
	fees := b.TotalFee()
	if err := l.creditGenerator(l.store, b, reward, fees, 1); err != nil {
		return fmt.Errorf("%w: credit generator of block %d: %w", coreerrors.ErrFatal, b.Height, err)
	}

	ref := b.Ref()
	l.last.Store(&ref)
	observability.Ledger().RecordBlock("apply", b.Height)
	l.pending.Emit(events.BlockApplied{
		Height:       b.Height,
		Timestamp:    b.Timestamp,
		Generator:    b.GeneratorHex(),
		Transactions: len(b.Transactions),
		Reward:       reward,
		Fees:         fees,
	})

	if next := b.Height + 1; l.IsNewRound(next) {
		if err := l.startRound(l.store, next); err != nil {
			return err
		}
	}
	return nil
}

// checkBlock validates the block header against the last block and returns
// the reward the generator is owed.
func (l *Ledger) checkBlock(b *types.Block, last types.BlockRef) (*big.Int, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil block", coreerrors.ErrInvalidBlock)
	}
	if b.Height != last.Height+1 {
		return nil, fmt.Errorf("%w: height %d does not follow %d", coreerrors.ErrInvalidBlock, b.Height, last.Height)
	}
	if b.Height > 1 && b.Timestamp <= last.Timestamp {
		return nil, fmt.Errorf("%w: timestamp %d not after parent %d", coreerrors.ErrInvalidBlock, b.Timestamp, last.Timestamp)
	}
	reward := big.NewInt(0)
	if len(b.GeneratorPublicKey) == 0 {
		if b.Height != 1 {
			return nil, fmt.Errorf("%w: block %d has no generator", coreerrors.ErrInvalidBlock, b.Height)
		}
	} else {
		if !l.store.IsDelegate(b.GeneratorHex()) {
			return nil, fmt.Errorf("%w: generator %s is not a delegate", coreerrors.ErrInvalidBlock, b.GeneratorHex())
		}
		reward = l.schedule.At(b.Height).RewardAmount()
	}
	if b.Reward != nil && b.Reward.Cmp(reward) != 0 {
		return nil, fmt.Errorf("%w: reward %s, want %s", coreerrors.ErrInvalidBlock, b.Reward, reward)
	}
	return reward, nil
}

// creditGenerator pays reward and fees to the block generator; sign -1
// takes them back.
func (l *Ledger) creditGenerator(store *state.Store, b *types.Block, reward, fees *big.Int, sign int) error {
	if len(b.GeneratorPublicKey) == 0 {
		return nil
	}
	address, err := store.AddressOf(b.GeneratorPublicKey)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(reward, fees)
	return store.Mutate(address, func(w *types.Wallet) error {
		if sign < 0 {
			w.Balance.Sub(w.Balance, total)
		} else {
			w.Balance.Add(w.Balance, total)
		}
		d := w.Delegate
		if d == nil {
			return nil
		}
		if sign < 0 {
			d.ProducedBlocks--
			d.ForgedFees.Sub(d.ForgedFees, fees)
			d.ForgedRewards.Sub(d.ForgedRewards, reward)
		} else {
			d.ProducedBlocks++
			d.ForgedFees.Add(d.ForgedFees, fees)
			d.ForgedRewards.Add(d.ForgedRewards, reward)
		}
		return nil
	})
}

func (l *Ledger) revertBlock(b *types.Block) (err error) {
	defer func() { l.settle(err) }()
	if err := l.revertBlockOn(l.registry, l.store, b, true); err != nil {
		return err
	}
	parent := types.BlockRef{}
	if b.Height > 1 {
		ts, err := l.chain.Timestamp(b.Height - 1)
		if err != nil {
			return fmt.Errorf("%w: parent of block %d: %w", coreerrors.ErrFatal, b.Height, err)
		}
		parent = types.BlockRef{Height: b.Height - 1, Timestamp: ts}
	}
	l.last.Store(&parent)
	observability.Ledger().RecordBlock("revert", parent.Height)
	l.pending.Emit(events.BlockReverted{Height: b.Height, Generator: b.GeneratorHex()})
	return nil
}

// revertBlockOn undoes b on store: the round selected after b, the
// generator credit, then the transactions in reverse order. live drops the
// round record once undone.
func (l *Ledger) revertBlockOn(registry *handlers.Registry, store *state.Store, b *types.Block, live bool) error {
	next := b.Height + 1
	if l.IsNewRound(next) {
		info := l.CalculateRound(next)
		if rec, ok := l.rounds[info.Round]; ok && rec.snapshot.Height == next {
			if err := rec.undo.Apply(store); err != nil {
				return fmt.Errorf("%w: undo round %d: %w", coreerrors.ErrFatal, info.Round, err)
			}
			if live {
				delete(l.rounds, info.Round)
			}
		}
	}
	reward := big.NewInt(0)
	if len(b.GeneratorPublicKey) > 0 {
		reward = l.schedule.At(b.Height).RewardAmount()
	}
	if err := l.creditGenerator(store, b, reward, b.TotalFee(), -1); err != nil {
		return fmt.Errorf("%w: debit generator of block %d: %w", coreerrors.ErrFatal, b.Height, err)
	}
	return l.revertTransactions(registry, store, b.Transactions)
}

// startRound selects the delegates of the round opening at height.
func (l *Ledger) startRound(store *state.Store, height uint64) error {
	info := l.CalculateRound(height)
	snap := dpos.Select(store, info)
	undo, err := dpos.Record(store, snap)
	if err != nil {
		if undoErr := undo.Apply(store); undoErr != nil {
			return fmt.Errorf("%w: record round %d: %v (undo failed: %w)", coreerrors.ErrFatal, info.Round, err, undoErr)
		}
		return fmt.Errorf("%w: record round %d: %w", coreerrors.ErrFatal, info.Round, err)
	}
	l.rounds[info.Round] = roundRecord{snapshot: snap, undo: undo}

	if len(snap.Active) < int(info.MaxDelegates) {
		l.logger.Warn("Round has fewer delegates than forging slots",
			slog.Uint64("round", info.Round),
			slog.Int("delegates", len(snap.Active)),
			slog.Uint64("slots", uint64(info.MaxDelegates)))
	}
	l.logger.Info("Starting round",
		slog.Uint64("round", info.Round),
		slog.Uint64("height", info.RoundHeight),
		slog.Int("delegates", len(snap.Active)))
	observability.Ledger().RecordRound(len(snap.Active))
	l.pending.Emit(events.RoundStarted{Round: info.Round, Height: info.RoundHeight, Delegates: snap.Active})
	return nil
}

// DelegatesForRound returns the forging order selected for roundNumber.
func (l *Ledger) DelegatesForRound(roundNumber uint64) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.rounds[roundNumber]
	if !ok {
		return nil, fmt.Errorf("round %d has not been selected", roundNumber)
	}
	return append([]string(nil), rec.snapshot.Active...), nil
}

// ActiveDelegates returns the forging order of the round the next block
// belongs to.
func (l *Ledger) ActiveDelegates() ([]string, error) {
	return l.DelegatesForRound(l.CalculateRound(l.NextHeight()).Round)
}

// RecomputeDelegates rebuilds the selection of a past round on a fork of the
// live store by reverting every block of and after that round. Live state is
// not touched.
func (l *Ledger) RecomputeDelegates(ctx context.Context, roundNumber uint64) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.rounds[roundNumber]
	if !ok {
		return nil, fmt.Errorf("round %d has not been selected", roundNumber)
	}
	start := rec.snapshot.Height
	fork := l.store.Fork()
	for height := l.LastBlock().Height; height >= start && height > 0; height-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := l.chain.Block(height)
		if err != nil {
			return nil, err
		}
		if err := l.revertBlockOn(l.silent, fork, b, false); err != nil {
			return nil, err
		}
	}
	snap := dpos.Select(fork, round.Calculate(start, l.schedule))
	return snap.Active, nil
}

// CurrentForger returns the public key of the delegate entitled to forge
// the next block at timestamp.
func (l *Ledger) CurrentForger(timestamp int64) (string, error) {
	height := l.NextHeight()
	info, err := l.CalculateForgingInfo(timestamp, height)
	if err != nil {
		return "", err
	}
	active, err := l.ActiveDelegates()
	if err != nil {
		return "", err
	}
	if info.CurrentForger >= len(active) {
		return "", fmt.Errorf("%w: slot %d, %d delegates selected", coreerrors.ErrNotEnoughDelegates, info.CurrentForger, len(active))
	}
	return active[info.CurrentForger], nil
}

func blockAttributes(b *types.Block) []attribute.KeyValue {
	if b == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Int64("block.height", int64(b.Height)),
		attribute.Int("block.transactions", len(b.Transactions)),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
