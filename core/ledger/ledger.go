// Package ledger drives blocks through the account store. It is the single
// writer of live state: blocks are applied and reverted one at a time, and
// round boundaries trigger delegate selection.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"dposchain/core/dpos"
	coreerrors "dposchain/core/errors"
	"dposchain/core/events"
	"dposchain/core/forging"
	"dposchain/core/handlers"
	"dposchain/core/milestones"
	"dposchain/core/round"
	"dposchain/core/state"
	"dposchain/core/types"
	"dposchain/crypto"
	"dposchain/native/htlc"
	"dposchain/observability"
)

// Chain is the stored block history the ledger applies on top of.
type Chain interface {
	handlers.TransactionLookup
	LastBlock() types.BlockRef
	Block(height uint64) (*types.Block, error)
	Timestamp(height uint64) (int64, error)
	SaveBlock(b *types.Block) error
	DeleteTip() (*types.Block, error)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEmitter sets the sink for ledger and handler events.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

// WithExceptions lists transaction ids that are applied without validation.
func WithExceptions(ids ...string) Option {
	return func(l *Ledger) {
		for _, id := range ids {
			l.exceptions[id] = struct{}{}
		}
	}
}

// WithHTLC tunes HTLC lock admission.
func WithHTLC(cfg htlc.Config) Option {
	return func(l *Ledger) { l.htlcConfig = cfg }
}

// WithVerifier replaces the secp256k1 signature verifier.
func WithVerifier(v handlers.SignatureVerifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

// WithHasher replaces the HTLC secret hasher.
func WithHasher(h handlers.Hasher) Option {
	return func(l *Ledger) { l.hasher = h }
}

type roundRecord struct {
	snapshot dpos.Snapshot
	undo     dpos.Undo
}

// Ledger owns the live account store.
type Ledger struct {
	mu sync.Mutex

	store    *state.Store
	chain    Chain
	schedule *milestones.Schedule
	forging  *forging.Calculator

	registry *handlers.Registry
	pending  *pendingEvents
	// silent resolves handlers that emit nothing, for work on forks.
	silent *handlers.Registry

	rounds     map[uint64]roundRecord
	exceptions map[string]struct{}
	last       atomic.Pointer[types.BlockRef]

	logger     *slog.Logger
	emitter    events.Emitter
	tracer     trace.Tracer
	verifier   handlers.SignatureVerifier
	hasher     handlers.Hasher
	htlcConfig htlc.Config
}

// New builds a ledger over a store seeded with genesis state and selects the
// delegates of the first round. Blocks already in chain are not applied
// until Restore is called.
func New(store *state.Store, chain Chain, schedule *milestones.Schedule, opts ...Option) (*Ledger, error) {
	if store == nil || chain == nil || schedule == nil {
		return nil, fmt.Errorf("ledger: store, chain and milestones are required")
	}
	l := &Ledger{
		store:      store,
		chain:      chain,
		schedule:   schedule,
		forging:    forging.NewCalculator(schedule, chain.Timestamp),
		rounds:     make(map[uint64]roundRecord),
		exceptions: make(map[string]struct{}),
		logger:     slog.Default(),
		emitter:    events.NoopEmitter{},
		tracer:     otel.Tracer("dposchain/core/ledger"),
		verifier:   handlers.ECDSAVerifier{},
		hasher:     crypto.SecretHasher{},
		pending:    &pendingEvents{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.last.Store(&types.BlockRef{})

	var err error
	if l.registry, err = l.buildRegistry(l.pending); err != nil {
		return nil, err
	}
	if l.silent, err = l.buildRegistry(events.NoopEmitter{}); err != nil {
		return nil, err
	}
	if err := l.startRound(l.store, 1); err != nil {
		return nil, err
	}
	l.pending.flush(l.emitter)
	return l, nil
}

func (l *Ledger) buildRegistry(emitter events.Emitter) (*handlers.Registry, error) {
	deps := handlers.Deps{
		ChainTime:    l,
		Transactions: l.chain,
		Verifier:     l.verifier,
		Hasher:       l.hasher,
		Milestones:   l.schedule,
		Emitter:      emitter,
	}
	return handlers.NewRegistry(htlc.Handlers(handlers.CoreSet(deps), deps, l.htlcConfig))
}

// LastBlock returns the last block applied to the store. It implements
// handlers.ChainTime and never blocks.
func (l *Ledger) LastBlock() types.BlockRef {
	return *l.last.Load()
}

// NextHeight is the height of the next block to apply.
func (l *Ledger) NextHeight() uint64 {
	return l.LastBlock().Height + 1
}

// Milestones returns the schedule the ledger runs on.
func (l *Ledger) Milestones() *milestones.Schedule {
	return l.schedule
}

// ApplyTransaction validates tx against live state and applies it.
func (l *Ledger) ApplyTransaction(tx *types.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.applyTransaction(l.registry, l.store, tx, l.NextHeight())
	l.settle(err)
	return err
}

// RevertTransaction undoes a previously applied tx.
func (l *Ledger) RevertTransaction(tx *types.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.revertTransaction(l.registry, l.store, tx)
	l.settle(err)
	return err
}

func (l *Ledger) applyTransaction(registry *handlers.Registry, store *state.Store, tx *types.Transaction, height uint64) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", coreerrors.ErrInvalidTransaction)
	}
	h, err := registry.For(tx.Type())
	if err != nil {
		return err
	}
	if !h.Activated(height) {
		observability.Ledger().RecordRejection(tx.Type().String(), "not_activated")
		return fmt.Errorf("%w: %s at height %d", coreerrors.ErrNotActivated, tx.Type(), height)
	}
	if _, forced := l.exceptions[tx.ID]; forced {
		l.logger.Warn("Applying exception-list transaction without validation",
			slog.String("txid", tx.ID),
			slog.String("type", tx.Type().String()),
			slog.Uint64("height", height))
		observability.Ledger().RecordException()
	} else {
		sender, err := store.GetByPublicKey(tx.SenderPublicKey)
		if err != nil {
			return fmt.Errorf("%w: sender public key: %v", coreerrors.ErrInvalidTransaction, err)
		}
		if err := h.CheckApply(tx, sender, store); err != nil {
			observability.Ledger().RecordRejection(tx.Type().String(), coreerrors.Reason(err))
			return err
		}
	}
	if err := h.Apply(tx, store); err != nil {
		l.logger.Error("Transaction apply failed after validation",
			slog.String("txid", tx.ID),
			slog.String("type", tx.Type().String()),
			slog.Any("error", err))
		return fmt.Errorf("%w: apply %s %s: %w", coreerrors.ErrFatal, tx.Type(), tx.ID, err)
	}
	observability.Ledger().RecordApplied(tx.Type().String())
	return nil
}

func (l *Ledger) revertTransaction(registry *handlers.Registry, store *state.Store, tx *types.Transaction) error {
	h, err := registry.For(tx.Type())
	if err != nil {
		return err
	}
	if err := h.Revert(tx, store); err != nil {
		l.logger.Error("Transaction revert failed",
			slog.String("txid", tx.ID),
			slog.String("type", tx.Type().String()),
			slog.Any("error", err))
		return fmt.Errorf("%w: revert %s %s: %w", coreerrors.ErrFatal, tx.Type(), tx.ID, err)
	}
	observability.Ledger().RecordReverted(tx.Type().String())
	return nil
}

// revertTransactions reverts txs in reverse order.
func (l *Ledger) revertTransactions(registry *handlers.Registry, store *state.Store, txs []*types.Transaction) error {
	for i := len(txs) - 1; i >= 0; i-- {
		if err := l.revertTransaction(registry, store, txs[i]); err != nil {
			return err
		}
	}
	return nil
}

// CalculateRound returns the round containing height.
func (l *Ledger) CalculateRound(height uint64) round.Info {
	return round.Calculate(height, l.schedule)
}

// IsNewRound reports whether height opens a round.
func (l *Ledger) IsNewRound(height uint64) bool {
	return round.IsNewRound(height, l.schedule)
}

// CalculateForgingInfo returns the forger rotation at timestamp for the
// block forged at height.
func (l *Ledger) CalculateForgingInfo(timestamp int64, height uint64) (forging.Info, error) {
	return l.forging.ForgingInfo(timestamp, height)
}

// SlotInfo returns the forging slot containing timestamp at height.
func (l *Ledger) SlotInfo(timestamp int64, height uint64) (forging.SlotInfo, error) {
	return l.forging.SlotInfo(timestamp, height)
}

// FindByIndex looks a wallet up through one of the store indexes.
func (l *Ledger) FindByIndex(name state.IndexName, key string) (*types.Wallet, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.FindByIndex(name, key)
}

// Wallet returns a copy of the wallet at address.
func (l *Ledger) Wallet(address string) *types.Wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Get(address)
}

// Clone returns an isolated fork of the live store.
func (l *Ledger) Clone() *state.Store {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Fork()
}

// ForkHandlers resolves handlers for speculative use on a Clone. They read
// the ledger's chain time but emit no events.
func (l *Ledger) ForkHandlers() *handlers.Registry {
	return l.silent
}

// StateRoot commits to the live store.
func (l *Ledger) StateRoot() (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Root()
}

// VerifyState recomputes vote and locked balances by full scan.
func (l *Ledger) VerifyState() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.VerifyVoteBalances()
}
