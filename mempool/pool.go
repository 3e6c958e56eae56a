// Package mempool holds unconfirmed transactions. Pool-specific checks run
// against confirmed state and the pending set; full validation then runs
// against a fork on which every admitted transaction has already been
// applied, so a sender may queue consecutive nonces.
package mempool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	coreerrors "dposchain/core/errors"
	"dposchain/core/handlers"
	"dposchain/core/state"
	"dposchain/core/types"
	"dposchain/observability"
)

// Ledger is the confirmed state the pool validates against.
type Ledger interface {
	Clone() *state.Store
	ForkHandlers() *handlers.Registry
	NextHeight() uint64
}

// Config bounds the pool.
type Config struct {
	// MaxSize caps the number of pending transactions. Zero means 10000.
	MaxSize int
	// RatePerSecond and Burst limit admissions per sender. A zero rate
	// disables limiting.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
	// Now is the clock used for rate limiting.
	Now func() time.Time
}

const defaultMaxSize = 10000

// Pool is safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	cfg    Config
	ledger Ledger
	logger *slog.Logger

	// confirmed is the ledger state at the last sync; store additionally
	// carries every pending transaction.
	confirmed *state.Store
	store     *state.Store
	pending   []*types.Transaction
	byID      map[string]struct{}
	limiters  map[string]*rate.Limiter
}

// New returns an empty pool over ledger.
func New(ledger Ledger, cfg Config) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	confirmed := ledger.Clone()
	return &Pool{
		cfg:       cfg,
		ledger:    ledger,
		logger:    logger,
		confirmed: confirmed,
		store:     confirmed.Fork(),
		byID:      make(map[string]struct{}),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Add validates tx and queues it.
func (p *Pool) Add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.admit(tx, true); err != nil {
		observability.Pool().RecordRejected(coreerrors.Reason(err))
		return err
	}
	observability.Pool().RecordAdmitted(tx.Type().String(), len(p.pending))
	return nil
}

func (p *Pool) admit(tx *types.Transaction, limit bool) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", coreerrors.ErrInvalidTransaction)
	}
	if _, ok := p.byID[tx.ID]; ok {
		return fmt.Errorf("%w: transaction %s", coreerrors.ErrDuplicateInPool, tx.ID)
	}
	if len(p.pending) >= p.cfg.MaxSize {
		return fmt.Errorf("%w: %d pending", coreerrors.ErrPoolFull, len(p.pending))
	}
	if limit && !p.allow(tx.SenderPublicKeyHex()) {
		return fmt.Errorf("%w: sender %s", coreerrors.ErrRateLimited, tx.SenderPublicKeyHex())
	}
	h, err := p.ledger.ForkHandlers().For(tx.Type())
	if err != nil {
		return err
	}
	if height := p.ledger.NextHeight(); !h.Activated(height) {
		return fmt.Errorf("%w: %s at height %d", coreerrors.ErrNotActivated, tx.Type(), height)
	}
	if err := h.CheckPool(tx, p.confirmed, pendingView(p.pending)); err != nil {
		return err
	}
	sender, err := p.store.GetByPublicKey(tx.SenderPublicKey)
	if err != nil {
		return fmt.Errorf("%w: sender public key: %v", coreerrors.ErrInvalidTransaction, err)
	}
	if err := h.CheckApply(tx, sender, p.store); err != nil {
		return err
	}
	if err := h.Apply(tx, p.store); err != nil {
		return fmt.Errorf("pool apply %s: %w", tx.ID, err)
	}
	p.pending = append(p.pending, tx)
	p.byID[tx.ID] = struct{}{}
	return nil
}

func (p *Pool) allow(sender string) bool {
	if p.cfg.RatePerSecond <= 0 {
		return true
	}
	limiter, ok := p.limiters[sender]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.RatePerSecond), p.cfg.Burst)
		p.limiters[sender] = limiter
	}
	return limiter.AllowN(p.cfg.Now(), 1)
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Has reports whether id is pending.
func (p *Pool) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[id]
	return ok
}

// Pending returns the pending transactions in admission order.
func (p *Pool) Pending() []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Transaction(nil), p.pending...)
}

// Select returns up to max transactions for the next block, see Order.
func (p *Pool) Select(max int) []*types.Transaction {
	return Order(p.Pending(), max)
}

// AnyPending implements handlers.PoolQuery.
func (p *Pool) AnyPending(match func(*types.Transaction) bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return pendingView(p.pending).AnyPending(match)
}

// Sync rebases the pool on the current ledger state after a block was
// applied or reverted. Transactions that no longer validate, including the
// ones the block confirmed, are dropped. It returns the number dropped.
func (p *Pool) Sync() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.pending
	p.confirmed = p.ledger.Clone()
	p.store = p.confirmed.Fork()
	p.pending = nil
	p.byID = make(map[string]struct{}, len(previous))

	dropped := 0
	for _, tx := range previous {
		if err := p.admit(tx, false); err != nil {
			dropped++
			p.logger.Debug("Dropping pending transaction",
				slog.String("txid", tx.ID),
				slog.String("reason", coreerrors.Reason(err)))
		}
	}
	observability.Pool().SetSize(len(p.pending))
	return dropped
}

type pendingView []*types.Transaction

func (v pendingView) AnyPending(match func(*types.Transaction) bool) bool {
	for _, tx := range v {
		if match(tx) {
			return true
		}
	}
	return false
}
