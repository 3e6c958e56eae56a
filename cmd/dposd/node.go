package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"dposchain/config"
	"dposchain/core/genesis"
	"dposchain/core/ledger"
	"dposchain/core/types"
	"dposchain/crypto"
	"dposchain/mempool"
	"dposchain/native/htlc"
	"dposchain/observability"
	"dposchain/storage"
)

// node bundles the ledger with the stores and pool it runs on.
type node struct {
	cfg    *config.Config
	logger *slog.Logger
	epoch  time.Time

	db     storage.Database
	chain  *storage.BlockStore
	ledger *ledger.Ledger
	pool   *mempool.Pool

	forger *crypto.PrivateKey
	now    func() time.Time
}

// openNode seeds genesis state, replays the stored chain on top of it and
// checks the result. db is owned by the node afterwards.
func openNode(ctx context.Context, cfg *config.Config, spec *genesis.Spec, db storage.Database, logger *slog.Logger) (*node, error) {
	if spec.Prefix() != cfg.Prefix() {
		return nil, fmt.Errorf("genesis network %q does not match AddressPrefix %q", spec.Prefix(), cfg.Prefix())
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}
	chain, err := storage.NewBlockStore(db)
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	store, genesisBlock, err := genesis.Build(spec)
	if err != nil {
		return nil, fmt.Errorf("build genesis state: %w", err)
	}

	exceptions := append(append([]string(nil), cfg.Exceptions.Transactions...), spec.Exceptions...)
	l, err := ledger.New(store, chain, schedule,
		ledger.WithLogger(logger.With(slog.String("component", "ledger"))),
		ledger.WithEmitter(observability.CountingEmitter{}),
		ledger.WithExceptions(exceptions...),
		ledger.WithHTLC(htlc.Config{MinimumLockRounds: cfg.HTLC.MinimumLockRounds}),
	)
	if err != nil {
		return nil, err
	}

	if chain.Height() == 0 {
		if err := l.ApplyBlock(ctx, genesisBlock); err != nil {
			return nil, fmt.Errorf("apply genesis block: %w", err)
		}
		logger.Info("Applied genesis block", slog.Time("epoch", spec.GenesisTimestamp()))
	} else {
		started := time.Now()
		applied, err := l.Restore(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore chain: %w", err)
		}
		logger.Info("Restored chain",
			slog.Int("blocks", applied),
			slog.Uint64("height", l.LastBlock().Height),
			slog.Duration("elapsed", time.Since(started)))
	}
	if err := l.VerifyState(); err != nil {
		return nil, fmt.Errorf("verify state: %w", err)
	}

	pool := mempool.New(l, mempool.Config{
		MaxSize:       cfg.Mempool.MaxSize,
		RatePerSecond: cfg.Mempool.RatePerSecond,
		Burst:         cfg.Mempool.Burst,
		Logger:        logger.With(slog.String("component", "mempool")),
	})

	return &node{
		cfg:    cfg,
		logger: logger,
		epoch:  spec.GenesisTimestamp(),
		db:     db,
		chain:  chain,
		ledger: l,
		pool:   pool,
		now:    time.Now,
	}, nil
}

// applyBlock applies b to the ledger and rebases the pool on the new tip.
func (n *node) applyBlock(ctx context.Context, b *types.Block) error {
	if err := n.ledger.ApplyBlock(ctx, b); err != nil {
		return err
	}
	n.syncPool(b.Height)
	return nil
}

// revertBlock removes the tip block and rebases the pool on its parent.
func (n *node) revertBlock(ctx context.Context) (*types.Block, error) {
	b, err := n.ledger.RevertBlock(ctx)
	if err != nil {
		return nil, err
	}
	n.syncPool(b.Height - 1)
	return b, nil
}

func (n *node) syncPool(height uint64) {
	if dropped := n.pool.Sync(); dropped > 0 {
		n.logger.Debug("Dropped pending transactions",
			slog.Uint64("height", height),
			slog.Int("dropped", dropped))
	}
}

// unlockForger decrypts the configured forger keystore.
func (n *node) unlockForger(passphrase func() (string, error)) error {
	path := strings.TrimSpace(n.cfg.ForgerKeystorePath)
	if path == "" {
		return fmt.Errorf("ForgerKeystorePath is not configured")
	}
	pass, err := passphrase()
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(filepath.Clean(path), pass)
	if err != nil {
		return err
	}
	n.forger = key
	address := key.PubKey().Address(n.cfg.Prefix()).String()
	w := n.ledger.Wallet(address)
	n.logger.Info("Unlocked forger key",
		slog.String("address", address),
		slog.Bool("delegate", w != nil && w.IsDelegate()))
	return nil
}

// chainTime converts wall clock time into seconds since the network epoch.
func (n *node) chainTime() int64 {
	return int64(n.now().Sub(n.epoch) / time.Second)
}

// status is the node report served under /status.
type status struct {
	Network         string   `json:"network"`
	Height          uint64   `json:"height"`
	Timestamp       int64    `json:"timestamp"`
	StateRoot       string   `json:"stateRoot"`
	Round           uint64   `json:"round"`
	RoundHeight     uint64   `json:"roundHeight"`
	ActiveDelegates []string `json:"activeDelegates"`
	ChainTime       int64    `json:"chainTime"`
	Slot            int64    `json:"slot"`
	CanForge        bool     `json:"canForge"`
	CurrentForger   string   `json:"currentForger,omitempty"`
	OwnTurn         bool     `json:"ownTurn"`
	Pending         int      `json:"pending"`
}

func (n *node) status() (status, error) {
	last := n.ledger.LastBlock()
	root, err := n.ledger.StateRoot()
	if err != nil {
		return status{}, err
	}
	next := n.ledger.NextHeight()
	info := n.ledger.CalculateRound(next)
	active, err := n.ledger.ActiveDelegates()
	if err != nil {
		return status{}, err
	}
	now := n.chainTime()
	out := status{
		Network:         n.cfg.NetworkName,
		Height:          last.Height,
		Timestamp:       last.Timestamp,
		StateRoot:       root.Hex(),
		Round:           info.Round,
		RoundHeight:     info.RoundHeight,
		ActiveDelegates: active,
		ChainTime:       now,
		Pending:         n.pool.Len(),
	}
	if now < 0 {
		return out, nil
	}
	slot, err := n.ledger.SlotInfo(now, next)
	if err != nil {
		return status{}, err
	}
	out.Slot = slot.Slot
	out.CanForge = slot.ForgingStatus
	if forger, err := n.ledger.CurrentForger(now); err == nil {
		out.CurrentForger = forger
		out.OwnTurn = n.forger != nil && forger == n.forger.PubKey().Hex()
	} else {
		n.logger.Debug("No forger for slot", slog.Int64("slot", slot.Slot), slog.Any("error", err))
	}
	return out, nil
}

func (n *node) close() {
	n.db.Close()
}
