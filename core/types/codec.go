package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "dposchain/core/errors"
)

type txEnvelope struct {
	Type            uint8
	Nonce           uint64
	SenderPublicKey []byte
	Fee             *big.Int
	Amount          *big.Int
	RecipientID     string
	VendorField     string
	Asset           []byte
	Signature       []byte
}

func encodeTransaction(tx *Transaction, withSignature bool) ([]byte, error) {
	if tx == nil || tx.Asset == nil {
		return nil, fmt.Errorf("%w: cannot encode transaction without asset", coreerrors.ErrInvalidTransaction)
	}
	asset, err := rlp.EncodeToBytes(tx.Asset)
	if err != nil {
		return nil, fmt.Errorf("encode %s asset: %w", tx.Type(), err)
	}
	env := txEnvelope{
		Type:            uint8(tx.Type()),
		Nonce:           tx.Nonce,
		SenderPublicKey: tx.SenderPublicKey,
		Fee:             tx.FeeOrZero(),
		Amount:          tx.AmountOrZero(),
		RecipientID:     tx.RecipientID,
		VendorField:     tx.VendorField,
		Asset:           asset,
	}
	if withSignature {
		env.Signature = tx.Signature
	}
	return rlp.EncodeToBytes(&env)
}

// EncodeTransaction returns the canonical signed encoding of tx.
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	return encodeTransaction(tx, true)
}

// DecodeTransaction parses an encoding produced by EncodeTransaction and
// recomputes its id.
func DecodeTransaction(data []byte) (*Transaction, error) {
	var env txEnvelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	asset, err := decodeAsset(TxType(env.Type), env.Asset)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Nonce:           env.Nonce,
		SenderPublicKey: env.SenderPublicKey,
		Fee:             env.Fee,
		Amount:          env.Amount,
		RecipientID:     env.RecipientID,
		VendorField:     env.VendorField,
		Asset:           asset,
		Signature:       env.Signature,
	}
	id, err := tx.ComputeID()
	if err != nil {
		return nil, err
	}
	tx.ID = id
	return tx, nil
}

func decodeAsset(t TxType, data []byte) (Asset, error) {
	var err error
	switch t {
	case TxTypeTransfer:
		var a Transfer
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	case TxTypeMultiPayment:
		var a MultiPayment
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	case TxTypeVote:
		var a Vote
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	case TxTypeDelegateRegistration:
		var a DelegateRegistration
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	case TxTypeDelegateResignation:
		var a DelegateResignation
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	case TxTypeHtlcLock:
		var a HtlcLock
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	case TxTypeHtlcClaim:
		var a HtlcClaim
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	case TxTypeHtlcRefund:
		var a HtlcRefund
		err = rlp.DecodeBytes(data, &a)
		return a, wrapAssetErr(t, err)
	default:
		return nil, fmt.Errorf("%w: %d", coreerrors.ErrUnknownTransactionType, uint8(t))
	}
}

func wrapAssetErr(t TxType, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("decode %s asset: %w", t, err)
}

type blockEnvelope struct {
	Height             uint64
	Timestamp          uint64
	GeneratorPublicKey []byte
	Reward             *big.Int
	Transactions       [][]byte
}

// EncodeBlock returns the storage encoding of b.
func EncodeBlock(b *Block) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil block", coreerrors.ErrInvalidBlock)
	}
	if b.Timestamp < 0 {
		return nil, fmt.Errorf("%w: negative timestamp", coreerrors.ErrInvalidBlock)
	}
	env := blockEnvelope{
		Height:             b.Height,
		Timestamp:          uint64(b.Timestamp),
		GeneratorPublicKey: b.GeneratorPublicKey,
		Reward:             cloneBig(b.Reward),
		Transactions:       make([][]byte, 0, len(b.Transactions)),
	}
	for _, tx := range b.Transactions {
		encoded, err := EncodeTransaction(tx)
		if err != nil {
			return nil, err
		}
		env.Transactions = append(env.Transactions, encoded)
	}
	return rlp.EncodeToBytes(&env)
}

// DecodeBlock parses an encoding produced by EncodeBlock.
func DecodeBlock(data []byte) (*Block, error) {
	var env blockEnvelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	b := &Block{
		Height:             env.Height,
		Timestamp:          int64(env.Timestamp),
		GeneratorPublicKey: env.GeneratorPublicKey,
		Reward:             env.Reward,
		Transactions:       make([]*Transaction, 0, len(env.Transactions)),
	}
	for _, raw := range env.Transactions {
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return nil, err
		}
		b.Transactions = append(b.Transactions, tx)
	}
	return b, nil
}

type lockEnvelope struct {
	ID             string
	Amount         *big.Int
	RecipientID    string
	SecretHash     []byte
	HashType       uint8
	ExpirationType uint8
	Expiration     uint64
	VendorField    string
}

type delegateEnvelope struct {
	Username       string
	VoteBalance    *big.Int
	Rank           uint32
	Round          uint64
	Resigned       bool
	ProducedBlocks uint64
	ForgedFees     *big.Int
	ForgedRewards  *big.Int
}

type walletEnvelope struct {
	Address       string
	PublicKey     []byte
	Balance       *big.Int
	Nonce         uint64
	Vote          string
	Delegate      *delegateEnvelope `rlp:"nil"`
	LockedBalance *big.Int
	Locks         []lockEnvelope
}

// EncodeWallet returns the canonical encoding of w used for state
// commitments. Locks are encoded in id order.
func EncodeWallet(w *Wallet) ([]byte, error) {
	if w == nil {
		return nil, fmt.Errorf("encode wallet: nil wallet")
	}
	env := walletEnvelope{
		Address:       w.Address,
		PublicKey:     w.PublicKey,
		Balance:       cloneBig(w.Balance),
		Nonce:         w.Nonce,
		Vote:          w.Vote,
		LockedBalance: cloneBig(w.Htlc.LockedBalance),
		Locks:         make([]lockEnvelope, 0, len(w.Htlc.Locks)),
	}
	if d := w.Delegate; d != nil {
		env.Delegate = &delegateEnvelope{
			Username:       d.Username,
			VoteBalance:    cloneBig(d.VoteBalance),
			Rank:           d.Rank,
			Round:          d.Round,
			Resigned:       d.Resigned,
			ProducedBlocks: d.ProducedBlocks,
			ForgedFees:     cloneBig(d.ForgedFees),
			ForgedRewards:  cloneBig(d.ForgedRewards),
		}
	}
	for _, id := range w.LockIDs() {
		lock := w.Htlc.Locks[id]
		env.Locks = append(env.Locks, lockEnvelope{
			ID:             id,
			Amount:         cloneBig(lock.Amount),
			RecipientID:    lock.RecipientID,
			SecretHash:     lock.SecretHash,
			HashType:       uint8(lock.HashType),
			ExpirationType: uint8(lock.Expiration.Type),
			Expiration:     lock.Expiration.Value,
			VendorField:    lock.VendorField,
		})
	}
	return rlp.EncodeToBytes(&env)
}
