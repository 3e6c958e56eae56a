package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/holiman/uint256"

	coreerrors "dposchain/core/errors"
	"dposchain/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer             TxType = 0x00 // Move funds to a single recipient
	TxTypeDelegateRegistration TxType = 0x02 // Claim a delegate username
	TxTypeVote                 TxType = 0x03 // Vote or unvote a delegate
	TxTypeMultiPayment         TxType = 0x06 // Move funds to several recipients
	TxTypeDelegateResignation  TxType = 0x07 // Leave the delegate ranking
	TxTypeHtlcLock             TxType = 0x08 // Escrow funds behind a secret hash
	TxTypeHtlcClaim            TxType = 0x09 // Release a lock with its secret
	TxTypeHtlcRefund           TxType = 0x0a // Return an expired lock
)

// AllTxTypes lists every supported transaction type.
var AllTxTypes = []TxType{
	TxTypeTransfer,
	TxTypeDelegateRegistration,
	TxTypeVote,
	TxTypeMultiPayment,
	TxTypeDelegateResignation,
	TxTypeHtlcLock,
	TxTypeHtlcClaim,
	TxTypeHtlcRefund,
}

func (t TxType) String() string {
	switch t {
	case TxTypeTransfer:
		return "transfer"
	case TxTypeDelegateRegistration:
		return "delegate_registration"
	case TxTypeVote:
		return "vote"
	case TxTypeMultiPayment:
		return "multi_payment"
	case TxTypeDelegateResignation:
		return "delegate_resignation"
	case TxTypeHtlcLock:
		return "htlc_lock"
	case TxTypeHtlcClaim:
		return "htlc_claim"
	case TxTypeHtlcRefund:
		return "htlc_refund"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

const (
	MaxVendorFieldLength = 255
	MinMultiPayments     = 2
	MaxMultiPayments     = 64
	MaxUsernameLength    = 20
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9!@$&_.]+$`)

// Transaction is a signed, nonce-ordered state transition.
type Transaction struct {
	ID              string
	Nonce           uint64
	SenderPublicKey []byte
	Fee             *big.Int
	Amount          *big.Int
	RecipientID     string
	VendorField     string
	Asset           Asset
	Signature       []byte
}

// Type returns the transaction type implied by the asset.
func (tx *Transaction) Type() TxType {
	if tx == nil || tx.Asset == nil {
		return TxType(0xff)
	}
	return tx.Asset.TxType()
}

// SenderPublicKeyHex returns the sender public key as hex.
func (tx *Transaction) SenderPublicKeyHex() string {
	return hex.EncodeToString(tx.SenderPublicKey)
}

// AmountOrZero returns a copy of Amount, treating nil as zero.
func (tx *Transaction) AmountOrZero() *big.Int {
	return cloneBig(tx.Amount)
}

// FeeOrZero returns a copy of Fee, treating nil as zero.
func (tx *Transaction) FeeOrZero() *big.Int {
	return cloneBig(tx.Fee)
}

// Spend is the total the sender is debited on apply: fee plus every amount
// leaving the sender's liquid balance.
func (tx *Transaction) Spend() *big.Int {
	total := tx.FeeOrZero()
	total.Add(total, tx.AmountOrZero())
	if mp, ok := tx.Asset.(MultiPayment); ok {
		total.Add(total, mp.Total())
	}
	return total
}

// Validate performs stateless structural checks, including that ID is the
// hash of the signed encoding.
func (tx *Transaction) Validate() error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", coreerrors.ErrInvalidTransaction)
	}
	if tx.Asset == nil {
		return fmt.Errorf("%w: missing asset", coreerrors.ErrInvalidTransaction)
	}
	if len(tx.SenderPublicKey) != crypto.PublicKeyLength {
		return fmt.Errorf("%w: sender public key must be %d bytes", coreerrors.ErrInvalidTransaction, crypto.PublicKeyLength)
	}
	if err := checkAmount("fee", tx.Fee, true); err != nil {
		return err
	}
	if err := checkAmount("amount", tx.Amount, true); err != nil {
		return err
	}
	if len(tx.VendorField) > MaxVendorFieldLength {
		return fmt.Errorf("%w: vendor field exceeds %d bytes", coreerrors.ErrInvalidTransaction, MaxVendorFieldLength)
	}
	amount := tx.AmountOrZero()
	switch asset := tx.Asset.(type) {
	case Transfer:
		if amount.Sign() <= 0 {
			return fmt.Errorf("%w: transfer amount must be positive", coreerrors.ErrInvalidTransaction)
		}
		if tx.RecipientID == "" {
			return fmt.Errorf("%w: transfer requires a recipient", coreerrors.ErrInvalidTransaction)
		}
	case MultiPayment:
		if amount.Sign() != 0 || tx.RecipientID != "" {
			return fmt.Errorf("%w: multi payment carries amounts in its payments", coreerrors.ErrInvalidTransaction)
		}
		if n := len(asset.Payments); n < MinMultiPayments || n > MaxMultiPayments {
			return fmt.Errorf("%w: multi payment needs %d..%d payments, got %d", coreerrors.ErrInvalidTransaction, MinMultiPayments, MaxMultiPayments, n)
		}
		for i, p := range asset.Payments {
			if p.RecipientID == "" {
				return fmt.Errorf("%w: payment %d has no recipient", coreerrors.ErrInvalidTransaction, i)
			}
			if err := checkAmount("payment", p.Amount, false); err != nil {
				return err
			}
		}
	case Vote:
		if err := validateVotes(asset.Votes); err != nil {
			return err
		}
		if amount.Sign() != 0 {
			return fmt.Errorf("%w: vote carries no amount", coreerrors.ErrInvalidTransaction)
		}
	case DelegateRegistration:
		if !ValidUsername(asset.Username) {
			return fmt.Errorf("%w: invalid username %q", coreerrors.ErrInvalidTransaction, asset.Username)
		}
		if amount.Sign() != 0 {
			return fmt.Errorf("%w: delegate registration carries no amount", coreerrors.ErrInvalidTransaction)
		}
	case DelegateResignation:
		if amount.Sign() != 0 {
			return fmt.Errorf("%w: delegate resignation carries no amount", coreerrors.ErrInvalidTransaction)
		}
	case HtlcLock:
		if amount.Sign() <= 0 {
			return fmt.Errorf("%w: lock amount must be positive", coreerrors.ErrInvalidTransaction)
		}
		if tx.RecipientID == "" {
			return fmt.Errorf("%w: lock requires a recipient", coreerrors.ErrInvalidTransaction)
		}
		size := asset.HashType.Size()
		if size == 0 || len(asset.SecretHash) != size {
			return fmt.Errorf("%w: secret hash must be a %s digest", coreerrors.ErrInvalidTransaction, asset.HashType)
		}
		if asset.Expiration.Type != EpochTimestamp && asset.Expiration.Type != BlockHeight {
			return fmt.Errorf("%w: unknown expiration type %d", coreerrors.ErrInvalidTransaction, asset.Expiration.Type)
		}
		if asset.Expiration.Value == 0 {
			return fmt.Errorf("%w: expiration must be positive", coreerrors.ErrInvalidTransaction)
		}
	case HtlcClaim:
		if err := validateLockReference(tx, asset.LockTransactionID); err != nil {
			return err
		}
		if len(asset.UnlockSecret) == 0 {
			return fmt.Errorf("%w: claim requires an unlock secret", coreerrors.ErrInvalidTransaction)
		}
	case HtlcRefund:
		if err := validateLockReference(tx, asset.LockTransactionID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %T", coreerrors.ErrUnknownTransactionType, tx.Asset)
	}
	return tx.checkID()
}

// checkID rejects transactions whose id is not the hash of their contents.
// Lock ids key the lock index, so a forged id could collide with an open
// lock.
func (tx *Transaction) checkID() error {
	id, err := tx.ComputeID()
	if err != nil {
		return fmt.Errorf("%w: compute id: %v", coreerrors.ErrInvalidTransaction, err)
	}
	if tx.ID != id {
		return fmt.Errorf("%w: id %q does not match contents %s", coreerrors.ErrInvalidTransaction, tx.ID, id)
	}
	return nil
}

// ValidUsername reports whether name is an acceptable delegate username.
func ValidUsername(name string) bool {
	return len(name) > 0 && len(name) <= MaxUsernameLength && usernamePattern.MatchString(name)
}

// ParseVote splits a vote entry into its direction and delegate public key.
func ParseVote(vote string) (add bool, publicKey string, err error) {
	if len(vote) != 1+2*crypto.PublicKeyLength {
		return false, "", fmt.Errorf("%w: malformed vote %q", coreerrors.ErrInvalidTransaction, vote)
	}
	key := strings.ToLower(vote[1:])
	if _, err := hex.DecodeString(key); err != nil {
		return false, "", fmt.Errorf("%w: malformed vote key %q", coreerrors.ErrInvalidTransaction, vote)
	}
	switch vote[0] {
	case '+':
		return true, key, nil
	case '-':
		return false, key, nil
	default:
		return false, "", fmt.Errorf("%w: vote must start with + or -", coreerrors.ErrInvalidTransaction)
	}
}

func validateVotes(votes []string) error {
	switch len(votes) {
	case 1:
		_, _, err := ParseVote(votes[0])
		return err
	case 2:
		first, _, err := ParseVote(votes[0])
		if err != nil {
			return err
		}
		second, _, err := ParseVote(votes[1])
		if err != nil {
			return err
		}
		if first || !second {
			return fmt.Errorf("%w: a vote switch is an unvote followed by a vote", coreerrors.ErrInvalidTransaction)
		}
		return nil
	default:
		return fmt.Errorf("%w: expected 1 or 2 votes, got %d", coreerrors.ErrInvalidTransaction, len(votes))
	}
}

func validateLockReference(tx *Transaction, id string) error {
	if len(id) != 64 {
		return fmt.Errorf("%w: lock transaction id must be 32 bytes of hex", coreerrors.ErrInvalidTransaction)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return fmt.Errorf("%w: lock transaction id: %v", coreerrors.ErrInvalidTransaction, err)
	}
	if tx.AmountOrZero().Sign() != 0 || tx.RecipientID != "" {
		return fmt.Errorf("%w: claim and refund carry no amount or recipient", coreerrors.ErrInvalidTransaction)
	}
	return nil
}

func checkAmount(field string, v *big.Int, allowZero bool) error {
	if v == nil {
		if allowZero {
			return nil
		}
		return fmt.Errorf("%w: %s required", coreerrors.ErrInvalidTransaction, field)
	}
	if v.Sign() < 0 || (!allowZero && v.Sign() == 0) {
		return fmt.Errorf("%w: %s must be positive", coreerrors.ErrInvalidTransaction, field)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("%w: %s overflows 256 bits", coreerrors.ErrInvalidTransaction, field)
	}
	return nil
}

// SigningHash is the digest covered by the sender signature.
func (tx *Transaction) SigningHash() ([]byte, error) {
	encoded, err := encodeTransaction(tx, false)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(encoded)
	return hash[:], nil
}

// ComputeID hashes the full signed encoding into the transaction id.
func (tx *Transaction) ComputeID() (string, error) {
	encoded, err := encodeTransaction(tx, true)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(encoded)
	return hex.EncodeToString(hash[:]), nil
}

// Sign sets the sender public key, signs the transaction and fills in its id.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	tx.SenderPublicKey = key.PubKey().Compressed()
	hash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash)
	if err != nil {
		return err
	}
	tx.Signature = sig[:64]
	id, err := tx.ComputeID()
	if err != nil {
		return err
	}
	tx.ID = id
	return nil
}

// VerifySignature checks the sender signature over SigningHash.
func (tx *Transaction) VerifySignature() bool {
	hash, err := tx.SigningHash()
	if err != nil {
		return false
	}
	return crypto.VerifySignature(tx.SenderPublicKey, hash, tx.Signature)
}
