package errors

import stderrors "errors"

// Validation failures. These are returned before any state is touched.
var (
	ErrInsufficientBalance    = stderrors.New("ledger: insufficient balance")
	ErrInvalidNonce           = stderrors.New("ledger: invalid nonce")
	ErrSenderMismatch         = stderrors.New("ledger: sender public key mismatch")
	ErrInvalidSignature       = stderrors.New("ledger: invalid signature")
	ErrInvalidTransaction     = stderrors.New("ledger: malformed transaction")
	ErrUnknownTransactionType = stderrors.New("ledger: unknown transaction type")
	ErrNotActivated           = stderrors.New("ledger: transaction type not activated at this height")

	ErrAlreadyDelegate    = stderrors.New("delegate: wallet is already a delegate")
	ErrUsernameTaken      = stderrors.New("delegate: username already registered")
	ErrNotDelegate        = stderrors.New("delegate: wallet is not a delegate")
	ErrAlreadyResigned    = stderrors.New("delegate: already resigned")
	ErrNotEnoughDelegates = stderrors.New("delegate: not enough delegates would remain")

	ErrAlreadyVoted     = stderrors.New("vote: wallet has already voted")
	ErrNoVote           = stderrors.New("vote: wallet has not voted")
	ErrUnvoteMismatch   = stderrors.New("vote: unvote does not match current vote")
	ErrUnknownDelegate  = stderrors.New("vote: delegate not found")
	ErrResignedDelegate = stderrors.New("vote: delegate has resigned")

	ErrLockNotFound   = stderrors.New("htlc: lock not found")
	ErrSecretMismatch = stderrors.New("htlc: unlock secret does not match secret hash")
	ErrLockExpired    = stderrors.New("htlc: lock expired")
	ErrLockNotExpired = stderrors.New("htlc: lock not expired")
)

// Pool admission failures.
var (
	ErrDuplicateInPool = stderrors.New("pool: conflicting transaction already pending")
	ErrPoolFull        = stderrors.New("pool: capacity reached")
	ErrRateLimited     = stderrors.New("pool: sender rate limited")
)

// Internal failures.
var (
	// ErrIndexInconsistency reports a broken store invariant. It should never
	// surface while every mutation goes through the store.
	ErrIndexInconsistency = stderrors.New("state: index inconsistency")
	ErrInvalidBlock       = stderrors.New("ledger: invalid block")
	// ErrFatal marks an apply or revert that failed after validation passed.
	// The ledger state is no longer trustworthy once this is returned.
	ErrFatal = stderrors.New("ledger: fatal state transition failure")
)

// IsFatal reports whether err requires the node to halt.
func IsFatal(err error) bool {
	return stderrors.Is(err, ErrFatal) || stderrors.Is(err, ErrIndexInconsistency)
}

var rejectionReasons = []struct {
	err    error
	reason string
}{
	{ErrFatal, "fatal"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInvalidNonce, "invalid_nonce"},
	{ErrSenderMismatch, "sender_mismatch"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrInvalidTransaction, "malformed"},
	{ErrUnknownTransactionType, "unknown_type"},
	{ErrNotActivated, "not_activated"},
	{ErrAlreadyDelegate, "already_delegate"},
	{ErrUsernameTaken, "username_taken"},
	{ErrNotDelegate, "not_delegate"},
	{ErrAlreadyResigned, "already_resigned"},
	{ErrNotEnoughDelegates, "not_enough_delegates"},
	{ErrAlreadyVoted, "already_voted"},
	{ErrNoVote, "no_vote"},
	{ErrUnvoteMismatch, "unvote_mismatch"},
	{ErrUnknownDelegate, "unknown_delegate"},
	{ErrResignedDelegate, "resigned_delegate"},
	{ErrLockNotFound, "lock_not_found"},
	{ErrSecretMismatch, "secret_mismatch"},
	{ErrLockExpired, "lock_expired"},
	{ErrLockNotExpired, "lock_not_expired"},
	{ErrDuplicateInPool, "duplicate_in_pool"},
	{ErrPoolFull, "pool_full"},
	{ErrRateLimited, "rate_limited"},
	{ErrInvalidBlock, "invalid_block"},
}

// Reason maps err onto a stable label for metrics and logs.
func Reason(err error) string {
	for _, r := range rejectionReasons {
		if stderrors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
