package handlers

import (
	"fmt"

	coreerrors "dposchain/core/errors"
	"dposchain/core/types"
)

// Set names one handler per transaction type. Adding a type means adding a
// field here, to Registry.For and to NewRegistry's checks.
type Set struct {
	Transfer             Handler
	MultiPayment         Handler
	Vote                 Handler
	DelegateRegistration Handler
	DelegateResignation  Handler
	HtlcLock             Handler
	HtlcClaim            Handler
	HtlcRefund           Handler
}

// CoreSet returns the handlers that need nothing beyond Deps. The HTLC
// fields are left for the caller.
func CoreSet(deps Deps) Set {
	return Set{
		Transfer:             NewTransfer(deps),
		MultiPayment:         NewMultiPayment(deps),
		Vote:                 NewVote(deps),
		DelegateRegistration: NewDelegateRegistration(deps),
		DelegateResignation:  NewDelegateResignation(deps),
	}
}

// Registry resolves transaction types to handlers.
type Registry struct {
	set Set
}

// NewRegistry checks that every type has a handler of the right type.
func NewRegistry(set Set) (*Registry, error) {
	r := &Registry{set: set}
	for _, t := range types.AllTxTypes {
		h := r.lookup(t)
		if h == nil {
			return nil, fmt.Errorf("handlers: no handler for %s", t)
		}
		if h.Type() != t {
			return nil, fmt.Errorf("handlers: %s handler registered for %s", h.Type(), t)
		}
	}
	return r, nil
}

func (r *Registry) lookup(t types.TxType) Handler {
	switch t {
	case types.TxTypeTransfer:
		return r.set.Transfer
	case types.TxTypeMultiPayment:
		return r.set.MultiPayment
	case types.TxTypeVote:
		return r.set.Vote
	case types.TxTypeDelegateRegistration:
		return r.set.DelegateRegistration
	case types.TxTypeDelegateResignation:
		return r.set.DelegateResignation
	case types.TxTypeHtlcLock:
		return r.set.HtlcLock
	case types.TxTypeHtlcClaim:
		return r.set.HtlcClaim
	case types.TxTypeHtlcRefund:
		return r.set.HtlcRefund
	default:
		return nil
	}
}

// For returns the handler of t.
func (r *Registry) For(t types.TxType) (Handler, error) {
	h := r.lookup(t)
	if h == nil {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrUnknownTransactionType, t)
	}
	return h, nil
}

// All returns every handler in type order.
func (r *Registry) All() []Handler {
	out := make([]Handler, 0, len(types.AllTxTypes))
	for _, t := range types.AllTxTypes {
		out = append(out, r.lookup(t))
	}
	return out
}
