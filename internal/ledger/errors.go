package ledger

import (
	"errors"

	"github.com/sheikh-saqib/derived-accounts-ledger/internal/address"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/transfer"
)

// Errors returned by Ledger operations. Collaborator errors are re-exported
// so callers only need this package to match them with errors.Is.
var (
	ErrUnauthorized            = errors.New("caller is not the account owner")
	ErrSignatureRequired       = transfer.ErrSignatureRequired
	ErrNotFound                = storage.ErrNotFound
	ErrAlreadyExists           = storage.ErrAlreadyExists
	ErrOverflow                = errors.New("balance overflow")
	ErrBelowReservedMinimum    = transfer.ErrBelowReservedMinimum
	ErrInsufficientCallerFunds = transfer.ErrInsufficientCallerFunds
	ErrDerivationExhausted     = address.ErrDerivationExhausted
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrAirdropDisabled         = errors.New("airdrop is disabled")
	ErrNotAWallet              = errors.New("address holds a sub-account")
	// ErrSameAddress guards the transfer executor. Derived addresses are off
	// curve, so no signed owner can reach it through the ledger.
	ErrSameAddress             = transfer.ErrSameAddress
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuthorization
	KindState
	KindArithmetic
	KindResource
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindArithmetic:
		return "arithmetic"
	case KindResource:
		return "resource"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

// Kind classifies err into the ledger error taxonomy.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSignatureRequired):
		return KindAuthorization
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrNotAWallet):
		return KindState
	case errors.Is(err, ErrOverflow), errors.Is(err, ErrBelowReservedMinimum):
		return KindArithmetic
	case errors.Is(err, ErrInsufficientCallerFunds), errors.Is(err, ErrDerivationExhausted):
		return KindResource
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrAirdropDisabled), errors.Is(err, ErrSameAddress):
		return KindValidation
	default:
		return KindInternal
	}
}
