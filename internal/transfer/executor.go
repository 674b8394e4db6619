// Package transfer moves held funds between addresses inside a ledger
// transaction. It never touches ledger balances; callers apply the matching
// ledger delta in the same transaction.
package transfer

import (
	"context"
	"errors"
	"fmt"

	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrSignatureRequired       = errors.New("signature required")
	ErrInsufficientCallerFunds = errors.New("insufficient caller funds")
	ErrBelowReservedMinimum    = errors.New("transfer would breach reserved minimum")
	ErrSameAddress             = errors.New("source and destination are the same address")
)

type Executor struct {
	logger *zap.Logger
}

func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

// TransferIn moves amount from the caller's own funds at from into to. The
// caller must have signed for from.
func (e *Executor) TransferIn(ctx context.Context, tx interfaces.LedgerTx, caller models.Caller, from, to models.PublicKey, amount uint64) error {
	if !caller.Signed || caller.Identity != from {
		return ErrSignatureRequired
	}
	if from == to {
		return ErrSameAddress
	}
	if amount == 0 {
		return nil
	}

	fromHeld, err := tx.Lamports(ctx, from)
	if err != nil {
		return err
	}
	if fromHeld < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientCallerFunds, fromHeld, amount)
	}

	return e.move(ctx, tx, from, to, fromHeld, amount)
}

// TransferOut moves amount out of the held funds at from. The reservation
// minimum at from is never spent.
func (e *Executor) TransferOut(ctx context.Context, tx interfaces.LedgerTx, from, to models.PublicKey, amount uint64) error {
	if from == to {
		return ErrSameAddress
	}
	if amount == 0 {
		return nil
	}

	fromHeld, err := tx.Lamports(ctx, from)
	if err != nil {
		return err
	}
	reserve := tx.MinimumReserve()
	if fromHeld < reserve || fromHeld-reserve < amount {
		return fmt.Errorf("%w: held %d, reserve %d, requested %d", ErrBelowReservedMinimum, fromHeld, reserve, amount)
	}

	return e.move(ctx, tx, from, to, fromHeld, amount)
}

func (e *Executor) move(ctx context.Context, tx interfaces.LedgerTx, from, to models.PublicKey, fromHeld, amount uint64) error {
	toHeld, err := tx.Lamports(ctx, to)
	if err != nil {
		return err
	}
	toHeld, err = storage.AddLamports(toHeld, amount)
	if err != nil {
		return err
	}

	if err := tx.SetLamports(ctx, from, fromHeld-amount); err != nil {
		return err
	}
	if err := tx.SetLamports(ctx, to, toHeld); err != nil {
		return err
	}

	e.logger.Debug("funds moved",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Uint64("amount", amount),
	)
	return nil
}
