package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models/events"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/transfer"
	"go.uber.org/zap"
)

// WithdrawDivisor sets the disbursement policy: each Withdraw pays out
// balance/WithdrawDivisor, rounded down.
const WithdrawDivisor = 10

// Ledger runs the sub-account operations. Every balance change is made in
// the same store transaction as the fund movement it records, under the
// account's lock.
type Ledger struct {
	store     interfaces.LedgerStore
	locker    interfaces.AccountLocker
	deriver   interfaces.AddressDeriver
	transfers *transfer.Executor
	publisher interfaces.EventPublisher
	logger    *zap.Logger

	airdropEnabled bool
	now            func() time.Time
}

type Option func(*Ledger)

// WithAirdrop enables crediting owner funds out of thin air. Meant for local
// clusters only.
func WithAirdrop(enabled bool) Option {
	return func(l *Ledger) { l.airdropEnabled = enabled }
}

// NewLedger wires the ledger to its collaborators.
func NewLedger(
	store interfaces.LedgerStore,
	locker interfaces.AccountLocker,
	deriver interfaces.AddressDeriver,
	transfers *transfer.Executor,
	publisher interfaces.EventPublisher,
	logger *zap.Logger,
	opts ...Option,
) *Ledger {
	l := &Ledger{
		store:     store,
		locker:    locker,
		deriver:   deriver,
		transfers: transfers,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type DepositResult struct {
	Account   *models.LedgerAccount `json:"account"`
	Deposited uint64                `json:"deposited"`
}

type WithdrawResult struct {
	Account   *models.LedgerAccount `json:"account"`
	Disbursed uint64                `json:"disbursed"`
}

func authorize(caller models.Caller, owner models.PublicKey) error {
	if caller.Identity.IsZero() || caller.Identity != owner {
		return ErrUnauthorized
	}
	return nil
}

// Initialize creates the owner's sub-account with a zero balance.
func (l *Ledger) Initialize(ctx context.Context, caller models.Caller, owner models.PublicKey) (*models.LedgerAccount, error) {
	if err := authorize(caller, owner); err != nil {
		return nil, err
	}
	addr, bump, err := l.deriver.Derive(owner)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}

	var created *models.LedgerAccount
	err = l.locker.WithLock(ctx, addr.String(), func(ctx context.Context) error {
		return l.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
			acct := &models.LedgerAccount{Address: addr, Owner: owner, Bump: bump}
			if err := tx.CreateAccount(ctx, acct); err != nil {
				return err
			}
			created = acct
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("account initialized",
		zap.Stringer("address", addr),
		zap.Stringer("owner", owner),
		zap.Uint8("bump", bump),
	)
	l.publish(ctx, events.AccountInitializedType, created, 0)
	return created, nil
}

// Deposit moves amount from the owner's funds into the sub-account and adds
// it to the balance.
func (l *Ledger) Deposit(ctx context.Context, caller models.Caller, owner models.PublicKey, amount uint64) (*DepositResult, error) {
	if err := authorize(caller, owner); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	addr, bump, err := l.deriver.Derive(owner)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}

	var updated *models.LedgerAccount
	err = l.locker.WithLock(ctx, addr.String(), func(ctx context.Context) error {
		return l.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
			acct, err := tx.LoadAccount(ctx, addr)
			if err != nil {
				return err
			}
			if acct.Balance > math.MaxUint64-amount {
				return ErrOverflow
			}

			if err := l.transfers.TransferIn(ctx, tx, caller, owner, addr, amount); err != nil {
				return mapTransferErr(err)
			}

			acct.Balance += amount
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return err
			}
			acct.Bump = bump
			updated = acct
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("deposit committed",
		zap.Stringer("address", addr),
		zap.Uint64("amount", amount),
		zap.Uint64("balance", updated.Balance),
	)
	l.publish(ctx, events.AccountDepositedType, updated, amount)
	return &DepositResult{Account: updated, Deposited: amount}, nil
}

// Withdraw pays balance/WithdrawDivisor back to the owner. A balance too
// small to yield a unit is left untouched and the call still succeeds.
func (l *Ledger) Withdraw(ctx context.Context, caller models.Caller, owner models.PublicKey) (*WithdrawResult, error) {
	if err := authorize(caller, owner); err != nil {
		return nil, err
	}
	addr, bump, err := l.deriver.Derive(owner)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}

	var (
		updated   *models.LedgerAccount
		disbursed uint64
	)
	err = l.locker.WithLock(ctx, addr.String(), func(ctx context.Context) error {
		return l.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
			acct, err := tx.LoadAccount(ctx, addr)
			if err != nil {
				return err
			}
			acct.Bump = bump

			amount := acct.Balance / WithdrawDivisor
			if amount == 0 {
				updated = acct
				return nil
			}

			if err := l.transfers.TransferOut(ctx, tx, addr, owner, amount); err != nil {
				return mapTransferErr(err)
			}

			acct.Balance -= amount
			if err := tx.SaveAccount(ctx, acct); err != nil {
				return err
			}
			updated = acct
			disbursed = amount
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if disbursed == 0 {
		l.logger.Info("withdraw skipped, nothing to disburse",
			zap.Stringer("address", addr),
			zap.Uint64("balance", updated.Balance),
		)
		return &WithdrawResult{Account: updated}, nil
	}

	l.logger.Info("withdraw committed",
		zap.Stringer("address", addr),
		zap.Uint64("disbursed", disbursed),
		zap.Uint64("balance", updated.Balance),
	)
	l.publish(ctx, events.AccountWithdrawnType, updated, disbursed)
	return &WithdrawResult{Account: updated, Disbursed: disbursed}, nil
}

// GetAccount returns the owner's sub-account and the funds held for it.
func (l *Ledger) GetAccount(ctx context.Context, owner models.PublicKey) (*models.AccountView, error) {
	addr, bump, err := l.deriver.Derive(owner)
	if err != nil {
		return nil, fmt.Errorf("derive address: %w", err)
	}

	acct, err := l.store.GetAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	acct.Bump = bump

	held, err := l.store.Lamports(ctx, addr)
	if err != nil {
		return nil, err
	}

	return &models.AccountView{
		LedgerAccount: *acct,
		HeldFunds:     held,
		Reserve:       l.store.MinimumReserve(),
		BalanceSOL:    models.LamportsToSOL(acct.Balance),
	}, nil
}

// WalletBalance returns the owner's own funds, outside any sub-account.
func (l *Ledger) WalletBalance(ctx context.Context, owner models.PublicKey) (uint64, error) {
	return l.store.Lamports(ctx, owner)
}

// Airdrop credits amount to the caller's own funds. Addresses holding a
// sub-account are refused: their funds only move together with the balance.
func (l *Ledger) Airdrop(ctx context.Context, caller models.Caller, owner models.PublicKey, amount uint64) (uint64, error) {
	if !l.airdropEnabled {
		return 0, ErrAirdropDisabled
	}
	if err := authorize(caller, owner); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}

	var held uint64
	err := l.locker.WithLock(ctx, owner.String(), func(ctx context.Context) error {
		return l.store.RunInTx(ctx, func(ctx context.Context, tx interfaces.LedgerTx) error {
			_, err := tx.LoadAccount(ctx, owner)
			switch {
			case err == nil:
				return ErrNotAWallet
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}

			current, err := tx.Lamports(ctx, owner)
			if err != nil {
				return err
			}
			held, err = storage.AddLamports(current, amount)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrOverflow, err)
			}
			return tx.SetLamports(ctx, owner, held)
		})
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info("airdrop credited", zap.Stringer("owner", owner), zap.Uint64("amount", amount))
	return held, nil
}

func mapTransferErr(err error) error {
	if errors.Is(err, storage.ErrFundsOverflow) {
		return fmt.Errorf("%w: %w", ErrOverflow, err)
	}
	return err
}

// publish runs after commit. A failed publish is logged and does not change
// the outcome of the operation.
func (l *Ledger) publish(ctx context.Context, eventType string, acct *models.LedgerAccount, amount uint64) {
	event := events.AccountEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		Address:    acct.Address.String(),
		Owner:      acct.Owner.String(),
		Amount:     amount,
		Balance:    acct.Balance,
		OccurredAt: l.now(),
	}
	if err := l.publisher.Publish(ctx, event.Address, event); err != nil {
		l.logger.Error("failed to publish account event",
			zap.String("event_type", eventType),
			zap.String("address", event.Address),
			zap.Error(err),
		)
	}
}
