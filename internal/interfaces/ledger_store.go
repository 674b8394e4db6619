package interfaces

import (
	"context"

	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
)

// LedgerStore persists ledger accounts together with the held funds of every
// address. Ledger records and funds only change inside RunInTx.
type LedgerStore interface {
	// RunInTx commits every write made through tx if fn returns nil and
	// discards all of them otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	GetAccount(ctx context.Context, address models.PublicKey) (*models.LedgerAccount, error)
	Lamports(ctx context.Context, address models.PublicKey) (uint64, error)
	MinimumReserve() uint64
}

// LedgerTx is the view of the store inside one atomic unit of work.
type LedgerTx interface {
	// CreateAccount stores a new record and allocates its reservation minimum
	// as held funds at the same address.
	CreateAccount(ctx context.Context, account *models.LedgerAccount) error
	LoadAccount(ctx context.Context, address models.PublicKey) (*models.LedgerAccount, error)
	SaveAccount(ctx context.Context, account *models.LedgerAccount) error

	Lamports(ctx context.Context, address models.PublicKey) (uint64, error)
	SetLamports(ctx context.Context, address models.PublicKey, lamports uint64) error

	MinimumReserve() uint64
}
