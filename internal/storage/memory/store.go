package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sync"    // standard Go package for concurrency primitives like Mutex
	"time"

	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"                // domain models: LedgerAccount
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Transactions run one at a time and stage their writes, so a failed
// transaction leaves nothing behind.
type MemoryLedgerStore struct {
	mu       sync.Mutex                                // held for the whole of a transaction
	accounts map[models.PublicKey]models.LedgerAccount // ledger records by derived address
	lamports map[models.PublicKey]uint64               // held funds by address (owners and sub-accounts)
	reserve  uint64                                    // reservation minimum per record
	now      func() time.Time
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts: make(map[models.PublicKey]models.LedgerAccount),
		lamports: make(map[models.PublicKey]uint64),
		reserve:  storage.MinimumReserve(storage.AccountDataLen),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunInTx runs fn against a staging transaction and applies its writes only
// if fn succeeds.
func (m *MemoryLedgerStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) error {

	m.mu.Lock()         // one transaction at a time
	defer m.mu.Unlock() // unlock automatically when function exits (even if error occurs)

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:    m,
		accounts: make(map[models.PublicKey]models.LedgerAccount),
		lamports: make(map[models.PublicKey]uint64),
	}
	if err := fn(ctx, tx); err != nil {
		return err // staged writes are dropped with tx
	}

	// commit: copy staged writes into the store
	for addr, acct := range tx.accounts {
		m.accounts[addr] = acct
	}
	for addr, amount := range tx.lamports {
		m.lamports[addr] = amount
	}
	return nil
}

// GetAccount returns a copy of the committed record at address.
func (m *MemoryLedgerStore) GetAccount(ctx context.Context, address models.PublicKey) (*models.LedgerAccount, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, exists := m.accounts[address]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &acct, nil // acct is already a copy of the map value
}

// Lamports returns the committed held funds at address. Unknown addresses hold nothing.
func (m *MemoryLedgerStore) Lamports(ctx context.Context, address models.PublicKey) (uint64, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lamports[address], nil
}

func (m *MemoryLedgerStore) MinimumReserve() uint64 {
	return m.reserve
}

// memoryTx stages writes on top of the committed maps. It is only valid
// inside the RunInTx call that created it, while the store mutex is held.
type memoryTx struct {
	store    *MemoryLedgerStore
	accounts map[models.PublicKey]models.LedgerAccount
	lamports map[models.PublicKey]uint64
}

func (tx *memoryTx) lookup(address models.PublicKey) (models.LedgerAccount, bool) {
	if acct, ok := tx.accounts[address]; ok {
		return acct, true
	}
	acct, ok := tx.store.accounts[address]
	return acct, ok
}

func (tx *memoryTx) CreateAccount(ctx context.Context, account *models.LedgerAccount) error {
	if _, exists := tx.lookup(account.Address); exists {
		return storage.ErrAlreadyExists
	}

	held, err := tx.Lamports(ctx, account.Address)
	if err != nil {
		return err
	}
	held, err = storage.AddLamports(held, tx.store.reserve)
	if err != nil {
		return err
	}

	now := tx.store.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	tx.accounts[account.Address] = *account
	tx.lamports[account.Address] = held
	return nil
}

func (tx *memoryTx) LoadAccount(ctx context.Context, address models.PublicKey) (*models.LedgerAccount, error) {
	acct, exists := tx.lookup(address)
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &acct, nil
}

func (tx *memoryTx) SaveAccount(ctx context.Context, account *models.LedgerAccount) error {
	if _, exists := tx.lookup(account.Address); !exists {
		return storage.ErrNotFound
	}
	account.UpdatedAt = tx.store.now()
	tx.accounts[account.Address] = *account
	return nil
}

func (tx *memoryTx) Lamports(ctx context.Context, address models.PublicKey) (uint64, error) {
	if amount, ok := tx.lamports[address]; ok {
		return amount, nil
	}
	return tx.store.lamports[address], nil
}

func (tx *memoryTx) SetLamports(ctx context.Context, address models.PublicKey, lamports uint64) error {
	tx.lamports[address] = lamports
	return nil
}

func (tx *memoryTx) MinimumReserve() uint64 {
	return tx.store.reserve
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
var _ interfaces.LedgerTx = (*memoryTx)(nil)
