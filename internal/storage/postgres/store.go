package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"
	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/storage"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

var errNumericRange = errors.New("numeric value out of uint64 range")

type PostgresLedgerStore struct {
	db      *sql.DB
	reserve uint64
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db:      db,
		reserve: storage.MinimumReserve(storage.AccountDataLen),
	}
}

// Migrate creates the ledger tables if they do not exist.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

func (p *PostgresLedgerStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.LedgerTx) error) (err error) {

	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	err = fn(ctx, &postgresTx{tx: dbTx, reserve: p.reserve})
	if err != nil {
		return err
	}
	return dbTx.Commit()
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, address models.PublicKey) (*models.LedgerAccount, error) {
	const query = `SELECT address, owner, balance, created_at, updated_at FROM ledger_accounts
	WHERE address = $1`

	return scanAccount(p.db.QueryRowContext(ctx, query, address.String()))
}

func (p *PostgresLedgerStore) Lamports(ctx context.Context, address models.PublicKey) (uint64, error) {
	const query = `SELECT lamports FROM held_funds WHERE address = $1`

	return scanLamports(p.db.QueryRowContext(ctx, query, address.String()))
}

func (p *PostgresLedgerStore) MinimumReserve() uint64 {
	return p.reserve
}

// postgresTx locks every row it reads with SELECT ... FOR UPDATE so that
// concurrent transactions on the same address serialize.
type postgresTx struct {
	tx      *sql.Tx
	reserve uint64
}

func (t *postgresTx) CreateAccount(ctx context.Context, account *models.LedgerAccount) error {
	const query = `INSERT INTO ledger_accounts (address, owner, balance, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $4)`

	now := time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, query, account.Address.String(), account.Owner.String(), toNumeric(account.Balance), now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return storage.ErrAlreadyExists
		}
		return err
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	held, err := t.Lamports(ctx, account.Address)
	if err != nil {
		return err
	}
	held, err = storage.AddLamports(held, t.reserve)
	if err != nil {
		return err
	}
	return t.SetLamports(ctx, account.Address, held)
}

func (t *postgresTx) LoadAccount(ctx context.Context, address models.PublicKey) (*models.LedgerAccount, error) {
	const query = `SELECT address, owner, balance, created_at, updated_at FROM ledger_accounts
	WHERE address = $1
	FOR UPDATE`

	return scanAccount(t.tx.QueryRowContext(ctx, query, address.String()))
}

func (t *postgresTx) SaveAccount(ctx context.Context, account *models.LedgerAccount) error {
	const query = `UPDATE ledger_accounts SET balance = $2, updated_at = $3 WHERE address = $1`

	now := time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, query, account.Address.String(), toNumeric(account.Balance), now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	account.UpdatedAt = now
	return nil
}

func (t *postgresTx) Lamports(ctx context.Context, address models.PublicKey) (uint64, error) {
	const query = `SELECT lamports FROM held_funds WHERE address = $1 FOR UPDATE`

	return scanLamports(t.tx.QueryRowContext(ctx, query, address.String()))
}

func (t *postgresTx) SetLamports(ctx context.Context, address models.PublicKey, lamports uint64) error {
	const query = `INSERT INTO held_funds (address, lamports, updated_at) VALUES ($1, $2, $3)
	ON CONFLICT (address) DO UPDATE SET lamports = EXCLUDED.lamports, updated_at = EXCLUDED.updated_at`

	_, err := t.tx.ExecContext(ctx, query, address.String(), toNumeric(lamports), time.Now().UTC())
	return err
}

func (t *postgresTx) MinimumReserve() uint64 {
	return t.reserve
}

func scanAccount(row *sql.Row) (*models.LedgerAccount, error) {
	var (
		acct           models.LedgerAccount
		address, owner string
		balance        decimal.Decimal
	)
	err := row.Scan(&address, &owner, &balance, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if acct.Address, err = models.ParsePublicKey(address); err != nil {
		return nil, fmt.Errorf("stored address %q: %w", address, err)
	}
	if acct.Owner, err = models.ParsePublicKey(owner); err != nil {
		return nil, fmt.Errorf("stored owner %q: %w", owner, err)
	}
	if acct.Balance, err = fromNumeric(balance); err != nil {
		return nil, fmt.Errorf("stored balance for %s: %w", address, err)
	}
	return &acct, nil
}

// scanLamports treats a missing held_funds row as zero.
func scanLamports(row *sql.Row) (uint64, error) {
	var lamports decimal.Decimal
	err := row.Scan(&lamports)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fromNumeric(lamports)
}

func toNumeric(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func fromNumeric(d decimal.Decimal) (uint64, error) {
	if !d.IsInteger() || d.IsNegative() {
		return 0, fmt.Errorf("%w: %s", errNumericRange, d)
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: %s", errNumericRange, d)
	}
	return b.Uint64(), nil
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
var _ interfaces.LedgerTx = (*postgresTx)(nil)
