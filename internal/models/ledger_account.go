package models

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of smallest units in one whole unit of value.
const LamportsPerSOL = 1_000_000_000

// LedgerAccount is the persisted balance record of one owner's sub-account.
type LedgerAccount struct {
	Address   PublicKey `json:"address"`    // derived from Owner and the account label
	Owner     PublicKey `json:"owner"`      // immutable after creation
	Bump      uint8     `json:"bump"`       // reproduced by derivation, not stored
	Balance   uint64    `json:"balance"`    // lamports deposited minus lamports withdrawn
	CreatedAt time.Time `json:"created_at"` // timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountView is the read model returned to callers: the ledger record plus
// the held funds backing it.
type AccountView struct {
	LedgerAccount
	HeldFunds  uint64          `json:"held_funds"`
	Reserve    uint64          `json:"reserve"`
	BalanceSOL decimal.Decimal `json:"balance_sol"`
}

// LamportsToSOL converts a lamport amount to whole units without rounding.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9)
}
