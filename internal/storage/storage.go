// Package storage holds what every LedgerStore implementation shares: the
// record errors and the reservation minimum for a stored record.
package storage

import (
	"errors"
	"math"
)

var (
	ErrNotFound      = errors.New("account not found")
	ErrAlreadyExists = errors.New("account already exists")
	ErrFundsOverflow = errors.New("held funds overflow")
)

const (
	// AccountDataLen is the stored size of a ledger record: an 8-byte type
	// tag followed by the 8-byte balance.
	AccountDataLen = 8 + 8

	AccountStorageOverhead = 128
	LamportsPerByteYear    = 3480
	ExemptionThresholdYrs  = 2
)

// MinimumReserve returns the held funds a record of dataLen bytes must keep
// for as long as it exists. The amount is never part of the ledger balance.
func MinimumReserve(dataLen int) uint64 {
	return uint64(AccountStorageOverhead+dataLen) * LamportsPerByteYear * ExemptionThresholdYrs
}

// AddLamports returns a+b or ErrFundsOverflow.
func AddLamports(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrFundsOverflow
	}
	return a + b, nil
}
