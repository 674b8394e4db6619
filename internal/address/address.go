// Package address derives sub-account identifiers from an owner identity and
// a fixed label.
//
// A derived address is SHA-256(seeds ‖ bump ‖ programID ‖ marker) for the
// highest bump in [0, 255] whose digest is not a valid ed25519 point. Since
// the digest is not a curve point there is no private key for it, so only
// this service's authorization logic can move its funds.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/sheikh-saqib/derived-accounts-ledger/internal/models"
)

const (
	MaxSeedLength = 32
	MaxSeeds      = 16

	derivedAddressMarker = "ProgramDerivedAddress"
)

var (
	ErrDerivationExhausted = errors.New("no valid bump found for seeds")
	ErrSeedTooLong         = errors.New("seed exceeds maximum length")
	ErrTooManySeeds        = errors.New("too many seeds")

	errOnCurve = errors.New("address is on the ed25519 curve")
)

// isOnCurve reports whether b decodes to an ed25519 point.
var isOnCurve = func(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// Deriver computes the canonical sub-account address for an owner. It holds
// no mutable state and is safe for concurrent use.
type Deriver struct {
	programID models.PublicKey
	label     []byte
}

func NewDeriver(programID models.PublicKey, label string) (*Deriver, error) {
	if len(label) > MaxSeedLength {
		return nil, fmt.Errorf("label %q: %w", label, ErrSeedTooLong)
	}
	return &Deriver{programID: programID, label: []byte(label)}, nil
}

func (d *Deriver) ProgramID() models.PublicKey { return d.programID }

func (d *Deriver) Label() string { return string(d.label) }

// Derive returns the sub-account address and bump for owner.
func (d *Deriver) Derive(owner models.PublicKey) (models.PublicKey, uint8, error) {
	return FindAddress([][]byte{d.label, owner[:]}, d.programID)
}

// FindAddress searches bumps from 255 down to 0 and returns the first
// off-curve address.
func FindAddress(seeds [][]byte, programID models.PublicKey) (models.PublicKey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return models.PublicKey{}, 0, ErrTooManySeeds
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, errOnCurve) {
			return models.PublicKey{}, 0, err
		}
	}
	return models.PublicKey{}, 0, ErrDerivationExhausted
}

// CreateAddress hashes seeds with programID. It fails if the digest lands on
// the curve.
func CreateAddress(seeds [][]byte, programID models.PublicKey) (models.PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return models.PublicKey{}, ErrTooManySeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return models.PublicKey{}, ErrSeedTooLong
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(derivedAddressMarker))

	sum := h.Sum(nil)
	if isOnCurve(sum) {
		return models.PublicKey{}, errOnCurve
	}
	return models.PublicKeyFromBytes(sum)
}
