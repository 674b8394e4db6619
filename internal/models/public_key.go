package models

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength is the size in bytes of owner identities and derived addresses.
const PublicKeyLength = 32

var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is a 32-byte identity. Owners hold the matching ed25519 private
// key; derived addresses are chosen so that none exists.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 string into a PublicKey.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != PublicKeyLength {
		return k, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPublicKey, PublicKeyLength, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// PublicKeyFromBytes copies b into a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var k PublicKey
	if len(b) != PublicKeyLength {
		return k, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidPublicKey, PublicKeyLength, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeyLength)
	copy(b, k[:])
	return b
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
