package interfaces

import "github.com/sheikh-saqib/derived-accounts-ledger/internal/models"

type AddressDeriver interface {
	Derive(owner models.PublicKey) (address models.PublicKey, bump uint8, err error)
}
