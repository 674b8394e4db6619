package models

// Caller is the principal behind a request as established by the
// authentication layer. Signed is set only when the request carried a valid
// signature by Identity over its payload.
type Caller struct {
	Identity PublicKey
	Signed   bool
}
