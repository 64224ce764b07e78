package types

import "math/big"

// Account is the custody record for a single identity. The treasury vault,
// reward pool and platform pool each own one of these, as does every backer
// and developer wallet plus any ephemeral escrow spun up for a deployment.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Clone returns a deep copy so callers can mutate without touching the stored
// instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	return &clone
}
