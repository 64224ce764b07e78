package treasury

import (
	"errors"
	"math/big"
)

// Precision scales the reward-per-share accumulator.
var Precision = big.NewInt(1_000_000_000_000)

// MaxAmount bounds any single tracked amount: one billion whole units of 1e9
// base units. Larger values are treated as corrupted upstream input.
var MaxAmount = new(big.Int).Mul(big.NewInt(1_000_000_000), big.NewInt(1_000_000_000))

var (
	ErrAmountTooLarge   = errors.New("treasury: amount exceeds maximum")
	ErrAmountNegative   = errors.New("treasury: amount must not be negative")
	ErrBalanceUnderflow = errors.New("treasury: balance underflow")
	errDivisionByZero   = errors.New("treasury: division by zero")
)

// checkAmount validates that v lies in [0, MaxAmount]. The bound reproduces
// the checked 64-bit arithmetic of the on-chain ledger this engine mirrors:
// arbitrary-precision integers cannot wrap, so range violations stand in for
// overflow and abort the calling operation.
func checkAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrAmountNegative
	}
	if v.Cmp(MaxAmount) > 0 {
		return ErrAmountTooLarge
	}
	return nil
}

// checkedAdd returns a+b, failing when either input or the sum leaves the
// tracked-amount range.
func checkedAdd(a, b *big.Int) (*big.Int, error) {
	if err := checkAmount(a); err != nil {
		return nil, err
	}
	if err := checkAmount(b); err != nil {
		return nil, err
	}
	sum := new(big.Int).Add(a, b)
	if sum.Cmp(MaxAmount) > 0 {
		return nil, ErrAmountTooLarge
	}
	return sum, nil
}

// checkedSub returns a-b, failing when the result would be negative.
func checkedSub(a, b *big.Int) (*big.Int, error) {
	if err := checkAmount(a); err != nil {
		return nil, err
	}
	if err := checkAmount(b); err != nil {
		return nil, err
	}
	if a.Cmp(b) < 0 {
		return nil, ErrBalanceUnderflow
	}
	return new(big.Int).Sub(a, b), nil
}

// mulDiv returns floor(a*b/div). Truncation is deliberate: residual dust stays
// in the pool rather than being distributed.
func mulDiv(a, b, div *big.Int) (*big.Int, error) {
	if a == nil || b == nil || a.Sign() < 0 || b.Sign() < 0 {
		return nil, ErrAmountNegative
	}
	if div == nil || div.Sign() == 0 {
		return nil, errDivisionByZero
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, div), nil
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
