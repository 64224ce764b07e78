package treasury

import (
	"fmt"
	"math/big"
)

// Position is a single backer's stake in the principal pool. RewardDebt is the
// accumulator snapshot taken at the last settlement; the difference between
// the current accumulated value and the debt is the backer's unclaimed income.
type Position struct {
	Owner           [20]byte `json:"owner"`
	DepositedAmount *big.Int `json:"depositedAmount"`
	RewardDebt      *big.Int `json:"rewardDebt"`
	ClaimedTotal    *big.Int `json:"claimedTotal"`
	Active          bool     `json:"active"`
}

// NewPosition returns an empty active position owned by the backer.
func NewPosition(owner [20]byte) *Position {
	return &Position{
		Owner:           owner,
		DepositedAmount: big.NewInt(0),
		RewardDebt:      big.NewInt(0),
		ClaimedTotal:    big.NewInt(0),
		Active:          true,
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.DepositedAmount = cloneAmount(p.DepositedAmount)
	clone.RewardDebt = cloneAmount(p.RewardDebt)
	clone.ClaimedTotal = cloneAmount(p.ClaimedTotal)
	return &clone
}

// SettleDebt locks in the rewards accrued so far by snapshotting the
// accumulator: RewardDebt = DepositedAmount * rewardPerShare. Settling twice
// with no intervening state change is a no-op.
func (p *Position) SettleDebt(rewardPerShare *big.Int) error {
	if rewardPerShare == nil || rewardPerShare.Sign() < 0 {
		return ErrAmountNegative
	}
	if err := checkAmount(p.DepositedAmount); err != nil {
		return err
	}
	p.RewardDebt = new(big.Int).Mul(p.DepositedAmount, rewardPerShare)
	return nil
}

// Claimable computes the pending reward at the given accumulator value:
// (DepositedAmount * rewardPerShare - RewardDebt) / Precision, truncating.
func (p *Position) Claimable(rewardPerShare *big.Int) (*big.Int, error) {
	if rewardPerShare == nil || rewardPerShare.Sign() < 0 {
		return nil, ErrAmountNegative
	}
	if err := checkAmount(p.DepositedAmount); err != nil {
		return nil, err
	}
	accumulated := new(big.Int).Mul(p.DepositedAmount, rewardPerShare)
	if accumulated.Cmp(p.RewardDebt) < 0 {
		return nil, ErrBalanceUnderflow
	}
	pending := accumulated.Sub(accumulated, p.RewardDebt)
	return pending.Quo(pending, Precision), nil
}

// SanitizePosition validates the supplied position and returns a cloned
// instance with non-nil amount fields.
func SanitizePosition(p *Position) (*Position, error) {
	if p == nil {
		return nil, fmt.Errorf("nil position")
	}
	clone := p.Clone()
	if err := checkAmount(clone.DepositedAmount); err != nil {
		return nil, fmt.Errorf("position deposited amount: %w", err)
	}
	if err := checkAmount(clone.ClaimedTotal); err != nil {
		return nil, fmt.Errorf("position claimed total: %w", err)
	}
	if clone.RewardDebt.Sign() < 0 {
		return nil, fmt.Errorf("position reward debt must be non-negative")
	}
	return clone, nil
}
