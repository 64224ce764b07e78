package treasury

import (
	"fmt"
	"math/big"
)

// Fixed fee rates in basis points. Developers pay a 1% reward fee and a 0.1%
// platform fee; the rates are recorded on the ledger but never change at
// runtime.
const (
	RewardFeeBps   uint64 = 100
	PlatformFeeBps uint64 = 10
)

// Ledger is the singleton treasury record. It tracks the aggregate principal
// deposited by backers, the liquid slice of it available for withdrawal or
// lending, the two fee pools, and the reward-per-share accumulator used to
// distribute fee income without iterating over depositors.
//
// The tracked pool balances shadow the custody accounts held by the external
// ledger; each must stay at or below its custody balance (settlement may lag
// by at most one operation).
type Ledger struct {
	RewardPerShare      *big.Int `json:"rewardPerShare"`
	TotalDeposited      *big.Int `json:"totalDeposited"`
	LiquidBalance       *big.Int `json:"liquidBalance"`
	RewardPoolBalance   *big.Int `json:"rewardPoolBalance"`
	PlatformPoolBalance *big.Int `json:"platformPoolBalance"`
	RewardFeeRateBps    uint64   `json:"rewardFeeRateBps"`
	PlatformFeeRateBps  uint64   `json:"platformFeeRateBps"`
	Admin               [20]byte `json:"admin"`
	DevWallet           [20]byte `json:"devWallet"`
	EmergencyPause      bool     `json:"emergencyPause"`
}

// NewLedger returns a freshly initialised ledger owned by admin.
func NewLedger(admin, devWallet [20]byte) *Ledger {
	return &Ledger{
		RewardPerShare:      big.NewInt(0),
		TotalDeposited:      big.NewInt(0),
		LiquidBalance:       big.NewInt(0),
		RewardPoolBalance:   big.NewInt(0),
		PlatformPoolBalance: big.NewInt(0),
		RewardFeeRateBps:    RewardFeeBps,
		PlatformFeeRateBps:  PlatformFeeBps,
		Admin:               admin,
		DevWallet:           devWallet,
	}
}

// Reset reinitialises every tracked balance and the accumulator. This is the
// only sanctioned decrease of RewardPerShare.
func (l *Ledger) Reset(admin, devWallet [20]byte) {
	l.RewardPerShare = big.NewInt(0)
	l.TotalDeposited = big.NewInt(0)
	l.LiquidBalance = big.NewInt(0)
	l.RewardPoolBalance = big.NewInt(0)
	l.PlatformPoolBalance = big.NewInt(0)
	l.RewardFeeRateBps = RewardFeeBps
	l.PlatformFeeRateBps = PlatformFeeBps
	l.Admin = admin
	l.DevWallet = devWallet
	l.EmergencyPause = false
}

// IsPaused reports the emergency pause flag so the common guard can consult
// the ledger directly.
func (l *Ledger) IsPaused() bool {
	if l == nil {
		return false
	}
	return l.EmergencyPause
}

// Clone returns a deep copy of the ledger so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := *l
	clone.RewardPerShare = cloneAmount(l.RewardPerShare)
	clone.TotalDeposited = cloneAmount(l.TotalDeposited)
	clone.LiquidBalance = cloneAmount(l.LiquidBalance)
	clone.RewardPoolBalance = cloneAmount(l.RewardPoolBalance)
	clone.PlatformPoolBalance = cloneAmount(l.PlatformPoolBalance)
	return &clone
}

// SanitizeLedger validates the supplied ledger and returns a cloned instance
// with non-nil balance fields. The original value is not mutated.
func SanitizeLedger(l *Ledger) (*Ledger, error) {
	if l == nil {
		return nil, fmt.Errorf("nil ledger")
	}
	clone := l.Clone()
	if clone.RewardPerShare.Sign() < 0 {
		return nil, fmt.Errorf("ledger reward per share must be non-negative")
	}
	for name, v := range map[string]*big.Int{
		"total deposited":       clone.TotalDeposited,
		"liquid balance":        clone.LiquidBalance,
		"reward pool balance":   clone.RewardPoolBalance,
		"platform pool balance": clone.PlatformPoolBalance,
	} {
		if err := checkAmount(v); err != nil {
			return nil, fmt.Errorf("ledger %s: %w", name, err)
		}
	}
	return clone, nil
}

// CreditFees books developer fees against the two pools and pushes the
// accumulator forward. When nothing is deposited the reward fee is retained in
// the pool with no accumulator update; those orphan rewards are absorbed by
// the first subsequent deposit.
func (l *Ledger) CreditFees(feeReward, feePlatform *big.Int) error {
	if err := checkAmount(feeReward); err != nil {
		return err
	}
	if err := checkAmount(feePlatform); err != nil {
		return err
	}
	platform, err := checkedAdd(l.PlatformPoolBalance, feePlatform)
	if err != nil {
		return err
	}
	reward, err := checkedAdd(l.RewardPoolBalance, feeReward)
	if err != nil {
		return err
	}
	if l.TotalDeposited.Sign() > 0 {
		delta, err := mulDiv(feeReward, Precision, l.TotalDeposited)
		if err != nil {
			return err
		}
		l.RewardPerShare = new(big.Int).Add(l.RewardPerShare, delta)
	}
	l.PlatformPoolBalance = platform
	l.RewardPoolBalance = reward
	return nil
}

// CreditRewardPool adds to the tracked reward pool balance.
func (l *Ledger) CreditRewardPool(amount *big.Int) error {
	next, err := checkedAdd(l.RewardPoolBalance, amount)
	if err != nil {
		return err
	}
	l.RewardPoolBalance = next
	return nil
}

// DebitRewardPool removes claimed or refunded rewards from the tracked reward
// pool balance.
func (l *Ledger) DebitRewardPool(amount *big.Int) error {
	next, err := checkedSub(l.RewardPoolBalance, amount)
	if err != nil {
		return err
	}
	l.RewardPoolBalance = next
	return nil
}

// CreditPlatformPool adds to the tracked platform pool balance.
func (l *Ledger) CreditPlatformPool(amount *big.Int) error {
	next, err := checkedAdd(l.PlatformPoolBalance, amount)
	if err != nil {
		return err
	}
	l.PlatformPoolBalance = next
	return nil
}

// DebitPlatformPool removes funds from the tracked platform pool balance.
func (l *Ledger) DebitPlatformPool(amount *big.Int) error {
	next, err := checkedSub(l.PlatformPoolBalance, amount)
	if err != nil {
		return err
	}
	l.PlatformPoolBalance = next
	return nil
}
