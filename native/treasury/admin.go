package treasury

import (
	"math/big"
	"strings"

	"d2dtreasury/core/events"
)

// PoolReward and PoolPlatform name the fee pools in admin withdrawal events.
const (
	PoolReward   = "reward"
	PoolPlatform = "platform"
)

// SurplusAuthority is the compiled-in identity allowed to sweep surplus from
// the reward pool. It is distinct from the ledger admin so surplus recovery
// can be delegated without handing over pause or fee controls.
var SurplusAuthority = [20]byte{
	0xd2, 0xd0, 0x5e, 0xc1, 0x44, 0x7a, 0x9f, 0x31, 0x0b, 0xe6,
	0x27, 0x90, 0x58, 0x3c, 0xaa, 0x14, 0x7d, 0x02, 0x66, 0x8f,
}

// SetPaused flips the emergency pause flag. Admin only; unlike the
// operational entry points it works while the treasury is already paused so
// the flag can be cleared again.
func (e *Engine) SetPaused(caller [20]byte, paused bool) error {
	ledger, err := e.loadLedger()
	if err != nil {
		return err
	}
	if caller != ledger.Admin {
		return ErrUnauthorized
	}
	if ledger.EmergencyPause == paused {
		return nil
	}
	ledger.EmergencyPause = paused
	if err := e.state.TreasuryPut(ledger); err != nil {
		return err
	}
	e.emit(events.PauseToggled{Paused: paused, ToggledAt: e.now()}.Event())
	return nil
}

// WithdrawPlatformPool moves accumulated platform fees to the dev wallet.
// Admin only. The withdrawal is capped by both the tracked pool balance and
// the pool's custody balance.
func (e *Engine) WithdrawPlatformPool(caller [20]byte, amount *big.Int, reason string) error {
	ledger, err := e.loadLedger()
	if err != nil {
		return err
	}
	if caller != ledger.Admin {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if ledger.PlatformPoolBalance.Cmp(amount) < 0 {
		return ErrInsufficientPoolFunds
	}
	custody, err := e.accountBalance(e.platformPool)
	if err != nil {
		return err
	}
	if custody.Cmp(amount) < 0 {
		return ErrInsufficientPoolFunds
	}
	if err := ledger.DebitPlatformPool(amount); err != nil {
		return err
	}
	if err := e.transfer(e.platformPool, ledger.DevWallet, amount); err != nil {
		return err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return err
	}
	e.emit(events.AdminWithdrawal{
		Admin:       caller,
		Pool:        PoolPlatform,
		Amount:      cloneAmount(amount),
		Destination: ledger.DevWallet,
		Reason:      strings.TrimSpace(reason),
		WithdrawnAt: e.now(),
	}.Event())
	return nil
}

// WithdrawRewardSurplus sweeps excess funds out of the reward pool to the
// given destination. Only the surplus authority may call it. The sweep never
// touches the tracked reward pool balance owed to backers: it only recovers
// custody funds above that obligation.
func (e *Engine) WithdrawRewardSurplus(caller, destination [20]byte, amount *big.Int) error {
	ledger, err := e.loadLedger()
	if err != nil {
		return err
	}
	if caller != e.surplusAuthority {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	custody, err := e.accountBalance(e.rewardPool)
	if err != nil {
		return err
	}
	surplus := new(big.Int).Sub(custody, ledger.RewardPoolBalance)
	if surplus.Sign() < 0 {
		surplus = big.NewInt(0)
	}
	if surplus.Cmp(amount) < 0 {
		return ErrInsufficientPoolFunds
	}
	if err := e.transfer(e.rewardPool, destination, amount); err != nil {
		return err
	}
	e.emit(events.AdminWithdrawal{
		Admin:       caller,
		Pool:        PoolReward,
		Amount:      cloneAmount(amount),
		Destination: destination,
		Reason:      "surplus recovery",
		WithdrawnAt: e.now(),
	}.Event())
	return nil
}

// SyncLiquidBalance reconciles the tracked liquid balance against the vault's
// custody balance, less the configured reserve minimum. Admin only. Used to
// recover from drift after out-of-band transfers into the vault.
func (e *Engine) SyncLiquidBalance(caller [20]byte) (*big.Int, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if caller != ledger.Admin {
		return nil, ErrUnauthorized
	}
	custody, err := e.accountBalance(e.vault)
	if err != nil {
		return nil, err
	}
	updated := new(big.Int).Sub(custody, e.reserveMinimum)
	if updated.Sign() < 0 {
		updated = big.NewInt(0)
	}
	if err := checkAmount(updated); err != nil {
		return nil, err
	}
	previous := cloneAmount(ledger.LiquidBalance)
	if previous.Cmp(updated) == 0 {
		return updated, nil
	}
	ledger.LiquidBalance = updated
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}
	e.emit(events.LiquidBalanceSynced{
		Previous: previous,
		Updated:  cloneAmount(updated),
		SyncedAt: e.now(),
	}.Event())
	return cloneAmount(updated), nil
}

// Reinitialize performs a controlled reset of the ledger, zeroing the pools
// and the accumulator. Admin only, and only while no principal remains
// deposited: resetting under open positions would strand backer funds.
func (e *Engine) Reinitialize(caller, admin, devWallet [20]byte) error {
	ledger, err := e.loadLedger()
	if err != nil {
		return err
	}
	if caller != ledger.Admin {
		return ErrUnauthorized
	}
	if ledger.TotalDeposited.Sign() != 0 {
		return ErrDepositsOutstanding
	}
	ledger.Reset(admin, devWallet)
	if err := e.state.TreasuryPut(ledger); err != nil {
		return err
	}
	e.emit(events.Reinitialized{
		Admin:           admin,
		DevWallet:       devWallet,
		ReinitializedAt: e.now(),
	}.Event())
	return nil
}
