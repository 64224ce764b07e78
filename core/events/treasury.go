package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"d2dtreasury/core/types"
)

const (
	// TypeDepositMade captures principal entering the treasury from a backer.
	TypeDepositMade = "treasury.depositMade"
	// TypeWithdrawalMade captures principal leaving the treasury to a backer.
	TypeWithdrawalMade = "treasury.withdrawalMade"
	// TypeRewardsClaimed is emitted when a backer collects accrued fee income.
	TypeRewardsClaimed = "treasury.rewardsClaimed"
	// TypeRewardCredited is emitted when developer fees are credited to the pools.
	TypeRewardCredited = "treasury.rewardCredited"
	// TypePauseToggled is emitted when the emergency pause flag changes.
	TypePauseToggled = "treasury.pauseToggled"
	// TypeAdminWithdrawal records privileged fund movement out of a fee pool.
	TypeAdminWithdrawal = "treasury.adminWithdrawal"
	// TypeLiquidBalanceSynced records a reconciliation of the tracked liquid balance.
	TypeLiquidBalanceSynced = "treasury.liquidBalanceSynced"
	// TypeReinitialized records a full controlled reset of the ledger.
	TypeReinitialized = "treasury.reinitialized"
)

// DepositMade captures a completed backer deposit and the resulting aggregates.
type DepositMade struct {
	Backer         [20]byte
	Amount         *big.Int
	Deposited      *big.Int
	TotalDeposited *big.Int
	LiquidBalance  *big.Int
	DepositedAt    int64
}

// EventType satisfies the Event interface.
func (DepositMade) EventType() string { return TypeDepositMade }

// Event converts the structured payload into a broadcastable event.
func (e DepositMade) Event() *types.Event {
	attrs := map[string]string{
		"backer":         hex.EncodeToString(e.Backer[:]),
		"amount":         formatAmount(e.Amount),
		"deposited":      formatAmount(e.Deposited),
		"totalDeposited": formatAmount(e.TotalDeposited),
		"liquidBalance":  formatAmount(e.LiquidBalance),
		"depositedAt":    strconv.FormatInt(e.DepositedAt, 10),
	}
	return &types.Event{Type: TypeDepositMade, Attributes: attrs}
}

// WithdrawalMade captures a completed principal withdrawal.
type WithdrawalMade struct {
	Backer         [20]byte
	Amount         *big.Int
	Remaining      *big.Int
	TotalDeposited *big.Int
	LiquidBalance  *big.Int
	WithdrawnAt    int64
}

// EventType satisfies the Event interface.
func (WithdrawalMade) EventType() string { return TypeWithdrawalMade }

// Event converts the structured payload into a broadcastable event.
func (e WithdrawalMade) Event() *types.Event {
	attrs := map[string]string{
		"backer":         hex.EncodeToString(e.Backer[:]),
		"amount":         formatAmount(e.Amount),
		"remaining":      formatAmount(e.Remaining),
		"totalDeposited": formatAmount(e.TotalDeposited),
		"liquidBalance":  formatAmount(e.LiquidBalance),
		"withdrawnAt":    strconv.FormatInt(e.WithdrawnAt, 10),
	}
	return &types.Event{Type: TypeWithdrawalMade, Attributes: attrs}
}

// RewardsClaimed captures the reward payout for a backer position.
type RewardsClaimed struct {
	Backer         [20]byte
	Amount         *big.Int
	ClaimedTotal   *big.Int
	RewardPerShare *big.Int
	ClaimedAt      int64
}

// EventType satisfies the Event interface.
func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"backer":       hex.EncodeToString(e.Backer[:]),
		"amount":       formatAmount(e.Amount),
		"claimedTotal": formatAmount(e.ClaimedTotal),
		"claimedAt":    strconv.FormatInt(e.ClaimedAt, 10),
	}
	if e.RewardPerShare != nil {
		attrs["rewardPerShare"] = e.RewardPerShare.String()
	}
	return &types.Event{Type: TypeRewardsClaimed, Attributes: attrs}
}

// RewardCredited captures a fee credit and the accumulator it produced.
type RewardCredited struct {
	FeeReward      *big.Int
	FeePlatform    *big.Int
	RewardPerShare *big.Int
	TotalDeposited *big.Int
	CreditedAt     int64
}

// EventType satisfies the Event interface.
func (RewardCredited) EventType() string { return TypeRewardCredited }

// Event converts the structured payload into a broadcastable event.
func (e RewardCredited) Event() *types.Event {
	attrs := map[string]string{
		"feeReward":      formatAmount(e.FeeReward),
		"feePlatform":    formatAmount(e.FeePlatform),
		"totalDeposited": formatAmount(e.TotalDeposited),
		"creditedAt":     strconv.FormatInt(e.CreditedAt, 10),
	}
	if e.RewardPerShare != nil {
		attrs["rewardPerShare"] = e.RewardPerShare.String()
	}
	return &types.Event{Type: TypeRewardCredited, Attributes: attrs}
}

// PauseToggled captures a change to the emergency pause flag.
type PauseToggled struct {
	Paused    bool
	ToggledAt int64
}

// EventType satisfies the Event interface.
func (PauseToggled) EventType() string { return TypePauseToggled }

// Event converts the structured payload into a broadcastable event.
func (e PauseToggled) Event() *types.Event {
	return &types.Event{Type: TypePauseToggled, Attributes: map[string]string{
		"paused":    strconv.FormatBool(e.Paused),
		"toggledAt": strconv.FormatInt(e.ToggledAt, 10),
	}}
}

// AdminWithdrawal records privileged fund movement out of a fee pool.
type AdminWithdrawal struct {
	Admin       [20]byte
	Pool        string
	Amount      *big.Int
	Destination [20]byte
	Reason      string
	WithdrawnAt int64
}

// EventType satisfies the Event interface.
func (AdminWithdrawal) EventType() string { return TypeAdminWithdrawal }

// Event converts the structured payload into a broadcastable event.
func (e AdminWithdrawal) Event() *types.Event {
	attrs := map[string]string{
		"admin":       hex.EncodeToString(e.Admin[:]),
		"pool":        e.Pool,
		"amount":      formatAmount(e.Amount),
		"destination": hex.EncodeToString(e.Destination[:]),
		"withdrawnAt": strconv.FormatInt(e.WithdrawnAt, 10),
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeAdminWithdrawal, Attributes: attrs}
}

// LiquidBalanceSynced records a reconciliation of the tracked liquid balance
// against the custody balance of the principal vault.
type LiquidBalanceSynced struct {
	Previous *big.Int
	Updated  *big.Int
	SyncedAt int64
}

// EventType satisfies the Event interface.
func (LiquidBalanceSynced) EventType() string { return TypeLiquidBalanceSynced }

// Event converts the structured payload into a broadcastable event.
func (e LiquidBalanceSynced) Event() *types.Event {
	return &types.Event{Type: TypeLiquidBalanceSynced, Attributes: map[string]string{
		"previous": formatAmount(e.Previous),
		"updated":  formatAmount(e.Updated),
		"syncedAt": strconv.FormatInt(e.SyncedAt, 10),
	}}
}

// Reinitialized records a controlled reset of the treasury ledger.
type Reinitialized struct {
	Admin           [20]byte
	DevWallet       [20]byte
	ReinitializedAt int64
}

// EventType satisfies the Event interface.
func (Reinitialized) EventType() string { return TypeReinitialized }

// Event converts the structured payload into a broadcastable event.
func (e Reinitialized) Event() *types.Event {
	return &types.Event{Type: TypeReinitialized, Attributes: map[string]string{
		"admin":           hex.EncodeToString(e.Admin[:]),
		"devWallet":       hex.EncodeToString(e.DevWallet[:]),
		"reinitializedAt": strconv.FormatInt(e.ReinitializedAt, 10),
	}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
