package treasury

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"d2dtreasury/core/events"
	"d2dtreasury/core/types"
	"d2dtreasury/native/common"
)

var (
	errNilState       = errors.New("treasury engine: state not configured")
	errLedgerNotFound = errors.New("treasury engine: ledger not initialised")

	ErrLedgerExists          = errors.New("treasury engine: ledger already initialised")
	ErrUnauthorized          = errors.New("treasury engine: unauthorized caller")
	ErrInvalidAmount         = errors.New("treasury engine: amount must be positive")
	ErrPositionInactive      = errors.New("treasury engine: position inactive")
	ErrInsufficientDeposit   = errors.New("treasury engine: amount exceeds deposited principal")
	ErrInsufficientLiquidity = errors.New("treasury engine: insufficient liquid balance")
	ErrInsufficientPoolFunds = errors.New("treasury engine: insufficient pool funds")
	ErrNothingToClaim        = errors.New("treasury engine: no rewards to claim")
	ErrDepositsOutstanding   = errors.New("treasury engine: deposits outstanding")
)

type engineState interface {
	TreasuryGet() (*Ledger, bool)
	TreasuryPut(*Ledger) error
	PositionGet(owner [20]byte) (*Position, bool)
	PositionPut(*Position) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

type treasuryEvent struct {
	evt *types.Event
}

func (e treasuryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e treasuryEvent) Event() *types.Event { return e.evt }

// Engine wires the treasury accounting logic with external state and event
// emission. Value moves between four custody identities: the principal vault
// holding backer deposits, the reward and platform fee pools, and the
// counterparty wallet of whichever operation is executing.
type Engine struct {
	state            engineState
	emitter          events.Emitter
	vault            [20]byte
	rewardPool       [20]byte
	platformPool     [20]byte
	surplusAuthority [20]byte
	reserveMinimum   *big.Int
	nowFn            func() int64
}

// NewEngine creates a treasury engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:          events.NoopEmitter{},
		surplusAuthority: SurplusAuthority,
		reserveMinimum:   big.NewInt(0),
		nowFn:            func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVaults configures the custody addresses of the principal vault and the
// two fee pools.
func (e *Engine) SetVaults(vault, rewardPool, platformPool [20]byte) {
	e.vault = vault
	e.rewardPool = rewardPool
	e.platformPool = platformPool
}

// SetSurplusAuthority overrides the identity allowed to withdraw surplus from
// the reward pool. Primarily intended for tests; production deployments keep
// the compiled-in authority.
func (e *Engine) SetSurplusAuthority(addr [20]byte) { e.surplusAuthority = addr }

// SetReserveMinimum configures the slice of the principal vault's custody
// balance excluded from liquid-balance reconciliation.
func (e *Engine) SetReserveMinimum(min *big.Int) {
	e.reserveMinimum = cloneAmount(min)
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(treasuryEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadLedger() (*Ledger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, ok := e.state.TreasuryGet()
	if !ok {
		return nil, errLedgerNotFound
	}
	return ledger, nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) accountBalance(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return cloneAmount(ensureAccount(acc).Balance), nil
}

// transfer moves value between two custody accounts, failing when the source
// balance is insufficient.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneAmount(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("treasury: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("treasury: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// Initialize creates the singleton ledger record. It fails if one already
// exists; use Reinitialize for a controlled reset.
func (e *Engine) Initialize(admin, devWallet [20]byte) (*Ledger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.state.TreasuryGet(); ok {
		return nil, ErrLedgerExists
	}
	ledger := NewLedger(admin, devWallet)
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}
	return ledger.Clone(), nil
}

// Deposit moves principal from the backer into the vault and credits the
// position. Pending rewards are settled at the pre-deposit accumulator so new
// capital is not retroactively credited for past fee events; when orphan
// rewards are waiting (fees credited while nothing was deposited) the first
// deposit absorbs them and can claim them straight away.
func (e *Engine) Deposit(backer [20]byte, amount *big.Int) (*Position, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	position, ok := e.state.PositionGet(backer)
	isNew := !ok
	switch {
	case isNew:
		position = NewPosition(backer)
	case !position.Active:
		// Reactivation after a full withdrawal: the record is empty, so
		// treat it like a fresh position.
		if position.DepositedAmount.Sign() != 0 {
			return nil, ErrPositionInactive
		}
		position = NewPosition(backer)
	default:
		if err := position.SettleDebt(ledger.RewardPerShare); err != nil {
			return nil, err
		}
	}

	absorbOrphans := ledger.TotalDeposited.Sign() == 0 && ledger.RewardPoolBalance.Sign() > 0

	deposited, err := checkedAdd(position.DepositedAmount, amount)
	if err != nil {
		return nil, err
	}
	totalDeposited, err := checkedAdd(ledger.TotalDeposited, amount)
	if err != nil {
		return nil, err
	}
	liquid, err := checkedAdd(ledger.LiquidBalance, amount)
	if err != nil {
		return nil, err
	}
	position.DepositedAmount = deposited
	ledger.TotalDeposited = totalDeposited
	ledger.LiquidBalance = liquid

	if err := e.transfer(backer, e.vault, amount); err != nil {
		return nil, err
	}

	// Re-settle against the pre-absorption accumulator so the new principal
	// baseline is captured without retroactive credit past this point.
	if err := position.SettleDebt(ledger.RewardPerShare); err != nil {
		return nil, err
	}

	// Orphan-reward absorption: fees credited while total_deposited was zero
	// have no accumulator entry. Amortise them over this deposit after the
	// debt snapshot so the depositor can claim them immediately.
	if absorbOrphans {
		excess, err := mulDiv(ledger.RewardPoolBalance, Precision, amount)
		if err != nil {
			return nil, err
		}
		ledger.RewardPerShare = new(big.Int).Add(ledger.RewardPerShare, excess)
	}

	if err := e.state.PositionPut(position); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	e.emit(events.DepositMade{
		Backer:         backer,
		Amount:         cloneAmount(amount),
		Deposited:      cloneAmount(position.DepositedAmount),
		TotalDeposited: cloneAmount(ledger.TotalDeposited),
		LiquidBalance:  cloneAmount(ledger.LiquidBalance),
		DepositedAt:    e.now(),
	}.Event())
	return position.Clone(), nil
}

// Withdraw returns principal to the backer. Only principal moves; accrued
// rewards stay claimable through Claim. A withdrawal exceeding the ledger's
// liquid balance fails outright rather than queueing.
func (e *Engine) Withdraw(backer [20]byte, amount *big.Int) (*Position, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	position, ok := e.state.PositionGet(backer)
	if !ok || !position.Active {
		return nil, ErrPositionInactive
	}
	if position.DepositedAmount.Cmp(amount) < 0 {
		return nil, ErrInsufficientDeposit
	}
	if ledger.LiquidBalance.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}
	vaultBalance, err := e.accountBalance(e.vault)
	if err != nil {
		return nil, err
	}
	if vaultBalance.Cmp(amount) < 0 {
		return nil, ErrInsufficientPoolFunds
	}

	remaining, err := checkedSub(position.DepositedAmount, amount)
	if err != nil {
		return nil, err
	}
	position.DepositedAmount = remaining
	if remaining.Sign() == 0 {
		position.Active = false
		position.RewardDebt = big.NewInt(0)
	} else if err := position.SettleDebt(ledger.RewardPerShare); err != nil {
		return nil, err
	}

	totalDeposited, err := checkedSub(ledger.TotalDeposited, amount)
	if err != nil {
		return nil, err
	}
	liquid, err := checkedSub(ledger.LiquidBalance, amount)
	if err != nil {
		return nil, err
	}
	ledger.TotalDeposited = totalDeposited
	ledger.LiquidBalance = liquid

	if err := e.transfer(e.vault, backer, amount); err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(position); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	e.emit(events.WithdrawalMade{
		Backer:         backer,
		Amount:         cloneAmount(amount),
		Remaining:      cloneAmount(position.DepositedAmount),
		TotalDeposited: cloneAmount(ledger.TotalDeposited),
		LiquidBalance:  cloneAmount(ledger.LiquidBalance),
		WithdrawnAt:    e.now(),
	}.Event())
	return position.Clone(), nil
}

// Claim pays out the backer's pending rewards from the reward pool. Both the
// tracked pool balance and the custody balance must cover the payout; the
// double check tolerates settlement drift without overdrawing custody.
func (e *Engine) Claim(backer [20]byte) (*big.Int, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	position, ok := e.state.PositionGet(backer)
	if !ok || !position.Active {
		return nil, ErrPositionInactive
	}
	claimable, err := position.Claimable(ledger.RewardPerShare)
	if err != nil {
		return nil, err
	}
	if claimable.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	if ledger.RewardPoolBalance.Cmp(claimable) < 0 {
		return nil, ErrInsufficientPoolFunds
	}
	poolBalance, err := e.accountBalance(e.rewardPool)
	if err != nil {
		return nil, err
	}
	if poolBalance.Cmp(claimable) < 0 {
		return nil, ErrInsufficientPoolFunds
	}

	claimedTotal, err := checkedAdd(position.ClaimedTotal, claimable)
	if err != nil {
		return nil, err
	}
	position.ClaimedTotal = claimedTotal
	if err := position.SettleDebt(ledger.RewardPerShare); err != nil {
		return nil, err
	}
	if err := ledger.DebitRewardPool(claimable); err != nil {
		return nil, err
	}

	if err := e.transfer(e.rewardPool, backer, claimable); err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(position); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	e.emit(events.RewardsClaimed{
		Backer:         backer,
		Amount:         cloneAmount(claimable),
		ClaimedTotal:   cloneAmount(position.ClaimedTotal),
		RewardPerShare: cloneAmount(ledger.RewardPerShare),
		ClaimedAt:      e.now(),
	}.Event())
	return claimable, nil
}

// CreditFees records developer fee income: the caller's funds move into the
// two pool custody accounts and the ledger books them, pushing the
// reward-per-share accumulator when deposits exist. Admin only; at least one
// of the two amounts must be positive.
func (e *Engine) CreditFees(caller [20]byte, feeReward, feePlatform *big.Int) error {
	ledger, err := e.loadLedger()
	if err != nil {
		return err
	}
	if err := common.Guard(ledger); err != nil {
		return err
	}
	if caller != ledger.Admin {
		return ErrUnauthorized
	}
	reward := cloneAmount(feeReward)
	platform := cloneAmount(feePlatform)
	if reward.Sign() == 0 && platform.Sign() == 0 {
		return ErrInvalidAmount
	}
	if err := ledger.CreditFees(reward, platform); err != nil {
		return err
	}
	if err := e.transfer(caller, e.rewardPool, reward); err != nil {
		return err
	}
	if err := e.transfer(caller, e.platformPool, platform); err != nil {
		return err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return err
	}

	e.emit(events.RewardCredited{
		FeeReward:      reward,
		FeePlatform:    platform,
		RewardPerShare: cloneAmount(ledger.RewardPerShare),
		TotalDeposited: cloneAmount(ledger.TotalDeposited),
		CreditedAt:     e.now(),
	}.Event())
	return nil
}

// PendingRewards reports the claimable amount for a backer without mutating
// any state.
func (e *Engine) PendingRewards(backer [20]byte) (*big.Int, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	position, ok := e.state.PositionGet(backer)
	if !ok || !position.Active {
		return big.NewInt(0), nil
	}
	return position.Claimable(ledger.RewardPerShare)
}
