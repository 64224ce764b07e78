package deploy

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"d2dtreasury/core/events"
	"d2dtreasury/core/types"
	"d2dtreasury/native/common"
	"d2dtreasury/native/treasury"
)

var (
	errNilState       = errors.New("deploy engine: state not configured")
	errLedgerNotFound = errors.New("deploy engine: treasury ledger not initialised")

	ErrUnauthorized        = errors.New("deploy engine: unauthorized caller")
	ErrInvalidAmount       = errors.New("deploy engine: amount must be positive")
	ErrRequestNotFound     = errors.New("deploy engine: request not found")
	ErrHashMismatch        = errors.New("deploy engine: program hash mismatch")
	ErrDeveloperConflict   = errors.New("deploy engine: request held by another developer")
	ErrEscrowAssigned      = errors.New("deploy engine: escrow already funded")
	ErrInvalidRecovered    = errors.New("deploy engine: recovered funds exceed deployment cost")
	ErrInsufficientFunds   = errors.New("deploy engine: insufficient funding source balance")
	ErrUnknownEscrowSource = errors.New("deploy engine: unknown escrow funding source")
)

// Escrow funding sources. SourceLiquid lends deployed capital out of the
// principal vault; SourcePlatform spends accumulated platform fees instead,
// leaving backer principal untouched.
const (
	SourceLiquid   = "liquid"
	SourcePlatform = "platform"
)

const monthSeconds int64 = 30 * 24 * 60 * 60

type engineState interface {
	TreasuryGet() (*treasury.Ledger, bool)
	TreasuryPut(*treasury.Ledger) error
	DeployRequestGet(hash [32]byte) (*Request, bool)
	DeployRequestPut(*Request) error
	UserStatsGet(owner [20]byte) (*UserStats, bool)
	UserStatsPut(*UserStats) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

type deployEvent struct {
	evt *types.Event
}

func (e deployEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e deployEvent) Event() *types.Event { return e.evt }

// Engine drives the deploy-request lifecycle: recording verified developer
// payments as fee credits, disbursing deployment cost to ephemeral escrows,
// and settling the session on confirmation, failure, renewal or closure.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	vault        [20]byte
	rewardPool   [20]byte
	platformPool [20]byte
	nowFn        func() int64
}

// NewEngine creates a deploy engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVaults configures the custody addresses of the principal vault and the
// two fee pools. They must match the treasury engine's configuration.
func (e *Engine) SetVaults(vault, rewardPool, platformPool [20]byte) {
	e.vault = vault
	e.rewardPool = rewardPool
	e.platformPool = platformPool
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine.
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
	e.emitter.Emit(deployEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadLedger() (*treasury.Ledger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, ok := e.state.TreasuryGet()
	if !ok {
		return nil, errLedgerNotFound
	}
	return ledger, nil
}

func (e *Engine) loadRequest(hash [32]byte) (*Request, error) {
	request, ok := e.state.DeployRequestGet(hash)
	if !ok {
		return nil, ErrRequestNotFound
	}
	return request, nil
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
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return cloneAmount(ensureAccount(acc).Balance), nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneAmount(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("deploy: negative transfer amount")
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
		return fmt.Errorf("deploy: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// EscrowAddress derives the deterministic ephemeral custody identity for a
// request.
func EscrowAddress(requestID [32]byte) [20]byte {
	digest := ethcrypto.Keccak256([]byte("deploy/escrow"), requestID[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

// CreateRequest records a deploy request after the caller (the admin backend)
// has verified the developer's payment off-platform. The developer's fees
// move into the fee pools and are booked through the treasury ledger; the
// developer's session counters advance.
//
// A hash that already has a record is handled by the retry policy: the same
// developer may re-request in any state; a different developer takes over
// only when the stored record is reset-eligible.
func (e *Engine) CreateRequest(caller, developer [20]byte, programHash [32]byte, serviceFee, monthlyFee *big.Int, initialMonths uint32, deploymentCost *big.Int) (*Request, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	if caller != ledger.Admin {
		return nil, ErrUnauthorized
	}
	if !positive(serviceFee) || !positive(monthlyFee) || !positive(deploymentCost) || initialMonths == 0 {
		return nil, ErrInvalidAmount
	}

	now := e.now()
	request, ok := e.state.DeployRequestGet(programHash)
	switch {
	case !ok:
		request = &Request{
			RequestID:   programHash,
			Developer:   developer,
			ProgramHash: programHash,
			CreatedAt:   now,
		}
	case request.ProgramHash != programHash:
		return nil, ErrHashMismatch
	case request.Developer != developer:
		if !resetEligible(request) {
			return nil, ErrDeveloperConflict
		}
		request.RequestID = programHash
		request.Developer = developer
		request.CreatedAt = now
	}

	feeReward, err := rewardFee(serviceFee, monthlyFee, initialMonths)
	if err != nil {
		return nil, err
	}
	feePlatform := platformFee(deploymentCost)

	stats, ok := e.state.UserStatsGet(developer)
	if !ok {
		stats = NewUserStats(developer, now)
	}
	if err := stats.RecordDeploy(now); err != nil {
		return nil, err
	}

	if err := ledger.CreditFees(feeReward, feePlatform); err != nil {
		return nil, err
	}

	request.ServiceFee = cloneAmount(serviceFee)
	request.MonthlyFee = cloneAmount(monthlyFee)
	request.DeploymentCost = cloneAmount(deploymentCost)
	request.BorrowedAmount = big.NewInt(0)
	request.InitialMonths = initialMonths
	request.SubscriptionPaidUntil = now + int64(initialMonths)*monthSeconds
	request.EphemeralKey = OptionalKey{}
	request.DeployedProgramID = OptionalKey{}
	request.Status = StatusPendingDeployment

	if err := e.transfer(developer, e.rewardPool, feeReward); err != nil {
		return nil, err
	}
	if err := e.transfer(developer, e.platformPool, feePlatform); err != nil {
		return nil, err
	}
	if err := e.state.DeployRequestPut(request); err != nil {
		return nil, err
	}
	if err := e.state.UserStatsPut(stats); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	total := new(big.Int).Add(feeReward, feePlatform)
	e.emit(events.DeploymentRequested{
		RequestID:      request.RequestID,
		Developer:      developer,
		ProgramHash:    programHash,
		ServiceFee:     cloneAmount(serviceFee),
		MonthlyFee:     cloneAmount(monthlyFee),
		InitialMonths:  initialMonths,
		DeploymentCost: cloneAmount(deploymentCost),
		TotalPayment:   total,
		RequestedAt:    now,
	}.Event())
	return request.Clone(), nil
}

// FundEscrow disburses the recorded deployment cost to a newly derived
// ephemeral escrow identity. Funding from the liquid source lends out backer
// principal and reduces the ledger's liquid balance; funding from the
// platform source spends platform fees instead.
func (e *Engine) FundEscrow(caller [20]byte, programHash [32]byte, source string) (*Request, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	if caller != ledger.Admin {
		return nil, ErrUnauthorized
	}
	request, err := e.loadRequest(programHash)
	if err != nil {
		return nil, err
	}
	next, err := Transition(request.Status, OpFundEscrow)
	if err != nil {
		return nil, err
	}
	if request.EphemeralKey.Assigned {
		return nil, ErrEscrowAssigned
	}

	cost := cloneAmount(request.DeploymentCost)
	var fundingAccount [20]byte
	switch source {
	case SourceLiquid:
		if ledger.LiquidBalance.Cmp(cost) < 0 {
			return nil, ErrInsufficientFunds
		}
		ledger.LiquidBalance = new(big.Int).Sub(ledger.LiquidBalance, cost)
		fundingAccount = e.vault
	case SourcePlatform:
		if err := ledger.DebitPlatformPool(cost); err != nil {
			return nil, ErrInsufficientFunds
		}
		fundingAccount = e.platformPool
	default:
		return nil, ErrUnknownEscrowSource
	}

	escrow := EscrowAddress(request.RequestID)
	if err := e.transfer(fundingAccount, escrow, cost); err != nil {
		return nil, err
	}

	request.EphemeralKey = AssignKey(escrow)
	request.BorrowedAmount = cost
	request.Status = next

	if err := e.state.DeployRequestPut(request); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	e.emit(events.EscrowFunded{
		RequestID: request.RequestID,
		Escrow:    escrow,
		Amount:    cost,
		Source:    source,
		FundedAt:  e.now(),
	}.Event())
	return request.Clone(), nil
}

// ConfirmSuccess activates the session after a successful deployment. Up to
// recoveredFunds of the escrow balance returns to the principal vault and the
// ledger's liquid balance; the escrow may have been partially drained
// externally, so the recovery clamps to what is actually there.
func (e *Engine) ConfirmSuccess(caller [20]byte, programHash [32]byte, programID [20]byte, recoveredFunds *big.Int) (*Request, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	if caller != ledger.Admin {
		return nil, ErrUnauthorized
	}
	request, err := e.loadRequest(programHash)
	if err != nil {
		return nil, err
	}
	next, err := Transition(request.Status, OpConfirmSuccess)
	if err != nil {
		return nil, err
	}
	recovered := cloneAmount(recoveredFunds)
	if recovered.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if recovered.Cmp(request.DeploymentCost) > 0 {
		return nil, ErrInvalidRecovered
	}

	actual := big.NewInt(0)
	if escrow, ok := request.EphemeralKey.Get(); ok && recovered.Sign() > 0 {
		balance, err := e.accountBalance(escrow)
		if err != nil {
			return nil, err
		}
		actual = recovered
		if balance.Cmp(actual) < 0 {
			actual = balance
		}
		if err := e.transfer(escrow, e.vault, actual); err != nil {
			return nil, err
		}
	}
	if actual.Sign() > 0 {
		ledger.LiquidBalance = new(big.Int).Add(ledger.LiquidBalance, actual)
	}

	request.DeployedProgramID = AssignKey(programID)
	request.Status = next

	if err := e.state.DeployRequestPut(request); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	e.emit(events.DeploymentConfirmed{
		RequestID:      request.RequestID,
		Developer:      request.Developer,
		ProgramID:      programID,
		DeploymentCost: cloneAmount(request.DeploymentCost),
		RecoveredFunds: actual,
		ConfirmedAt:    e.now(),
	}.Event())
	return request.Clone(), nil
}

// ConfirmFailure fails the session: the developer's full fee payment for the
// period is refunded out of the reward pool, reversing the credit taken at
// request time, and whatever remains in the escrow is swept back to the
// principal vault.
func (e *Engine) ConfirmFailure(caller [20]byte, programHash [32]byte, reason string) (*Request, error) {
	return e.reverseRequest(caller, programHash, OpConfirmFailure, reason)
}

// Cancel abandons a pending request before its escrow is funded, refunding
// the developer's fees the same way a failed deployment does.
func (e *Engine) Cancel(caller [20]byte, programHash [32]byte) (*Request, error) {
	return e.reverseRequest(caller, programHash, OpCancel, "")
}

func (e *Engine) reverseRequest(caller [20]byte, programHash [32]byte, op Operation, reason string) (*Request, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	request, err := e.loadRequest(programHash)
	if err != nil {
		return nil, err
	}
	switch op {
	case OpConfirmFailure:
		if caller != ledger.Admin {
			return nil, ErrUnauthorized
		}
	case OpCancel:
		if caller != ledger.Admin && caller != request.Developer {
			return nil, ErrUnauthorized
		}
		if request.EphemeralKey.Assigned {
			return nil, ErrEscrowAssigned
		}
	}
	next, err := Transition(request.Status, op)
	if err != nil {
		return nil, err
	}

	refund, err := request.RewardFee()
	if err != nil {
		return nil, err
	}
	poolBalance, err := e.accountBalance(e.rewardPool)
	if err != nil {
		return nil, err
	}
	if poolBalance.Cmp(refund) < 0 {
		return nil, ErrInsufficientFunds
	}
	if err := ledger.DebitRewardPool(refund); err != nil {
		return nil, err
	}

	swept := big.NewInt(0)
	if escrow, ok := request.EphemeralKey.Get(); ok {
		balance, err := e.accountBalance(escrow)
		if err != nil {
			return nil, err
		}
		if balance.Sign() > 0 {
			if err := e.transfer(escrow, e.vault, balance); err != nil {
				return nil, err
			}
			ledger.LiquidBalance = new(big.Int).Add(ledger.LiquidBalance, balance)
			swept = balance
		}
	}

	if err := e.transfer(e.rewardPool, request.Developer, refund); err != nil {
		return nil, err
	}

	request.Status = next
	if stats, ok := e.state.UserStatsGet(request.Developer); ok {
		stats.ReleaseSession()
		if err := e.state.UserStatsPut(stats); err != nil {
			return nil, err
		}
	}
	if err := e.state.DeployRequestPut(request); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	switch op {
	case OpConfirmFailure:
		e.emit(events.DeploymentFailed{
			RequestID:    request.RequestID,
			Developer:    request.Developer,
			Reason:       reason,
			RefundAmount: refund,
			SweptFunds:   swept,
			FailedAt:     e.now(),
		}.Event())
	case OpCancel:
		e.emit(events.RequestCancelled{
			RequestID:    request.RequestID,
			Developer:    request.Developer,
			RefundAmount: refund,
			CancelledAt:  e.now(),
		}.Event())
	}
	return request.Clone(), nil
}

// PaySubscription extends an active or lapsed session by months of 30 days.
// Only the session's developer may pay; the payment is credited to the reward
// pool like any other fee.
func (e *Engine) PaySubscription(caller [20]byte, programHash [32]byte, months uint32) (*Request, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	request, err := e.loadRequest(programHash)
	if err != nil {
		return nil, err
	}
	if caller != request.Developer {
		return nil, ErrUnauthorized
	}
	if months == 0 {
		return nil, ErrInvalidAmount
	}
	next, err := Transition(request.Status, OpPaySubscription)
	if err != nil {
		return nil, err
	}

	payment := new(big.Int).Mul(request.MonthlyFee, new(big.Int).SetUint64(uint64(months)))
	if payment.Cmp(treasury.MaxAmount) > 0 {
		return nil, treasury.ErrAmountTooLarge
	}
	if err := ledger.CreditFees(payment, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.transfer(caller, e.rewardPool, payment); err != nil {
		return nil, err
	}

	request.SubscriptionPaidUntil += int64(months) * monthSeconds
	request.Status = next

	if err := e.state.DeployRequestPut(request); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	e.emit(events.SubscriptionPaid{
		RequestID:     request.RequestID,
		Developer:     request.Developer,
		Months:        months,
		PaymentAmount: payment,
		PaidUntil:     request.SubscriptionPaidUntil,
		PaidAt:        e.now(),
	}.Event())
	return request.Clone(), nil
}

// CloseAndRefund closes an active session and returns recovered funds from
// the given source account to the treasury's liquid balance. The recovered
// amount increases liquidity only, never total deposits.
func (e *Engine) CloseAndRefund(caller [20]byte, programHash [32]byte, refundSource [20]byte, recovered *big.Int) (*Request, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(ledger); err != nil {
		return nil, err
	}
	if caller != ledger.Admin {
		return nil, ErrUnauthorized
	}
	if !positive(recovered) {
		return nil, ErrInvalidAmount
	}
	request, err := e.loadRequest(programHash)
	if err != nil {
		return nil, err
	}
	next, err := Transition(request.Status, OpClose)
	if err != nil {
		return nil, err
	}

	amount := cloneAmount(recovered)
	if err := e.transfer(refundSource, e.vault, amount); err != nil {
		return nil, err
	}
	ledger.LiquidBalance = new(big.Int).Add(ledger.LiquidBalance, amount)

	request.Status = next
	if stats, ok := e.state.UserStatsGet(request.Developer); ok {
		stats.ReleaseSession()
		if err := e.state.UserStatsPut(stats); err != nil {
			return nil, err
		}
	}
	if err := e.state.DeployRequestPut(request); err != nil {
		return nil, err
	}
	if err := e.state.TreasuryPut(ledger); err != nil {
		return nil, err
	}

	programID, _ := request.DeployedProgramID.Get()
	e.emit(events.ProgramClosed{
		RequestID:      request.RequestID,
		ProgramID:      programID,
		Developer:      request.Developer,
		RecoveredFunds: amount,
		ClosedAt:       e.now(),
	}.Event())
	return request.Clone(), nil
}

// SuspendExpired sweeps the given requests for lapsed subscriptions: an
// active session past its paid-until mark becomes SubscriptionExpired, and a
// session already expired at the previous sweep becomes Suspended. Returns
// how many records changed state.
func (e *Engine) SuspendExpired(caller [20]byte, programHashes [][32]byte) (uint32, error) {
	ledger, err := e.loadLedger()
	if err != nil {
		return 0, err
	}
	if err := common.Guard(ledger); err != nil {
		return 0, err
	}
	if caller != ledger.Admin {
		return 0, ErrUnauthorized
	}
	now := e.now()
	var count uint32
	for _, hash := range programHashes {
		request, ok := e.state.DeployRequestGet(hash)
		if !ok {
			continue
		}
		if now <= request.SubscriptionPaidUntil {
			continue
		}
		var op Operation
		switch request.Status {
		case StatusActive:
			op = OpMarkExpired
		case StatusSubscriptionExpired:
			op = OpSuspend
		default:
			continue
		}
		next, err := Transition(request.Status, op)
		if err != nil {
			return count, err
		}
		request.Status = next
		if next == StatusSuspended {
			if stats, ok := e.state.UserStatsGet(request.Developer); ok {
				stats.ReleaseSession()
				if err := e.state.UserStatsPut(stats); err != nil {
					return count, err
				}
			}
		}
		if err := e.state.DeployRequestPut(request); err != nil {
			return count, err
		}
		count++
	}
	if count > 0 {
		e.emit(events.SessionsSuspended{Count: count, SuspendedAt: now}.Event())
	}
	return count, nil
}
