package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"d2dtreasury/core/types"
)

const (
	// TypeDeploymentRequested is emitted when a verified payment turns into a deploy request.
	TypeDeploymentRequested = "deploy.requested"
	// TypeEscrowFunded is emitted when deployment cost is disbursed to an ephemeral escrow.
	TypeEscrowFunded = "deploy.escrowFunded"
	// TypeDeploymentConfirmed is emitted when a deployment succeeds and the session activates.
	TypeDeploymentConfirmed = "deploy.confirmed"
	// TypeDeploymentFailed is emitted when a deployment fails and fees are reversed.
	TypeDeploymentFailed = "deploy.failed"
	// TypeSubscriptionPaid is emitted when a developer extends a session subscription.
	TypeSubscriptionPaid = "deploy.subscriptionPaid"
	// TypeProgramClosed is emitted when a deployed program is closed and funds recovered.
	TypeProgramClosed = "deploy.programClosed"
	// TypeRequestCancelled is emitted when a developer abandons a pending request.
	TypeRequestCancelled = "deploy.requestCancelled"
	// TypeSessionsSuspended is emitted after an expiry sweep over active sessions.
	TypeSessionsSuspended = "deploy.sessionsSuspended"
)

// DeploymentRequested captures a newly recorded deploy request and its fee split.
type DeploymentRequested struct {
	RequestID      [32]byte
	Developer      [20]byte
	ProgramHash    [32]byte
	ServiceFee     *big.Int
	MonthlyFee     *big.Int
	InitialMonths  uint32
	DeploymentCost *big.Int
	TotalPayment   *big.Int
	RequestedAt    int64
}

// EventType satisfies the Event interface.
func (DeploymentRequested) EventType() string { return TypeDeploymentRequested }

// Event converts the structured payload into a broadcastable event.
func (e DeploymentRequested) Event() *types.Event {
	attrs := map[string]string{
		"requestId":      hex.EncodeToString(e.RequestID[:]),
		"developer":      hex.EncodeToString(e.Developer[:]),
		"programHash":    hex.EncodeToString(e.ProgramHash[:]),
		"serviceFee":     formatAmount(e.ServiceFee),
		"monthlyFee":     formatAmount(e.MonthlyFee),
		"initialMonths":  strconv.FormatUint(uint64(e.InitialMonths), 10),
		"deploymentCost": formatAmount(e.DeploymentCost),
		"totalPayment":   formatAmount(e.TotalPayment),
		"requestedAt":    strconv.FormatInt(e.RequestedAt, 10),
	}
	return &types.Event{Type: TypeDeploymentRequested, Attributes: attrs}
}

// EscrowFunded captures deployment cost moving into an ephemeral escrow account.
type EscrowFunded struct {
	RequestID [32]byte
	Escrow    [20]byte
	Amount    *big.Int
	Source    string
	FundedAt  int64
}

// EventType satisfies the Event interface.
func (EscrowFunded) EventType() string { return TypeEscrowFunded }

// Event converts the structured payload into a broadcastable event.
func (e EscrowFunded) Event() *types.Event {
	return &types.Event{Type: TypeEscrowFunded, Attributes: map[string]string{
		"requestId": hex.EncodeToString(e.RequestID[:]),
		"escrow":    hex.EncodeToString(e.Escrow[:]),
		"amount":    formatAmount(e.Amount),
		"source":    e.Source,
		"fundedAt":  strconv.FormatInt(e.FundedAt, 10),
	}}
}

// DeploymentConfirmed captures a successful deployment confirmation.
type DeploymentConfirmed struct {
	RequestID      [32]byte
	Developer      [20]byte
	ProgramID      [20]byte
	DeploymentCost *big.Int
	RecoveredFunds *big.Int
	ConfirmedAt    int64
}

// EventType satisfies the Event interface.
func (DeploymentConfirmed) EventType() string { return TypeDeploymentConfirmed }

// Event converts the structured payload into a broadcastable event.
func (e DeploymentConfirmed) Event() *types.Event {
	return &types.Event{Type: TypeDeploymentConfirmed, Attributes: map[string]string{
		"requestId":      hex.EncodeToString(e.RequestID[:]),
		"developer":      hex.EncodeToString(e.Developer[:]),
		"programId":      hex.EncodeToString(e.ProgramID[:]),
		"deploymentCost": formatAmount(e.DeploymentCost),
		"recoveredFunds": formatAmount(e.RecoveredFunds),
		"confirmedAt":    strconv.FormatInt(e.ConfirmedAt, 10),
	}}
}

// DeploymentFailed captures a failed deployment, the fee reversal and escrow sweep.
type DeploymentFailed struct {
	RequestID    [32]byte
	Developer    [20]byte
	Reason       string
	RefundAmount *big.Int
	SweptFunds   *big.Int
	FailedAt     int64
}

// EventType satisfies the Event interface.
func (DeploymentFailed) EventType() string { return TypeDeploymentFailed }

// Event converts the structured payload into a broadcastable event.
func (e DeploymentFailed) Event() *types.Event {
	attrs := map[string]string{
		"requestId":    hex.EncodeToString(e.RequestID[:]),
		"developer":    hex.EncodeToString(e.Developer[:]),
		"refundAmount": formatAmount(e.RefundAmount),
		"sweptFunds":   formatAmount(e.SweptFunds),
		"failedAt":     strconv.FormatInt(e.FailedAt, 10),
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: TypeDeploymentFailed, Attributes: attrs}
}

// SubscriptionPaid captures a subscription extension payment.
type SubscriptionPaid struct {
	RequestID     [32]byte
	Developer     [20]byte
	Months        uint32
	PaymentAmount *big.Int
	PaidUntil     int64
	PaidAt        int64
}

// EventType satisfies the Event interface.
func (SubscriptionPaid) EventType() string { return TypeSubscriptionPaid }

// Event converts the structured payload into a broadcastable event.
func (e SubscriptionPaid) Event() *types.Event {
	return &types.Event{Type: TypeSubscriptionPaid, Attributes: map[string]string{
		"requestId":     hex.EncodeToString(e.RequestID[:]),
		"developer":     hex.EncodeToString(e.Developer[:]),
		"months":        strconv.FormatUint(uint64(e.Months), 10),
		"paymentAmount": formatAmount(e.PaymentAmount),
		"paidUntil":     strconv.FormatInt(e.PaidUntil, 10),
		"paidAt":        strconv.FormatInt(e.PaidAt, 10),
	}}
}

// ProgramClosed captures a program closure and the recovered principal.
type ProgramClosed struct {
	RequestID      [32]byte
	ProgramID      [20]byte
	Developer      [20]byte
	RecoveredFunds *big.Int
	ClosedAt       int64
}

// EventType satisfies the Event interface.
func (ProgramClosed) EventType() string { return TypeProgramClosed }

// Event converts the structured payload into a broadcastable event.
func (e ProgramClosed) Event() *types.Event {
	return &types.Event{Type: TypeProgramClosed, Attributes: map[string]string{
		"requestId":      hex.EncodeToString(e.RequestID[:]),
		"programId":      hex.EncodeToString(e.ProgramID[:]),
		"developer":      hex.EncodeToString(e.Developer[:]),
		"recoveredFunds": formatAmount(e.RecoveredFunds),
		"closedAt":       strconv.FormatInt(e.ClosedAt, 10),
	}}
}

// RequestCancelled captures a developer abandoning a pending request.
type RequestCancelled struct {
	RequestID    [32]byte
	Developer    [20]byte
	RefundAmount *big.Int
	CancelledAt  int64
}

// EventType satisfies the Event interface.
func (RequestCancelled) EventType() string { return TypeRequestCancelled }

// Event converts the structured payload into a broadcastable event.
func (e RequestCancelled) Event() *types.Event {
	return &types.Event{Type: TypeRequestCancelled, Attributes: map[string]string{
		"requestId":    hex.EncodeToString(e.RequestID[:]),
		"developer":    hex.EncodeToString(e.Developer[:]),
		"refundAmount": formatAmount(e.RefundAmount),
		"cancelledAt":  strconv.FormatInt(e.CancelledAt, 10),
	}}
}

// SessionsSuspended captures the outcome of an expiry sweep.
type SessionsSuspended struct {
	Count       uint32
	SuspendedAt int64
}

// EventType satisfies the Event interface.
func (SessionsSuspended) EventType() string { return TypeSessionsSuspended }

// Event converts the structured payload into a broadcastable event.
func (e SessionsSuspended) Event() *types.Event {
	return &types.Event{Type: TypeSessionsSuspended, Attributes: map[string]string{
		"count":       strconv.FormatUint(uint64(e.Count), 10),
		"suspendedAt": strconv.FormatInt(e.SuspendedAt, 10),
	}}
}
