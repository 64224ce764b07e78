package deploy

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"d2dtreasury/native/treasury"
)

// OptionalKey is an identity slot that may not have been assigned yet, such
// as the ephemeral escrow holder before funding or the deployed program
// identity before confirmation. Callers must check Assigned before using the
// address.
type OptionalKey struct {
	Assigned bool     `json:"assigned"`
	Address  [20]byte `json:"address"`
}

// AssignKey returns an assigned OptionalKey for the address.
func AssignKey(addr [20]byte) OptionalKey {
	return OptionalKey{Assigned: true, Address: addr}
}

// Get returns the address and whether it has been assigned.
func (k OptionalKey) Get() ([20]byte, bool) {
	if !k.Assigned {
		return [20]byte{}, false
	}
	return k.Address, true
}

func (k OptionalKey) String() string {
	if !k.Assigned {
		return "unassigned"
	}
	return hex.EncodeToString(k.Address[:])
}

// Request tracks a developer's financed deployment session from the verified
// payment through funding, confirmation and closure. Requests are keyed by
// the program hash; a terminal record may be reset in place when the same
// hash is requested again.
type Request struct {
	RequestID             [32]byte    `json:"requestId"`
	Developer             [20]byte    `json:"developer"`
	ProgramHash           [32]byte    `json:"programHash"`
	ServiceFee            *big.Int    `json:"serviceFee"`
	MonthlyFee            *big.Int    `json:"monthlyFee"`
	DeploymentCost        *big.Int    `json:"deploymentCost"`
	BorrowedAmount        *big.Int    `json:"borrowedAmount"`
	InitialMonths         uint32      `json:"initialMonths"`
	SubscriptionPaidUntil int64       `json:"subscriptionPaidUntil"`
	EphemeralKey          OptionalKey `json:"ephemeralKey"`
	DeployedProgramID     OptionalKey `json:"deployedProgramId"`
	Status                Status      `json:"status"`
	CreatedAt             int64       `json:"createdAt"`
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	clone.ServiceFee = cloneAmount(r.ServiceFee)
	clone.MonthlyFee = cloneAmount(r.MonthlyFee)
	clone.DeploymentCost = cloneAmount(r.DeploymentCost)
	clone.BorrowedAmount = cloneAmount(r.BorrowedAmount)
	return &clone
}

// RewardFee is the portion of the developer's payment routed to the reward
// pool: the full subscription period plus the one-off service fee.
func (r *Request) RewardFee() (*big.Int, error) {
	return rewardFee(r.ServiceFee, r.MonthlyFee, r.InitialMonths)
}

// PlatformFee is the portion routed to the platform pool: 0.1% of the
// deployment cost.
func (r *Request) PlatformFee() *big.Int {
	return platformFee(r.DeploymentCost)
}

func rewardFee(serviceFee, monthlyFee *big.Int, months uint32) (*big.Int, error) {
	total := new(big.Int).Mul(monthlyFee, new(big.Int).SetUint64(uint64(months)))
	total.Add(total, serviceFee)
	if total.Cmp(treasury.MaxAmount) > 0 {
		return nil, treasury.ErrAmountTooLarge
	}
	return total, nil
}

func platformFee(deploymentCost *big.Int) *big.Int {
	return new(big.Int).Quo(deploymentCost, big.NewInt(1000))
}

// SanitizeRequest validates the supplied request and returns a cloned
// instance with non-nil amount fields.
func SanitizeRequest(r *Request) (*Request, error) {
	if r == nil {
		return nil, fmt.Errorf("nil deploy request")
	}
	clone := r.Clone()
	for name, v := range map[string]*big.Int{
		"service fee":     clone.ServiceFee,
		"monthly fee":     clone.MonthlyFee,
		"deployment cost": clone.DeploymentCost,
		"borrowed amount": clone.BorrowedAmount,
	} {
		if v == nil || v.Sign() < 0 {
			return nil, fmt.Errorf("deploy request %s must be non-negative", name)
		}
		if v.Cmp(treasury.MaxAmount) > 0 {
			return nil, fmt.Errorf("deploy request %s out of range", name)
		}
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("deploy request status %d unknown", clone.Status)
	}
	return clone, nil
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
