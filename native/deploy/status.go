package deploy

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a deploy request.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPendingDeployment
	StatusActive
	StatusSubscriptionExpired
	StatusSuspended
	StatusFailed
	StatusCancelled
	StatusClosed
)

// ErrInvalidStatus is returned when an operation is attempted against a
// request whose status does not permit it.
var ErrInvalidStatus = errors.New("deploy engine: invalid request status for operation")

func (s Status) String() string {
	switch s {
	case StatusPendingDeployment:
		return "pendingDeployment"
	case StatusActive:
		return "active"
	case StatusSubscriptionExpired:
		return "subscriptionExpired"
	case StatusSuspended:
		return "suspended"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a defined lifecycle state.
func (s Status) Valid() bool {
	return s >= StatusPendingDeployment && s <= StatusClosed
}

// Terminal reports whether s ends a session. Terminal requests are
// reset-eligible re-entry points for a new request under the same hash.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusClosed, StatusSubscriptionExpired, StatusSuspended:
		return true
	default:
		return false
	}
}

// Operation names a state-machine transition trigger.
type Operation uint8

const (
	OpFundEscrow Operation = iota
	OpConfirmSuccess
	OpConfirmFailure
	OpPaySubscription
	OpClose
	OpCancel
	OpMarkExpired
	OpSuspend
)

func (op Operation) String() string {
	switch op {
	case OpFundEscrow:
		return "fundEscrow"
	case OpConfirmSuccess:
		return "confirmSuccess"
	case OpConfirmFailure:
		return "confirmFailure"
	case OpPaySubscription:
		return "paySubscription"
	case OpClose:
		return "close"
	case OpCancel:
		return "cancel"
	case OpMarkExpired:
		return "markExpired"
	case OpSuspend:
		return "suspend"
	default:
		return "unknown"
	}
}

// transitions is the single source of truth for transition legality:
// current status x operation -> resulting status. Every operation consults it
// through Transition instead of re-deriving status predicates inline.
var transitions = map[Operation]map[Status]Status{
	OpFundEscrow: {
		StatusPendingDeployment: StatusPendingDeployment,
	},
	OpConfirmSuccess: {
		StatusPendingDeployment: StatusActive,
	},
	OpConfirmFailure: {
		StatusPendingDeployment: StatusFailed,
	},
	OpPaySubscription: {
		StatusActive:              StatusActive,
		StatusSubscriptionExpired: StatusActive,
	},
	OpClose: {
		StatusActive: StatusClosed,
	},
	OpCancel: {
		StatusPendingDeployment: StatusCancelled,
	},
	OpMarkExpired: {
		StatusActive: StatusSubscriptionExpired,
	},
	OpSuspend: {
		StatusSubscriptionExpired: StatusSuspended,
	},
}

// Transition returns the status resulting from applying op to current, or
// ErrInvalidStatus when the table does not permit it.
func Transition(current Status, op Operation) (Status, error) {
	next, ok := transitions[op][current]
	if !ok {
		return StatusUnknown, fmt.Errorf("%w: %s does not accept %s", ErrInvalidStatus, current, op)
	}
	return next, nil
}

// resetEligible reports whether a stored request may be reset in place for a
// different developer: any terminal state, or a pending request whose escrow
// was never funded. An active session never yields to another identity.
func resetEligible(r *Request) bool {
	if r.Status.Terminal() {
		return true
	}
	return r.Status == StatusPendingDeployment && !r.EphemeralKey.Assigned
}
