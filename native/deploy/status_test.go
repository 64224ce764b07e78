package deploy

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		current Status
		op      Operation
		next    Status
		ok      bool
	}{
		{StatusPendingDeployment, OpFundEscrow, StatusPendingDeployment, true},
		{StatusPendingDeployment, OpConfirmSuccess, StatusActive, true},
		{StatusPendingDeployment, OpConfirmFailure, StatusFailed, true},
		{StatusPendingDeployment, OpCancel, StatusCancelled, true},
		{StatusActive, OpPaySubscription, StatusActive, true},
		{StatusSubscriptionExpired, OpPaySubscription, StatusActive, true},
		{StatusActive, OpClose, StatusClosed, true},
		{StatusActive, OpMarkExpired, StatusSubscriptionExpired, true},
		{StatusSubscriptionExpired, OpSuspend, StatusSuspended, true},
		{StatusFailed, OpConfirmFailure, StatusUnknown, false},
		{StatusClosed, OpClose, StatusUnknown, false},
		{StatusActive, OpConfirmSuccess, StatusUnknown, false},
		{StatusSuspended, OpPaySubscription, StatusUnknown, false},
		{StatusCancelled, OpFundEscrow, StatusUnknown, false},
	}
	for _, tc := range cases {
		next, err := Transition(tc.current, tc.op)
		if tc.ok {
			if err != nil {
				t.Fatalf("%s + %s: unexpected error %v", tc.current, tc.op, err)
			}
			if next != tc.next {
				t.Fatalf("%s + %s = %s, want %s", tc.current, tc.op, next, tc.next)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("%s + %s: expected ErrInvalidStatus, got %v", tc.current, tc.op, err)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []Status{StatusFailed, StatusCancelled, StatusClosed, StatusSubscriptionExpired, StatusSuspended}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s not terminal", s)
		}
	}
	for _, s := range []Status{StatusPendingDeployment, StatusActive, StatusUnknown} {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
}

func TestResetEligibility(t *testing.T) {
	pending := &Request{Status: StatusPendingDeployment}
	if !resetEligible(pending) {
		t.Fatalf("unfunded pending request should be reset-eligible")
	}
	pending.EphemeralKey = AssignKey(addr(0x05))
	if resetEligible(pending) {
		t.Fatalf("funded pending request must not be reset-eligible")
	}
	if resetEligible(&Request{Status: StatusActive}) {
		t.Fatalf("active request must not be reset-eligible")
	}
	if !resetEligible(&Request{Status: StatusSuspended}) {
		t.Fatalf("suspended request should be reset-eligible")
	}
}
