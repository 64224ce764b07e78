package treasury

import (
	"errors"
	"math/big"
	"testing"
)

func TestCheckAmountBounds(t *testing.T) {
	if err := checkAmount(big.NewInt(0)); err != nil {
		t.Fatalf("zero rejected: %v", err)
	}
	if err := checkAmount(MaxAmount); err != nil {
		t.Fatalf("max rejected: %v", err)
	}
	over := new(big.Int).Add(MaxAmount, big.NewInt(1))
	if err := checkAmount(over); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge, got %v", err)
	}
	if err := checkAmount(big.NewInt(-1)); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
	if err := checkAmount(nil); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative for nil, got %v", err)
	}
}

func TestCheckedAddOverflow(t *testing.T) {
	sum, err := checkedAdd(big.NewInt(40), big.NewInt(2))
	if err != nil {
		t.Fatalf("checked add: %v", err)
	}
	if sum.Int64() != 42 {
		t.Fatalf("sum = %d, want 42", sum.Int64())
	}
	if _, err := checkedAdd(MaxAmount, big.NewInt(1)); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge, got %v", err)
	}
}

func TestCheckedSubUnderflow(t *testing.T) {
	diff, err := checkedSub(big.NewInt(10), big.NewInt(4))
	if err != nil {
		t.Fatalf("checked sub: %v", err)
	}
	if diff.Int64() != 6 {
		t.Fatalf("diff = %d, want 6", diff.Int64())
	}
	if _, err := checkedSub(big.NewInt(4), big.NewInt(10)); !errors.Is(err, ErrBalanceUnderflow) {
		t.Fatalf("expected ErrBalanceUnderflow, got %v", err)
	}
}

func TestMulDivTruncates(t *testing.T) {
	out, err := mulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2))
	if err != nil {
		t.Fatalf("mul div: %v", err)
	}
	if out.Int64() != 10 {
		t.Fatalf("floor(7*3/2) = %d, want 10", out.Int64())
	}
	if _, err := mulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)); err == nil {
		t.Fatalf("expected division-by-zero error")
	}
	if _, err := mulDiv(big.NewInt(-1), big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrAmountNegative) {
		t.Fatalf("expected ErrAmountNegative, got %v", err)
	}
}
