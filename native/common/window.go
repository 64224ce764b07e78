package common

import (
	"errors"
	"math"
)

var ErrCounterOverflow = errors.New("window counter overflow")

// WindowSeconds is the length of the rolling daily window used for per-user
// deployment counters.
const WindowSeconds int64 = 86_400

// WindowNow captures the usage counters for one rolling window.
type WindowNow struct {
	Count       uint32
	WindowStart int64
}

// RollWindow returns the counters that apply at nowUnix, resetting them when
// more than WindowSeconds have elapsed since the window opened. The returned
// value reflects the post-increment state; prev is never mutated.
func RollWindow(prev WindowNow, nowUnix int64, add uint32) (WindowNow, error) {
	next := prev
	if nowUnix-prev.WindowStart > WindowSeconds {
		next = WindowNow{WindowStart: nowUnix}
	}
	if add > 0 {
		if next.Count > math.MaxUint32-add {
			return prev, ErrCounterOverflow
		}
		next.Count += add
	}
	return next, nil
}

// CheckedAdd32 increments a uint32 counter, failing instead of wrapping.
func CheckedAdd32(counter, add uint32) (uint32, error) {
	if counter > math.MaxUint32-add {
		return counter, ErrCounterOverflow
	}
	return counter + add, nil
}

// CheckedAdd64 increments a uint64 counter, failing instead of wrapping.
func CheckedAdd64(counter, add uint64) (uint64, error) {
	if counter > math.MaxUint64-add {
		return counter, ErrCounterOverflow
	}
	return counter + add, nil
}
