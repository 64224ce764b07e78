package common

import "errors"

// ErrPaused is returned by every fund-moving operation while the treasury's
// emergency pause flag is set.
var ErrPaused = errors.New("treasury paused")

// PauseView exposes the emergency pause flag to the engines.
type PauseView interface {
	IsPaused() bool
}

// Guard rejects the calling operation while the pause flag is set. A nil view
// means pause control is not wired and the operation proceeds.
func Guard(p PauseView) error {
	if p == nil {
		return nil
	}
	if p.IsPaused() {
		return ErrPaused
	}
	return nil
}
