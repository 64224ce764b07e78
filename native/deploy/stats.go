package deploy

import (
	"d2dtreasury/native/common"
)

// UserStats tracks a developer's session counters. The daily counter resets
// when more than a day has elapsed since the last reset.
type UserStats struct {
	Owner          [20]byte `json:"owner"`
	ActiveSessions uint32   `json:"activeSessions"`
	DailyDeploys   uint32   `json:"dailyDeploys"`
	TotalDeploys   uint64   `json:"totalDeploys"`
	LastReset      int64    `json:"lastReset"`
}

// NewUserStats returns zeroed counters for the developer with the daily
// window anchored at now.
func NewUserStats(owner [20]byte, now int64) *UserStats {
	return &UserStats{Owner: owner, LastReset: now}
}

// Clone returns a copy of the stats record.
func (s *UserStats) Clone() *UserStats {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// RecordDeploy counts one new session: rolls the daily window, then bumps the
// session, daily and lifetime counters with overflow checks.
func (s *UserStats) RecordDeploy(now int64) error {
	window, err := common.RollWindow(common.WindowNow{
		Count:       s.DailyDeploys,
		WindowStart: s.LastReset,
	}, now, 1)
	if err != nil {
		return err
	}
	active, err := common.CheckedAdd32(s.ActiveSessions, 1)
	if err != nil {
		return err
	}
	total, err := common.CheckedAdd64(s.TotalDeploys, 1)
	if err != nil {
		return err
	}
	s.DailyDeploys = window.Count
	s.LastReset = window.WindowStart
	s.ActiveSessions = active
	s.TotalDeploys = total
	return nil
}

// ReleaseSession decrements the active-session counter when a session reaches
// a terminal state. Saturates at zero.
func (s *UserStats) ReleaseSession() {
	if s.ActiveSessions > 0 {
		s.ActiveSessions--
	}
}
