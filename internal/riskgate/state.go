// Package riskgate enforces account-level circuit breakers and the ordered
// admission checks applied to every fused decision.
package riskgate

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the account risk counters.
type Snapshot struct {
	Equity            float64   `json:"equity"`
	DailyPnLFrac      float64   `json:"daily_pnl_frac"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	CooldownUntil     time.Time `json:"cooldown_until"`
	Paused            bool      `json:"paused"`
}

// AccountState holds the session-wide risk counters shared by all symbols and
// modes. Every mutation for a closed trade happens under one lock acquisition
// so near-simultaneous closes cannot lose updates.
type AccountState struct {
	mu                sync.Mutex
	equity            float64
	dailyPnLFrac      float64
	consecutiveLosses int
	cooldownUntil     time.Time
	paused            bool
	day               time.Time

	now func() time.Time
}

// NewAccountState creates account state with a starting equity.
func NewAccountState(equity float64) *AccountState {
	s := &AccountState{equity: equity, now: time.Now}
	s.day = dayOf(s.now())
	return s
}

// WithClock replaces the wall clock. Test hook.
func (s *AccountState) WithClock(now func() time.Time) *AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.day = dayOf(now())
	return s
}

// Snapshot returns a consistent copy of the counters, rolling the day boundary
// first.
func (s *AccountState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked()
	return Snapshot{
		Equity:            s.equity,
		DailyPnLFrac:      s.dailyPnLFrac,
		ConsecutiveLosses: s.consecutiveLosses,
		CooldownUntil:     s.cooldownUntil,
		Paused:            s.paused,
	}
}

// Equity returns current equity.
func (s *AccountState) Equity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equity
}

// SetEquity updates equity from a balance refresh.
func (s *AccountState) SetEquity(equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
}

// CooldownActive reports whether the loss-streak cooldown is still in force.
func (s *AccountState) CooldownActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.cooldownUntil)
}

// Pause flips the account into the paused state. Only Resume or the next day
// boundary clears it.
func (s *AccountState) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume clears the paused state. Explicit operator action.
func (s *AccountState) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.consecutiveLosses = 0
	s.cooldownUntil = time.Time{}
}

// RecordClose applies one closed trade as a single atomic step: PnL, the
// loss-streak counter, and cooldown activation when the streak limit is hit.
func (s *AccountState) RecordClose(pnl, pnlFrac float64, lossStreakLimit int, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollDayLocked()

	s.equity += pnl
	s.dailyPnLFrac += pnlFrac

	if pnl < 0 {
		s.consecutiveLosses++
		if lossStreakLimit > 0 && s.consecutiveLosses >= lossStreakLimit && cooldown > 0 {
			s.cooldownUntil = s.now().Add(cooldown)
		}
	} else {
		s.consecutiveLosses = 0
	}
}

// rollDayLocked resets the daily counters and the daily-loss pause at the day
// boundary. Caller holds the lock.
func (s *AccountState) rollDayLocked() {
	today := dayOf(s.now())
	if today.After(s.day) {
		s.day = today
		s.dailyPnLFrac = 0
		s.paused = false
	}
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
