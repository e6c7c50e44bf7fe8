package supervisor

import (
	"time"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
)

func (s *Supervisor) recordStarted() {
	s.statsMu.Lock()
	s.total++
	s.statsMu.Unlock()
}

func (s *Supervisor) recordTimedOut() {
	s.statsMu.Lock()
	s.timedOut++
	s.statsMu.Unlock()
}

func (s *Supervisor) recordStalled() {
	s.statsMu.Lock()
	s.stalled++
	s.statsMu.Unlock()
}

// recordTerminal folds a sealed execution into the lifetime counters.
// Timeouts were already counted when detected, so a record that stays
// TIMEOUT adds only its duration here.
func (s *Supervisor) recordTerminal(final lib.State, dur time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.totalDuration += dur
	s.finished++

	switch final {
	case lib.StateCompleted:
		s.successful++
	case lib.StateRecovered:
		s.successful++
		s.recovered++
	case lib.StateFailed, lib.StateKilled:
		s.failed++
	}
}

// GetStatistics returns the aggregate lifetime view. Rates are guarded
// against empty denominators.
func (s *Supervisor) GetStatistics() lib.SupervisorStats {
	running := s.runningCount()

	s.lifeMu.Lock()
	var uptime time.Duration
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt)
	}
	s.lifeMu.Unlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	out := lib.SupervisorStats{
		TotalCommands:      s.total,
		SuccessfulCommands: s.successful,
		FailedCommands:     s.failed,
		TimeoutCommands:    s.timedOut,
		RecoveredCommands:  s.recovered,
		StalledCommands:    s.stalled,
		Running:            running,
		Uptime:             uptime,
	}
	if s.finished > 0 {
		out.AverageDuration = s.totalDuration / time.Duration(s.finished)
	}
	if s.total > 0 {
		out.SuccessRate = float64(s.successful) / float64(s.total) * 100
	}
	if denom := s.failed + s.timedOut; denom > 0 {
		out.RecoveryRate = float64(s.recovered) / float64(denom)
	}
	return out
}
